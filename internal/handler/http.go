// Package handler exposes the turn engine over HTTP and websocket.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"fable-server/internal/middleware"
	"fable-server/internal/models"
	"fable-server/internal/notify"
	"fable-server/internal/service"
	"fable-server/internal/storage"
)

// Handler wires the HTTP routes to the turn service.
type Handler struct {
	svc      service.TurnService
	assets   storage.ObjectStore
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the HTTP handler. hub may be nil to disable websockets.
func NewHandler(svc service.TurnService, assets storage.ObjectStore, hub *notify.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		assets: assets,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("HTTPHandler"),
	}
}

// NewRouter builds the gin engine with all routes and middleware attached.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ZapLogger(logger))
	router.Use(cors.Default())

	prom := ginprometheus.NewPrometheus("fable_http")
	prom.Use(router)

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.POST("/stories", h.CreateStory)
		api.GET("/stories/:storyId", h.GetStory)
		api.POST("/stories/:storyId/enter", h.EnterGame)
		api.POST("/stories/:storyId/scenes/:sceneId/choose", h.ChooseAction)
		api.GET("/scenes/:sceneId", h.GetScene)
		api.GET("/assets/*key", h.GetAsset)
	}

	if h.hub != nil {
		router.GET("/ws/:storyId", h.Subscribe)
	}
	return router
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateStory handles POST /api/stories.
func (h *Handler) CreateStory(c *gin.Context) {
	var req CreateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	story, err := h.svc.CreateStory(c.Request.Context(), service.CreateStoryParams{
		OwnerID:            req.OwnerID,
		Persona:            req.Persona,
		Genre:              req.Genre,
		AgeRating:          req.AgeRating,
		OpeningDescription: req.OpeningDescription,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, story)
}

// GetStory handles GET /api/stories/:storyId.
func (h *Handler) GetStory(c *gin.Context) {
	storyID, ok := h.pathUUID(c, "storyId")
	if !ok {
		return
	}
	story, err := h.svc.GetStory(c.Request.Context(), storyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

// EnterGame handles POST /api/stories/:storyId/enter.
func (h *Handler) EnterGame(c *gin.Context) {
	storyID, ok := h.pathUUID(c, "storyId")
	if !ok {
		return
	}
	story, scene, err := h.svc.EnterGame(c.Request.Context(), storyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, EnterGameResponse{Story: story, Scene: scene})
}

// ChooseAction handles POST /api/stories/:storyId/scenes/:sceneId/choose. The
// scene id pins the turn to the scene the client saw, which makes retries of
// the same request idempotent.
func (h *Handler) ChooseAction(c *gin.Context) {
	storyID, ok := h.pathUUID(c, "storyId")
	if !ok {
		return
	}
	sceneID, ok := h.pathUUID(c, "sceneId")
	if !ok {
		return
	}
	var req ChooseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	result, err := h.svc.ChooseAction(c.Request.Context(), storyID, sceneID, req.Direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTurnResponse(result))
}

// GetScene handles GET /api/scenes/:sceneId.
func (h *Handler) GetScene(c *gin.Context) {
	sceneID, ok := h.pathUUID(c, "sceneId")
	if !ok {
		return
	}
	scene, err := h.svc.GetScene(c.Request.Context(), sceneID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

// GetAsset handles GET /api/assets/*key, streaming stored asset bytes.
func (h *Handler) GetAsset(c *gin.Context) {
	// The wildcard param keeps its leading slash.
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, contentType, err := h.assets.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "asset not found"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// Subscribe handles GET /ws/:storyId, upgrading to a websocket that receives
// scene updates for the story.
func (h *Handler) Subscribe(c *gin.Context) {
	storyID, ok := h.pathUUID(c, "storyId")
	if !ok {
		return
	}
	if _, err := h.svc.GetStory(c.Request.Context(), storyID); err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Register(storyID, conn)
}

func (h *Handler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrSceneNotFound),
		errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrActionNotFound),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrBadRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrSceneNotSettled),
		errors.Is(err, models.ErrGenerationInProgress),
		errors.Is(err, models.ErrActionUnresolved),
		errors.Is(err, models.ErrBindConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrGenerationParse):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: models.ErrInternalServer.Error()})
	}
}
