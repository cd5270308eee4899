package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/models"
	"fable-server/internal/service"
	"fable-server/internal/storage"
	"fable-server/internal/worldclock"
)

type mockTurnService struct {
	mock.Mock
}

func (m *mockTurnService) CreateStory(ctx context.Context, params service.CreateStoryParams) (*models.Story, error) {
	ret := m.Called(ctx, params)
	var story *models.Story
	if ret.Get(0) != nil {
		story = ret.Get(0).(*models.Story)
	}
	return story, ret.Error(1)
}

func (m *mockTurnService) EnterGame(ctx context.Context, storyID uuid.UUID) (*models.Story, *models.Scene, error) {
	ret := m.Called(ctx, storyID)
	var story *models.Story
	var scene *models.Scene
	if ret.Get(0) != nil {
		story = ret.Get(0).(*models.Story)
	}
	if ret.Get(1) != nil {
		scene = ret.Get(1).(*models.Scene)
	}
	return story, scene, ret.Error(2)
}

func (m *mockTurnService) ChooseAction(ctx context.Context, storyID, sceneID uuid.UUID, direction string) (*service.TurnResult, error) {
	ret := m.Called(ctx, storyID, sceneID, direction)
	var result *service.TurnResult
	if ret.Get(0) != nil {
		result = ret.Get(0).(*service.TurnResult)
	}
	return result, ret.Error(1)
}

func (m *mockTurnService) GetScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	ret := m.Called(ctx, sceneID)
	var scene *models.Scene
	if ret.Get(0) != nil {
		scene = ret.Get(0).(*models.Scene)
	}
	return scene, ret.Error(1)
}

func (m *mockTurnService) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	ret := m.Called(ctx, storyID)
	var story *models.Story
	if ret.Get(0) != nil {
		story = ret.Get(0).(*models.Story)
	}
	return story, ret.Error(1)
}

var _ service.TurnService = (*mockTurnService)(nil)

func setupRouter(t *testing.T) (*mockTurnService, *storage.FileStore, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := &mockTurnService{}
	svc.Test(t)

	store, err := storage.NewFileStore(t.TempDir(), "/api/assets", zap.NewNop())
	require.NoError(t, err)

	h := NewHandler(svc, store, nil, zap.NewNop())

	router := gin.New()
	router.POST("/api/stories", h.CreateStory)
	router.GET("/api/stories/:storyId", h.GetStory)
	router.POST("/api/stories/:storyId/scenes/:sceneId/choose", h.ChooseAction)
	router.GET("/api/scenes/:sceneId", h.GetScene)
	router.GET("/api/assets/*key", h.GetAsset)
	return svc, store, router
}

func TestCreateStory(t *testing.T) {
	svc, _, router := setupRouter(t)

	ownerID := uuid.New()
	story := &models.Story{ID: uuid.New(), OwnerID: ownerID}
	svc.On("CreateStory", mock.Anything, mock.MatchedBy(func(p service.CreateStoryParams) bool {
		return p.OwnerID == ownerID && p.OpeningDescription == "A forest."
	})).Return(story, nil).Once()

	body, _ := json.Marshal(CreateStoryRequest{
		OwnerID:            ownerID,
		OpeningDescription: "A forest.",
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stories", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
}

func TestCreateStory_MissingBody(t *testing.T) {
	_, _, router := setupRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stories", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChooseAction(t *testing.T) {
	svc, _, router := setupRouter(t)

	storyID := uuid.New()
	sceneID := uuid.New()
	result := &service.TurnResult{
		Scene:          &models.Scene{ID: uuid.New()},
		TransitionText: "You move east.",
		TimeOfDay:      worldclock.TimeOfDay("9:15 AM"),
		Weather:        4,
	}
	svc.On("ChooseAction", mock.Anything, storyID, sceneID, "east").Return(result, nil).Once()

	body, _ := json.Marshal(ChooseActionRequest{Direction: "east"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stories/"+storyID.String()+"/scenes/"+sceneID.String()+"/choose", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "You move east.", resp.TransitionText)
	assert.Equal(t, worldclock.TimeOfDay("9:15 AM"), resp.TimeOfDay)
	svc.AssertExpectations(t)
}

func TestChooseAction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"story not found", models.ErrStoryNotFound, http.StatusNotFound},
		{"unknown direction", models.ErrActionNotFound, http.StatusBadRequest},
		{"scene not settled", models.ErrSceneNotSettled, http.StatusConflict},
		{"generation in progress", models.ErrGenerationInProgress, http.StatusConflict},
		{"stale turn request", models.ErrBindConflict, http.StatusConflict},
		{"parse failure", models.ErrGenerationParse, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, router := setupRouter(t)
			storyID := uuid.New()
			sceneID := uuid.New()
			svc.On("ChooseAction", mock.Anything, storyID, sceneID, "east").Return(nil, tt.err).Once()

			body, _ := json.Marshal(ChooseActionRequest{Direction: "east"})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/stories/"+storyID.String()+"/scenes/"+sceneID.String()+"/choose", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestChooseAction_InvalidStoryID(t *testing.T) {
	_, _, router := setupRouter(t)

	body, _ := json.Marshal(ChooseActionRequest{Direction: "east"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/stories/not-a-uuid/scenes/"+uuid.NewString()+"/choose", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScene(t *testing.T) {
	svc, _, router := setupRouter(t)

	scene := &models.Scene{ID: uuid.New(), NarrativeText: "A quiet room.", State: models.StateTextReady}
	svc.On("GetScene", mock.Anything, scene.ID).Return(scene, nil).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/scenes/"+scene.ID.String(), nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Scene
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, scene.NarrativeText, got.NarrativeText)
}

func TestGetAsset(t *testing.T) {
	_, store, router := setupRouter(t)

	ref, err := store.Put(context.Background(), "scene_x_image", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, ref, nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())
}

func TestGetAsset_NotFound(t *testing.T) {
	_, _, router := setupRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/assets/missing", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
