package handler

import (
	"github.com/google/uuid"

	"fable-server/internal/models"
	"fable-server/internal/service"
	"fable-server/internal/worldclock"
)

// CreateStoryRequest is the body of POST /api/stories.
type CreateStoryRequest struct {
	OwnerID            uuid.UUID      `json:"ownerId" binding:"required"`
	Persona            models.Persona `json:"persona"`
	Genre              string         `json:"genre"`
	AgeRating          string         `json:"ageRating"`
	OpeningDescription string         `json:"openingDescription" binding:"required"`
}

// ChooseActionRequest is the body of POST /api/stories/:storyId/choose.
type ChooseActionRequest struct {
	Direction string `json:"direction" binding:"required"`
}

// EnterGameResponse is returned by POST /api/stories/:storyId/enter.
type EnterGameResponse struct {
	Story *models.Story `json:"story"`
	Scene *models.Scene `json:"scene"`
}

// TurnResponse is returned by POST /api/stories/:storyId/choose.
type TurnResponse struct {
	Scene          *models.Scene           `json:"scene"`
	TransitionText string                  `json:"transitionText,omitempty"`
	TimeOfDay      worldclock.TimeOfDay    `json:"timeOfDay"`
	Weather        worldclock.WeatherLevel `json:"weather"`
}

func newTurnResponse(result *service.TurnResult) TurnResponse {
	return TurnResponse{
		Scene:          result.Scene,
		TransitionText: result.TransitionText,
		TimeOfDay:      result.TimeOfDay,
		Weather:        result.Weather,
	}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
