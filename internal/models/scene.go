package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationState tracks how much of a scene's content has been materialized.
// It only ever moves forward.
type GenerationState string

const (
	StateEmpty         GenerationState = "EMPTY"
	StateTextPending   GenerationState = "TEXT_PENDING"
	StateTextReady     GenerationState = "TEXT_READY"
	StateAssetsPending GenerationState = "ASSETS_PENDING"
	StateReady         GenerationState = "READY"
)

// order returns the position of the state in the forward-only lifecycle.
func (s GenerationState) order() int {
	switch s {
	case StateEmpty:
		return 0
	case StateTextPending:
		return 1
	case StateTextReady:
		return 2
	case StateAssetsPending:
		return 3
	case StateReady:
		return 4
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving to next would keep the lifecycle
// monotonic. A state never regresses.
func (s GenerationState) CanAdvanceTo(next GenerationState) bool {
	return next.order() >= s.order()
}

// BackDirection is the reserved direction of the synthesized action that leads
// to the parent scene. Following it never creates a new scene.
const BackDirection = "back"

// Action is a player-facing choice on a scene. LeadsTo starts unset; once a
// child scene is created for this action the id is bound exactly once and is
// immutable afterwards.
type Action struct {
	Direction      string        `json:"direction"`
	CommandText    string        `json:"commandText"`
	TransitionText string        `json:"transitionText"`
	LeadsTo        uuid.NullUUID `json:"leadsTo"`
}

// IsBack reports whether this is the synthesized back action.
func (a Action) IsBack() bool {
	return a.Direction == BackDirection
}

// Scene is one narrative beat in a story's tree. Every scene except the root
// has exactly one parent; the ordered Actions slice is the only way forward.
type Scene struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	StoryID       uuid.UUID       `db:"story_id" json:"storyId"`
	ParentSceneID uuid.NullUUID   `db:"parent_scene_id" json:"parentSceneId"`
	// ViaDirection is the parent action direction this scene was created for.
	// Together with ParentSceneID it uniquely identifies the action slot, which
	// is what makes create-or-reuse enforceable in the store.
	ViaDirection  string          `db:"via_direction" json:"viaDirection,omitempty"`
	NarrativeText string          `db:"narrative_text" json:"narrativeText"`
	ImagePrompt   string          `db:"image_prompt" json:"imagePrompt"`
	ImageAssetRef string          `db:"image_asset_ref" json:"imageAssetRef"`
	AudioAssetRef string          `db:"audio_asset_ref" json:"audioAssetRef"`
	Actions       []Action        `db:"actions" json:"actions"`
	State         GenerationState `db:"generation_state" json:"generationState"`
	AssetAttempts int             `db:"asset_attempts" json:"assetAttempts"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// ActionByDirection returns the action with the given direction and its index.
func (s *Scene) ActionByDirection(direction string) (Action, int, bool) {
	for i, a := range s.Actions {
		if a.Direction == direction {
			return a, i, true
		}
	}
	return Action{}, -1, false
}

// HasNarrative reports whether narrative generation has completed for this
// scene. Assets may still be missing.
func (s *Scene) HasNarrative() bool {
	return s.NarrativeText != "" && len(s.Actions) > 0
}

// AssetsComplete reports whether both asset references are populated.
func (s *Scene) AssetsComplete() bool {
	return s.ImageAssetRef != "" && s.AudioAssetRef != ""
}

// SceneContentUpdate is the partial update applied when narrative generation
// finishes. Asset references are never touched by it.
type SceneContentUpdate struct {
	NarrativeText string
	ImagePrompt   string
	Actions       []Action
	State         GenerationState
}

// SceneAssetUpdate is the partial update applied when a single asset lands or
// when the backfill counter moves. Nil fields are left untouched so the image
// and audio writers never clobber each other.
type SceneAssetUpdate struct {
	ImageAssetRef *string
	AudioAssetRef *string
	State         *GenerationState
	AssetAttempts *int
}
