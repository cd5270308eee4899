// Package service implements the turn controller: the single entry point a
// player action flows through. One turn resolves the chosen edge, materializes
// the target scene's narrative, advances the world clock and kicks off asset
// generation in the background.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fable-server/internal/generation"
	"fable-server/internal/models"
	"fable-server/internal/prompt"
	"fable-server/internal/repository"
	"fable-server/internal/worldclock"
)

// CreateStoryParams carries everything needed to start a new story.
type CreateStoryParams struct {
	OwnerID            uuid.UUID
	Persona            models.Persona
	Genre              string
	AgeRating          string
	OpeningDescription string
}

// TurnResult is what a completed player turn hands back to the client: the
// scene the player now stands in plus the advanced world state.
type TurnResult struct {
	Scene          *models.Scene           `json:"scene"`
	TransitionText string                  `json:"transitionText,omitempty"`
	TimeOfDay      worldclock.TimeOfDay    `json:"timeOfDay"`
	Weather        worldclock.WeatherLevel `json:"weather"`
}

// TurnService is the gameplay boundary the HTTP layer talks to.
type TurnService interface {
	// CreateStory creates a story with its empty root scene. No generation
	// happens yet; the first EnterGame materializes the opening.
	CreateStory(ctx context.Context, params CreateStoryParams) (*models.Story, error)
	// EnterGame returns the story and its current scene with narrative content
	// guaranteed, generating it on first entry. Asset generation is kicked off
	// in the background.
	EnterGame(ctx context.Context, storyID uuid.UUID) (*models.Story, *models.Scene, error)
	// ChooseAction plays one turn from sceneID: follow or materialize the
	// chosen edge, advance the world clock and persist the new position.
	// Re-sending a request whose action already moved the player is safe: the
	// bound child is returned again without advancing the world.
	ChooseAction(ctx context.Context, storyID, sceneID uuid.UUID, direction string) (*TurnResult, error)
	// GetScene returns a scene in its current generation state.
	GetScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error)
	// GetStory returns a story by ID.
	GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error)
}

var _ TurnService = (*turnServiceImpl)(nil)

type turnServiceImpl struct {
	stories repository.StoryRepository
	scenes  repository.SceneRepository
	orch    *generation.Orchestrator
	prompts *prompt.Builder
	clock   *worldclock.Clock
	logger  *zap.Logger
}

// NewTurnService wires the turn controller.
func NewTurnService(
	stories repository.StoryRepository,
	scenes repository.SceneRepository,
	orch *generation.Orchestrator,
	prompts *prompt.Builder,
	clock *worldclock.Clock,
	logger *zap.Logger,
) TurnService {
	return &turnServiceImpl{
		stories: stories,
		scenes:  scenes,
		orch:    orch,
		prompts: prompts,
		clock:   clock,
		logger:  logger.Named("TurnService"),
	}
}

// startingPlayerHealth is the health every new story begins with.
const startingPlayerHealth = 100

func (s *turnServiceImpl) CreateStory(ctx context.Context, params CreateStoryParams) (*models.Story, error) {
	if params.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrInvalidInput)
	}
	if params.OpeningDescription == "" {
		return nil, fmt.Errorf("%w: opening description is required", models.ErrInvalidInput)
	}

	story := &models.Story{
		ID:                 uuid.New(),
		OwnerID:            params.OwnerID,
		Persona:            params.Persona,
		Genre:              params.Genre,
		AgeRating:          params.AgeRating,
		OpeningDescription: params.OpeningDescription,
		RootSceneID:        uuid.New(),
		TimeOfDay:          worldclock.DefaultTimeOfDay,
		Weather:            worldclock.DefaultWeather,
		PlayerHealth:       startingPlayerHealth,
		PlayerInventory:    []string{},
	}
	story.CurrentSceneID = story.RootSceneID

	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}

	root := &models.Scene{
		ID:      story.RootSceneID,
		StoryID: story.ID,
		State:   models.StateEmpty,
	}
	if err := s.scenes.Create(ctx, root); err != nil {
		return nil, err
	}

	s.logger.Info("Story created",
		zap.String("storyID", story.ID.String()),
		zap.String("rootSceneID", root.ID.String()),
		zap.String("genre", story.Genre),
	)
	return story, nil
}

func (s *turnServiceImpl) EnterGame(ctx context.Context, storyID uuid.UUID) (*models.Story, *models.Scene, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}

	scene, err := s.scenes.GetByID(ctx, story.CurrentSceneID)
	if err != nil {
		return nil, nil, err
	}

	scene, err = s.ensureSceneNarrative(ctx, story, scene)
	if err != nil {
		return nil, nil, err
	}

	s.backfillAssets(ctx, scene.ID)
	return story, scene, nil
}

func (s *turnServiceImpl) ChooseAction(ctx context.Context, storyID, sceneID uuid.UUID, direction string) (*TurnResult, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}

	current, err := s.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if current.StoryID != story.ID {
		return nil, fmt.Errorf("%w: scene %s does not belong to story %s", models.ErrSceneNotFound, sceneID, storyID)
	}
	if current.ID != story.CurrentSceneID {
		return s.replayTurn(ctx, story, current, direction)
	}
	if !current.HasNarrative() {
		return nil, fmt.Errorf("%w: scene %s", models.ErrSceneNotSettled, current.ID)
	}

	action, _, ok := current.ActionByDirection(direction)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrActionNotFound, direction)
	}

	next, err := s.resolveAction(ctx, story, current, action)
	if err != nil {
		return nil, err
	}

	nextTime, nextWeather, err := s.clock.Tick(story.TimeOfDay, story.Weather)
	if err != nil {
		return nil, fmt.Errorf("failed to advance world clock: %w", err)
	}
	if err := s.stories.UpdateWorld(ctx, story.ID, models.StoryWorldUpdate{
		CurrentSceneID: next.ID,
		TimeOfDay:      nextTime,
		Weather:        nextWeather,
	}); err != nil {
		return nil, err
	}

	s.backfillAssets(ctx, next.ID)

	s.logger.Info("Turn completed",
		zap.String("storyID", story.ID.String()),
		zap.String("direction", action.Direction),
		zap.String("sceneID", next.ID.String()),
		zap.String("timeOfDay", string(nextTime)),
		zap.Int("weather", int(nextWeather)),
	)
	return &TurnResult{
		Scene:          next,
		TransitionText: action.TransitionText,
		TimeOfDay:      nextTime,
		Weather:        nextWeather,
	}, nil
}

// replayTurn handles a turn request addressed to a scene the player already
// left, which is what a client retry after a lost response looks like. When
// the request's action is bound to the scene the player now stands in, the
// turn already happened: its outcome is returned again and the world does not
// advance a second time. Any other stale request lost a race to a different
// turn and is rejected.
func (s *turnServiceImpl) replayTurn(ctx context.Context, story *models.Story, scene *models.Scene, direction string) (*TurnResult, error) {
	action, _, ok := scene.ActionByDirection(direction)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrActionNotFound, direction)
	}
	if !action.LeadsTo.Valid || action.LeadsTo.UUID != story.CurrentSceneID {
		return nil, fmt.Errorf("%w: scene %s is no longer the story position", models.ErrBindConflict, scene.ID)
	}

	current, err := s.scenes.GetByID(ctx, story.CurrentSceneID)
	if err != nil {
		return nil, err
	}
	current, err = s.ensureSceneNarrative(ctx, story, current)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Replayed already-applied turn",
		zap.String("storyID", story.ID.String()),
		zap.String("sceneID", scene.ID.String()),
		zap.String("direction", direction),
	)
	return &TurnResult{
		Scene:          current,
		TransitionText: action.TransitionText,
		TimeOfDay:      story.TimeOfDay,
		Weather:        story.Weather,
	}, nil
}

// resolveAction turns the chosen action into a scene with narrative content.
// A bound edge is pure traversal. An unbound forward edge branches: the child
// is created and bound exactly once; if a concurrent turn got there first the
// winner's child is adopted.
func (s *turnServiceImpl) resolveAction(ctx context.Context, story *models.Story, current *models.Scene, action models.Action) (*models.Scene, error) {
	if action.LeadsTo.Valid {
		next, err := s.scenes.GetByID(ctx, action.LeadsTo.UUID)
		if err != nil {
			return nil, err
		}
		return s.ensureSceneNarrative(ctx, story, next)
	}

	if action.IsBack() {
		// Back edges are bound when the narrative persists, so an unbound one
		// means the scene content is corrupt.
		return nil, fmt.Errorf("%w: back action on scene %s", models.ErrActionUnresolved, current.ID)
	}

	child, created, err := s.scenes.BindActionChild(ctx, current.ID, action.Direction, &models.Scene{
		StoryID: story.ID,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger.Debug("Adopting concurrently created child",
			zap.String("parentSceneID", current.ID.String()),
			zap.String("direction", action.Direction),
			zap.String("childSceneID", child.ID.String()),
		)
	}
	return s.ensureSceneNarrative(ctx, story, child)
}

// ensureSceneNarrative returns the scene with narrative content present,
// generating it when missing. For a child scene the prompt embeds the parent's
// narrative and the command that led here, reconstructed from the child's slot
// so the call is self-contained even on crash recovery.
func (s *turnServiceImpl) ensureSceneNarrative(ctx context.Context, story *models.Story, scene *models.Scene) (*models.Scene, error) {
	if scene.HasNarrative() {
		return scene, nil
	}

	var previousNarrative, chosenCommand string
	if scene.ParentSceneID.Valid {
		parent, err := s.scenes.GetByID(ctx, scene.ParentSceneID.UUID)
		if err != nil {
			return nil, err
		}
		parentAction, _, ok := parent.ActionByDirection(scene.ViaDirection)
		if !ok {
			return nil, fmt.Errorf("%w: slot %q on scene %s", models.ErrActionNotFound, scene.ViaDirection, parent.ID)
		}
		previousNarrative = parent.NarrativeText
		chosenCommand = parentAction.CommandText
	}

	req, err := s.prompts.BuildScenePrompt(story, scene, previousNarrative, chosenCommand)
	if err != nil {
		return nil, err
	}
	return s.orch.EnsureNarrative(ctx, scene.ID, req)
}

// backfillAssets starts asset generation without holding up the turn. The
// detached context keeps the work alive after the HTTP request ends.
func (s *turnServiceImpl) backfillAssets(ctx context.Context, sceneID uuid.UUID) {
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.orch.EnsureAssets(bgCtx, sceneID); err != nil {
			s.logger.Warn("Background asset generation failed",
				zap.String("sceneID", sceneID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (s *turnServiceImpl) GetScene(ctx context.Context, sceneID uuid.UUID) (*models.Scene, error) {
	return s.scenes.GetByID(ctx, sceneID)
}

func (s *turnServiceImpl) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	return s.stories.GetByID(ctx, storyID)
}
