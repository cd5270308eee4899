package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/generation"
	"fable-server/internal/generation/mocks"
	"fable-server/internal/models"
	"fable-server/internal/prompt"
	"fable-server/internal/repository"
	"fable-server/internal/service"
	"fable-server/internal/storage"
	"fable-server/internal/worldclock"
)

const rootResponse = `{
  "story": "You wake at the edge of a pine forest.",
  "scene_description": "The edge of a pine forest at morning light.",
  "player_options": {
    "directions": [
      {"direction": "east", "command_text": "follow trail", "transition_text": "You follow the trail east."},
      {"direction": "north", "command_text": "enter forest", "transition_text": "You step between the pines."}
    ]
  }
}`

const childResponse = `{
  "story": "The trail drops into a fog-filled valley.",
  "scene_description": "A trail descending into a valley filled with fog.",
  "player_options": {
    "directions": [
      {"direction": "east", "command_text": "press on", "transition_text": "You press on east."},
      {"direction": "back", "command_text": "turn back", "transition_text": "You walk back up the trail."}
    ]
  }
}`

type fixture struct {
	narrative *mocks.MockNarrativeClient
	image     *mocks.MockImageClient
	speech    *mocks.MockSpeechClient
	stories   *repository.MemoryStoryRepository
	scenes    *repository.MemorySceneRepository
	svc       service.TurnService
}

func newFixture(t *testing.T, roll func() float64) *fixture {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir(), "/assets", zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		narrative: mocks.NewMockNarrativeClient(t),
		image:     mocks.NewMockImageClient(t),
		speech:    mocks.NewMockSpeechClient(t),
		stories:   repository.NewMemoryStoryRepository(),
		scenes:    repository.NewMemorySceneRepository(),
	}

	// Assets always succeed unless a test overrides these.
	f.image.On("GenerateImage", mock.Anything, mock.Anything).Return([]byte("png"), "image/png", nil)
	f.speech.On("GenerateSpeech", mock.Anything, mock.Anything).Return([]byte("mp3"), "audio/mpeg", nil)

	orch := generation.NewOrchestrator(
		f.narrative, f.image, f.speech,
		f.scenes, store,
		generation.NewMemoryGuard(time.Minute),
		nil,
		generation.OrchestratorOptions{
			MaxAssetAttempts:     3,
			NarrativeWaitTimeout: 5 * time.Second,
			NarrativeWaitPoll:    5 * time.Millisecond,
		},
		zap.NewNop(),
	)

	f.svc = service.NewTurnService(
		f.stories, f.scenes, orch,
		prompt.NewBuilder(),
		worldclock.NewClockWithRoll(roll),
		zap.NewNop(),
	)
	return f
}

func (f *fixture) createStory(t *testing.T) *models.Story {
	t.Helper()
	story, err := f.svc.CreateStory(context.Background(), service.CreateStoryParams{
		OwnerID: uuid.New(),
		Persona: models.Persona{
			AuthorName:  "M. Reyes",
			ArtistName:  "K. Ito",
			WriterVoice: "sparse and cold",
		},
		Genre:              "mystery",
		AgeRating:          "12+",
		OpeningDescription: "A forest at the edge of a small town.",
	})
	require.NoError(t, err)
	return story
}

// waitSettled blocks until background asset generation finishes so mocks are
// not called after the test returns.
func (f *fixture) waitSettled(t *testing.T, sceneID uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		scene, err := f.scenes.GetByID(context.Background(), sceneID)
		return err == nil && scene.State == models.StateReady
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTurnService_CreateStory(t *testing.T) {
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	assert.Equal(t, worldclock.DefaultTimeOfDay, story.TimeOfDay)
	assert.Equal(t, worldclock.DefaultWeather, story.Weather)
	assert.Equal(t, 100, story.PlayerHealth)
	assert.Equal(t, story.RootSceneID, story.CurrentSceneID)

	root, err := f.scenes.GetByID(context.Background(), story.RootSceneID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEmpty, root.State)
	assert.False(t, root.ParentSceneID.Valid)
}

func TestTurnService_CreateStory_Validation(t *testing.T) {
	f := newFixture(t, func() float64 { return 0.9 })

	_, err := f.svc.CreateStory(context.Background(), service.CreateStoryParams{
		OwnerID: uuid.New(),
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.CreateStory(context.Background(), service.CreateStoryParams{
		OpeningDescription: "x",
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestTurnService_EnterGame_MaterializesRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()

	gotStory, scene, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.ID, gotStory.ID)
	assert.Equal(t, "You wake at the edge of a pine forest.", scene.NarrativeText)
	require.Len(t, scene.Actions, 2)
	_, _, hasBack := scene.ActionByDirection(models.BackDirection)
	assert.False(t, hasBack, "root scene never offers back")

	f.waitSettled(t, scene.ID)

	// Entering again must not regenerate anything.
	_, again, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, scene.ID, again.ID)
	f.narrative.AssertNumberOfCalls(t, "GenerateNarrative", 1)
}

func TestTurnService_ChooseAction_BranchesAndAdvancesWorld(t *testing.T) {
	ctx := context.Background()
	// roll 0.9 lands in the no-change band of the weather walk.
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(childResponse, nil).Once()

	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	result, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	require.NoError(t, err)

	assert.Equal(t, "The trail drops into a fog-filled valley.", result.Scene.NarrativeText)
	assert.Equal(t, "You follow the trail east.", result.TransitionText)
	assert.Equal(t, worldclock.TimeOfDay("9:15 AM"), result.TimeOfDay)
	assert.Equal(t, worldclock.DefaultWeather, result.Weather)
	assert.Equal(t, root.ID, result.Scene.ParentSceneID.UUID)
	assert.Equal(t, "east", result.Scene.ViaDirection)

	// The parent edge is now bound and the story moved.
	reloadedRoot, err := f.scenes.GetByID(ctx, root.ID)
	require.NoError(t, err)
	east, _, ok := reloadedRoot.ActionByDirection("east")
	require.True(t, ok)
	assert.Equal(t, result.Scene.ID, east.LeadsTo.UUID)

	reloadedStory, err := f.stories.GetByID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Scene.ID, reloadedStory.CurrentSceneID)

	f.waitSettled(t, result.Scene.ID)
}

func TestTurnService_ChooseAction_BackIsPureTraversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(childResponse, nil).Once()

	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	forward, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	require.NoError(t, err)
	f.waitSettled(t, forward.Scene.ID)

	back, err := f.svc.ChooseAction(ctx, story.ID, forward.Scene.ID, models.BackDirection)
	require.NoError(t, err)

	assert.Equal(t, root.ID, back.Scene.ID, "back returns to the parent scene")
	assert.Equal(t, worldclock.TimeOfDay("9:30 AM"), back.TimeOfDay, "back still consumes a turn")
	f.narrative.AssertNumberOfCalls(t, "GenerateNarrative", 2)

	reloadedStory, err := f.stories.GetByID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, reloadedStory.CurrentSceneID)
	f.waitSettled(t, root.ID)
}

func TestTurnService_ChooseAction_ConcurrentSameDirection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(childResponse, nil).Once()

	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	const callers = 4
	var wg sync.WaitGroup
	sceneIDs := make([]uuid.UUID, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
			if assert.NoError(t, err) {
				sceneIDs[i] = result.Scene.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, sceneIDs[0], sceneIDs[i], "every turn lands on the same child")
	}
	f.narrative.AssertNumberOfCalls(t, "GenerateNarrative", 2)
	f.waitSettled(t, sceneIDs[0])
}

func TestTurnService_ChooseAction_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	// The root has no narrative yet, so no turn can be played.
	_, err := f.svc.ChooseAction(ctx, story.ID, story.RootSceneID, "east")
	assert.ErrorIs(t, err, models.ErrSceneNotSettled)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	_, err = f.svc.ChooseAction(ctx, story.ID, root.ID, "teleport")
	assert.ErrorIs(t, err, models.ErrActionNotFound)

	_, err = f.svc.ChooseAction(ctx, uuid.New(), root.ID, "east")
	assert.ErrorIs(t, err, models.ErrStoryNotFound)

	_, err = f.svc.ChooseAction(ctx, story.ID, uuid.New(), "east")
	assert.ErrorIs(t, err, models.ErrSceneNotFound)

	// A scene belonging to a different story is invisible to this one.
	other := f.createStory(t)
	_, err = f.svc.ChooseAction(ctx, story.ID, other.RootSceneID, "east")
	assert.ErrorIs(t, err, models.ErrSceneNotFound)
}

func TestTurnService_ChooseAction_RetryReturnsBoundChild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(childResponse, nil).Once()

	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	first, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	require.NoError(t, err)
	f.waitSettled(t, first.Scene.ID)

	// A client that lost the first response resends the identical request.
	// The child offers "east" too; the retry must return the bound child, not
	// branch a grandchild off it.
	retry, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	require.NoError(t, err)

	assert.Equal(t, first.Scene.ID, retry.Scene.ID)
	assert.Equal(t, first.TransitionText, retry.TransitionText)
	assert.Equal(t, first.TimeOfDay, retry.TimeOfDay, "a replayed turn does not advance the clock again")
	assert.Equal(t, first.Weather, retry.Weather)
	f.narrative.AssertNumberOfCalls(t, "GenerateNarrative", 2)

	reloaded, err := f.stories.GetByID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Scene.ID, reloaded.CurrentSceneID)
}

func TestTurnService_ChooseAction_StaleSceneConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() float64 { return 0.9 })
	story := f.createStory(t)

	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(rootResponse, nil).Once()
	f.narrative.On("GenerateNarrative", mock.Anything, mock.Anything, mock.Anything).
		Return(childResponse, nil).Twice()

	_, root, err := f.svc.EnterGame(ctx, story.ID)
	require.NoError(t, err)
	f.waitSettled(t, root.ID)

	first, err := f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	require.NoError(t, err)
	f.waitSettled(t, first.Scene.ID)

	second, err := f.svc.ChooseAction(ctx, story.ID, first.Scene.ID, "east")
	require.NoError(t, err)
	f.waitSettled(t, second.Scene.ID)

	// The root's east edge is bound to a scene the player already moved past,
	// so replaying it can no longer be honored.
	_, err = f.svc.ChooseAction(ctx, story.ID, root.ID, "east")
	assert.ErrorIs(t, err, models.ErrBindConflict)
}
