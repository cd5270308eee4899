package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fable-server/internal/models"
	"fable-server/internal/worldclock"
)

func newSettledParent(t *testing.T, repo *MemorySceneRepository, storyID uuid.UUID) *models.Scene {
	t.Helper()
	parent := &models.Scene{
		StoryID:       storyID,
		NarrativeText: "You stand at the mouth of a cave.",
		Actions: []models.Action{
			{Direction: "north", CommandText: "enter cave"},
			{Direction: "east", CommandText: "follow river"},
		},
		State: models.StateReady,
	}
	require.NoError(t, repo.Create(context.Background(), parent))
	return parent
}

func TestMemorySceneRepository_BindActionChild(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySceneRepository()
	storyID := uuid.New()
	parent := newSettledParent(t, repo, storyID)

	child, created, err := repo.BindActionChild(ctx, parent.ID, "north", &models.Scene{StoryID: storyID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, parent.ID, child.ParentSceneID.UUID)
	assert.Equal(t, "north", child.ViaDirection)
	assert.Equal(t, models.StateEmpty, child.State)

	// Second bind on the same slot must return the same child.
	again, created, err := repo.BindActionChild(ctx, parent.ID, "north", &models.Scene{StoryID: storyID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, child.ID, again.ID)

	// The parent action now points at the child.
	reloaded, err := repo.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	action, _, ok := reloaded.ActionByDirection("north")
	require.True(t, ok)
	require.True(t, action.LeadsTo.Valid)
	assert.Equal(t, child.ID, action.LeadsTo.UUID)
}

func TestMemorySceneRepository_BindActionChild_UnknownDirection(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySceneRepository()
	parent := newSettledParent(t, repo, uuid.New())

	_, _, err := repo.BindActionChild(ctx, parent.ID, "up", &models.Scene{StoryID: parent.StoryID})
	assert.ErrorIs(t, err, models.ErrActionNotFound)

	_, _, err = repo.BindActionChild(ctx, uuid.New(), "north", &models.Scene{StoryID: parent.StoryID})
	assert.ErrorIs(t, err, models.ErrSceneNotFound)
}

func TestMemorySceneRepository_BindActionChild_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySceneRepository()
	storyID := uuid.New()
	parent := newSettledParent(t, repo, storyID)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]uuid.UUID, workers)
	createdFlags := make([]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child, created, err := repo.BindActionChild(ctx, parent.ID, "east", &models.Scene{StoryID: storyID})
			if !assert.NoError(t, err) {
				return
			}
			results[i] = child.ID
			createdFlags[i] = created
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, created := range createdFlags {
		if created {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one goroutine should create the child")
	for _, id := range results {
		assert.Equal(t, results[0], id, "every caller should see the same child")
	}
}

func TestMemorySceneRepository_UpdateAssets_PartialMerge(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySceneRepository()
	scene := &models.Scene{StoryID: uuid.New(), State: models.StateAssetsPending}
	require.NoError(t, repo.Create(ctx, scene))

	imageRef := "/assets/scene.png"
	require.NoError(t, repo.UpdateAssets(ctx, scene.ID, models.SceneAssetUpdate{ImageAssetRef: &imageRef}))

	audioRef := "/assets/scene.mp3"
	state := models.StateReady
	require.NoError(t, repo.UpdateAssets(ctx, scene.ID, models.SceneAssetUpdate{AudioAssetRef: &audioRef, State: &state}))

	got, err := repo.GetByID(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, imageRef, got.ImageAssetRef, "audio write must not clobber the image ref")
	assert.Equal(t, audioRef, got.AudioAssetRef)
	assert.Equal(t, models.StateReady, got.State)
}

func TestMemorySceneRepository_SetState_IgnoresRegression(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySceneRepository()
	scene := &models.Scene{StoryID: uuid.New(), State: models.StateTextReady}
	require.NoError(t, repo.Create(ctx, scene))

	require.NoError(t, repo.SetState(ctx, scene.ID, models.StateReady))
	require.NoError(t, repo.SetState(ctx, scene.ID, models.StateTextPending))

	got, err := repo.GetByID(ctx, scene.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, got.State)
}

func TestMemoryStoryRepository_UpdateWorld(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStoryRepository()
	story := &models.Story{OwnerID: uuid.New(), TimeOfDay: "9:00 AM", Weather: 3}
	require.NoError(t, repo.Create(ctx, story))

	sceneID := uuid.New()
	err := repo.UpdateWorld(ctx, story.ID, models.StoryWorldUpdate{
		CurrentSceneID: sceneID,
		TimeOfDay:      "9:15 AM",
		Weather:        4,
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, sceneID, got.CurrentSceneID)
	assert.Equal(t, worldclock.TimeOfDay("9:15 AM"), got.TimeOfDay)
	assert.Equal(t, worldclock.WeatherLevel(4), got.Weather)

	err = repo.UpdateWorld(ctx, uuid.New(), models.StoryWorldUpdate{CurrentSceneID: sceneID})
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}
