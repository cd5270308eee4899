package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fable-server/internal/models"
)

var (
	_ StoryRepository = (*MemoryStoryRepository)(nil)
	_ SceneRepository = (*MemorySceneRepository)(nil)
)

// MemoryStoryRepository is a mutex-guarded in-memory StoryRepository. It backs
// unit tests and single-process runs without PostgreSQL.
type MemoryStoryRepository struct {
	mu      sync.RWMutex
	stories map[uuid.UUID]models.Story
}

// NewMemoryStoryRepository creates an empty in-memory story repository.
func NewMemoryStoryRepository() *MemoryStoryRepository {
	return &MemoryStoryRepository{stories: make(map[uuid.UUID]models.Story)}
}

func (r *MemoryStoryRepository) Create(_ context.Context, story *models.Story) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	now := time.Now().UTC()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = now
	r.stories[story.ID] = *story
	return nil
}

func (r *MemoryStoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	story, ok := r.stories[id]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	out := story
	out.PlayerInventory = append([]string(nil), story.PlayerInventory...)
	return &out, nil
}

func (r *MemoryStoryRepository) UpdateWorld(_ context.Context, id uuid.UUID, upd models.StoryWorldUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[id]
	if !ok {
		return models.ErrStoryNotFound
	}
	story.CurrentSceneID = upd.CurrentSceneID
	story.TimeOfDay = upd.TimeOfDay
	story.Weather = upd.Weather
	story.UpdatedAt = time.Now().UTC()
	r.stories[id] = story
	return nil
}

// MemorySceneRepository is a mutex-guarded in-memory SceneRepository. The
// single mutex plays the role of the parent row lock: bind attempts serialize
// on it the same way they serialize on SELECT FOR UPDATE in PostgreSQL.
type MemorySceneRepository struct {
	mu     sync.RWMutex
	scenes map[uuid.UUID]models.Scene
}

// NewMemorySceneRepository creates an empty in-memory scene repository.
func NewMemorySceneRepository() *MemorySceneRepository {
	return &MemorySceneRepository{scenes: make(map[uuid.UUID]models.Scene)}
}

func copyScene(s models.Scene) models.Scene {
	out := s
	out.Actions = append([]models.Action(nil), s.Actions...)
	return out
}

func (r *MemorySceneRepository) Create(_ context.Context, scene *models.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prepareScene(scene)
	r.scenes[scene.ID] = copyScene(*scene)
	return nil
}

func (r *MemorySceneRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scene, ok := r.scenes[id]
	if !ok {
		return nil, models.ErrSceneNotFound
	}
	out := copyScene(scene)
	return &out, nil
}

func (r *MemorySceneRepository) UpdateContent(_ context.Context, id uuid.UUID, upd models.SceneContentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scene, ok := r.scenes[id]
	if !ok {
		return models.ErrSceneNotFound
	}
	scene.NarrativeText = upd.NarrativeText
	scene.ImagePrompt = upd.ImagePrompt
	scene.Actions = append([]models.Action(nil), upd.Actions...)
	scene.State = upd.State
	scene.UpdatedAt = time.Now().UTC()
	r.scenes[id] = scene
	return nil
}

func (r *MemorySceneRepository) UpdateAssets(_ context.Context, id uuid.UUID, upd models.SceneAssetUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scene, ok := r.scenes[id]
	if !ok {
		return models.ErrSceneNotFound
	}
	if upd.ImageAssetRef != nil {
		scene.ImageAssetRef = *upd.ImageAssetRef
	}
	if upd.AudioAssetRef != nil {
		scene.AudioAssetRef = *upd.AudioAssetRef
	}
	if upd.State != nil {
		scene.State = *upd.State
	}
	if upd.AssetAttempts != nil {
		scene.AssetAttempts = *upd.AssetAttempts
	}
	scene.UpdatedAt = time.Now().UTC()
	r.scenes[id] = scene
	return nil
}

func (r *MemorySceneRepository) SetState(_ context.Context, id uuid.UUID, state models.GenerationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	scene, ok := r.scenes[id]
	if !ok {
		return models.ErrSceneNotFound
	}
	if !scene.State.CanAdvanceTo(state) {
		return nil
	}
	scene.State = state
	scene.UpdatedAt = time.Now().UTC()
	r.scenes[id] = scene
	return nil
}

func (r *MemorySceneRepository) BindActionChild(_ context.Context, parentID uuid.UUID, direction string, child *models.Scene) (*models.Scene, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.scenes[parentID]
	if !ok {
		return nil, false, models.ErrSceneNotFound
	}

	idx := -1
	for i, a := range parent.Actions {
		if a.Direction == direction {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false, models.ErrActionNotFound
	}

	if parent.Actions[idx].LeadsTo.Valid {
		existing, ok := r.scenes[parent.Actions[idx].LeadsTo.UUID]
		if !ok {
			return nil, false, models.ErrSceneNotFound
		}
		out := copyScene(existing)
		return &out, false, nil
	}

	child.ParentSceneID = uuid.NullUUID{UUID: parentID, Valid: true}
	child.ViaDirection = direction
	prepareScene(child)
	r.scenes[child.ID] = copyScene(*child)

	parent.Actions[idx].LeadsTo = uuid.NullUUID{UUID: child.ID, Valid: true}
	parent.UpdatedAt = time.Now().UTC()
	r.scenes[parentID] = parent

	out := copyScene(*child)
	return &out, true, nil
}
