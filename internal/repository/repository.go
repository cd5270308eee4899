// Package repository implements the scene graph store: the CRUD contract over
// stories and scenes plus the transactional create-or-reuse bind that keeps
// each action slot pointing at exactly one child scene.
package repository

import (
	"context"

	"github.com/google/uuid"

	"fable-server/internal/models"
)

// StoryRepository is the persistence contract for stories.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	// UpdateWorld persists the turn outcome: the new current scene plus the
	// advanced clock and weather. Nothing else on the story is touched.
	UpdateWorld(ctx context.Context, id uuid.UUID, upd models.StoryWorldUpdate) error
}

// SceneRepository is the persistence contract for scenes. All updates are
// partial merges so concurrent writers touching different fields never clobber
// each other.
type SceneRepository interface {
	Create(ctx context.Context, scene *models.Scene) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Scene, error)
	// UpdateContent applies the narrative-generation result.
	UpdateContent(ctx context.Context, id uuid.UUID, upd models.SceneContentUpdate) error
	// UpdateAssets applies an asset-generation result; nil fields are left
	// untouched.
	UpdateAssets(ctx context.Context, id uuid.UUID, upd models.SceneAssetUpdate) error
	// SetState moves the generation state forward. Regressions are ignored.
	SetState(ctx context.Context, id uuid.UUID, state models.GenerationState) error
	// BindActionChild atomically creates child under (parentID, direction) and
	// binds the parent action's LeadsTo to it. If a concurrent caller already
	// bound the slot, the winner's child is returned with created=false and
	// the supplied child is discarded.
	BindActionChild(ctx context.Context, parentID uuid.UUID, direction string, child *models.Scene) (*models.Scene, bool, error)
}
