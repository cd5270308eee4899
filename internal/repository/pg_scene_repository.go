package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fable-server/internal/models"
	"fable-server/pkg/database"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ SceneRepository = (*pgSceneRepository)(nil)

type pgSceneRepository struct {
	db     *database.Database
	logger *zap.Logger
}

// NewPgSceneRepository creates a PostgreSQL-backed SceneRepository.
func NewPgSceneRepository(db *database.Database, logger *zap.Logger) SceneRepository {
	return &pgSceneRepository{
		db:     db,
		logger: logger.Named("PgSceneRepo"),
	}
}

const sceneColumns = `
id, story_id, parent_scene_id, via_direction, narrative_text, image_prompt,
image_asset_ref, audio_asset_ref, actions, generation_state, asset_attempts,
created_at, updated_at`

const createSceneQuery = `
INSERT INTO scenes (
	id, story_id, parent_scene_id, via_direction, narrative_text, image_prompt,
	image_asset_ref, audio_asset_ref, actions, generation_state, asset_attempts,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const getSceneByIDQuery = `SELECT ` + sceneColumns + ` FROM scenes WHERE id = $1`

const updateSceneContentQuery = `
UPDATE scenes
SET narrative_text = $2, image_prompt = $3, actions = $4, generation_state = $5, updated_at = $6
WHERE id = $1`

// Partial merge: nil arguments leave the column untouched so the image and
// audio writers never clobber each other.
const updateSceneAssetsQuery = `
UPDATE scenes
SET image_asset_ref = COALESCE($2, image_asset_ref),
    audio_asset_ref = COALESCE($3, audio_asset_ref),
    generation_state = COALESCE($4, generation_state),
    asset_attempts = COALESCE($5, asset_attempts),
    updated_at = $6
WHERE id = $1`

const setSceneStateQuery = `
UPDATE scenes SET generation_state = $2, updated_at = $3 WHERE id = $1`

const lockSceneActionsQuery = `SELECT actions FROM scenes WHERE id = $1 FOR UPDATE`

const updateSceneActionsQuery = `UPDATE scenes SET actions = $2, updated_at = $3 WHERE id = $1`

// Create inserts a new scene record.
func (r *pgSceneRepository) Create(ctx context.Context, scene *models.Scene) error {
	prepareScene(scene)
	_, err := r.db.Pool.Exec(ctx, createSceneQuery, sceneArgs(scene)...)
	if err != nil {
		r.logger.Error("Failed to create scene", zap.Error(err), zap.String("storyID", scene.StoryID.String()))
		return fmt.Errorf("failed to create scene: %w", err)
	}
	r.logger.Info("Scene created", zap.String("sceneID", scene.ID.String()))
	return nil
}

// GetByID retrieves a scene by its unique ID.
func (r *pgSceneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	scene := &models.Scene{}
	err := pgxscan.Get(ctx, r.db.Pool, scene, getSceneByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Scene not found by ID", zap.String("sceneID", id.String()))
			return nil, models.ErrSceneNotFound
		}
		r.logger.Error("Failed to get scene by ID", zap.String("sceneID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get scene %s: %w", id, err)
	}
	return scene, nil
}

// UpdateContent applies the narrative-generation result.
func (r *pgSceneRepository) UpdateContent(ctx context.Context, id uuid.UUID, upd models.SceneContentUpdate) error {
	tag, err := r.db.Pool.Exec(ctx, updateSceneContentQuery,
		id,
		upd.NarrativeText,
		upd.ImagePrompt,
		upd.Actions,
		upd.State,
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to update scene content", zap.String("sceneID", id.String()), zap.Error(err))
		return fmt.Errorf("failed to update scene content %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSceneNotFound
	}
	return nil
}

// UpdateAssets applies an asset-generation result as a partial merge.
func (r *pgSceneRepository) UpdateAssets(ctx context.Context, id uuid.UUID, upd models.SceneAssetUpdate) error {
	tag, err := r.db.Pool.Exec(ctx, updateSceneAssetsQuery,
		id,
		upd.ImageAssetRef,
		upd.AudioAssetRef,
		upd.State,
		upd.AssetAttempts,
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to update scene assets", zap.String("sceneID", id.String()), zap.Error(err))
		return fmt.Errorf("failed to update scene assets %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSceneNotFound
	}
	return nil
}

// SetState moves the generation state forward. The read-check-write races are
// acceptable here because states only ever move forward and writers converge
// on the same terminal state.
func (r *pgSceneRepository) SetState(ctx context.Context, id uuid.UUID, state models.GenerationState) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.State.CanAdvanceTo(state) {
		r.logger.Warn("Ignoring generation state regression",
			zap.String("sceneID", id.String()),
			zap.String("from", string(current.State)),
			zap.String("to", string(state)),
		)
		return nil
	}
	if _, err := r.db.Pool.Exec(ctx, setSceneStateQuery, id, state, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set scene state %s: %w", id, err)
	}
	return nil
}

// BindActionChild creates the child scene and binds the parent action slot in
// one transaction. The parent row lock serializes concurrent branch attempts:
// the loser finds the slot already bound and adopts the winner's child.
func (r *pgSceneRepository) BindActionChild(ctx context.Context, parentID uuid.UUID, direction string, child *models.Scene) (*models.Scene, bool, error) {
	log := r.logger.With(zap.String("parentSceneID", parentID.String()), zap.String("direction", direction))

	var (
		result  *models.Scene
		created bool
	)
	err := r.db.ExecuteInTransaction(ctx, func(tx pgx.Tx) error {
		var actions []models.Action
		if err := tx.QueryRow(ctx, lockSceneActionsQuery, parentID).Scan(&actions); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrSceneNotFound
			}
			return fmt.Errorf("failed to lock parent scene %s: %w", parentID, err)
		}

		idx := -1
		for i, a := range actions {
			if a.Direction == direction {
				idx = i
				break
			}
		}
		if idx == -1 {
			return models.ErrActionNotFound
		}

		if actions[idx].LeadsTo.Valid {
			// A concurrent turn won the race; surface the winner's child.
			existing := &models.Scene{}
			if err := pgxscan.Get(ctx, tx, existing, getSceneByIDQuery, actions[idx].LeadsTo.UUID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return models.ErrSceneNotFound
				}
				return fmt.Errorf("failed to load bound child scene: %w", err)
			}
			result = existing
			return nil
		}

		child.ParentSceneID = uuid.NullUUID{UUID: parentID, Valid: true}
		child.ViaDirection = direction
		prepareScene(child)
		if _, err := tx.Exec(ctx, createSceneQuery, sceneArgs(child)...); err != nil {
			return fmt.Errorf("failed to create child scene: %w", err)
		}

		actions[idx].LeadsTo = uuid.NullUUID{UUID: child.ID, Valid: true}
		if _, err := tx.Exec(ctx, updateSceneActionsQuery, parentID, actions, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to bind parent action: %w", err)
		}
		result = child
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		log.Info("Child scene created and bound", zap.String("childSceneID", result.ID.String()))
	} else {
		log.Info("Action slot already bound, reusing existing child", zap.String("childSceneID", result.ID.String()))
	}
	return result, created, nil
}

func prepareScene(scene *models.Scene) {
	if scene.ID == uuid.Nil {
		scene.ID = uuid.New()
	}
	if scene.State == "" {
		scene.State = models.StateEmpty
	}
	if scene.Actions == nil {
		scene.Actions = []models.Action{}
	}
	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now
}

func sceneArgs(scene *models.Scene) []any {
	return []any{
		scene.ID,
		scene.StoryID,
		scene.ParentSceneID,
		scene.ViaDirection,
		scene.NarrativeText,
		scene.ImagePrompt,
		scene.ImageAssetRef,
		scene.AudioAssetRef,
		scene.Actions,
		scene.State,
		scene.AssetAttempts,
		scene.CreatedAt,
		scene.UpdatedAt,
	}
}
