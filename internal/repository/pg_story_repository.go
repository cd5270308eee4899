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
var _ StoryRepository = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	db     *database.Database
	logger *zap.Logger
}

// NewPgStoryRepository creates a PostgreSQL-backed StoryRepository.
func NewPgStoryRepository(db *database.Database, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("PgStoryRepo"),
	}
}

const createStoryQuery = `
INSERT INTO stories (
	id, owner_id, persona, genre, age_rating, opening_description,
	root_scene_id, current_scene_id, time_of_day, weather,
	player_health, player_inventory, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const getStoryByIDQuery = `
SELECT id, owner_id, persona, genre, age_rating, opening_description,
       root_scene_id, current_scene_id, time_of_day, weather,
       player_health, player_inventory, created_at, updated_at
FROM stories
WHERE id = $1`

const updateStoryWorldQuery = `
UPDATE stories
SET current_scene_id = $2, time_of_day = $3, weather = $4, updated_at = $5
WHERE id = $1`

// Create inserts a new story record.
func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	now := time.Now().UTC()
	if story.CreatedAt.IsZero() {
		story.CreatedAt = now
	}
	story.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, createStoryQuery,
		story.ID,
		story.OwnerID,
		story.Persona,
		story.Genre,
		story.AgeRating,
		story.OpeningDescription,
		story.RootSceneID,
		story.CurrentSceneID,
		story.TimeOfDay,
		story.Weather,
		story.PlayerHealth,
		story.PlayerInventory,
		story.CreatedAt,
		story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create story", zap.Error(err), zap.String("storyID", story.ID.String()))
		return fmt.Errorf("failed to create story: %w", err)
	}
	r.logger.Info("Story created", zap.String("storyID", story.ID.String()))
	return nil
}

// GetByID retrieves a story by its unique ID.
func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	story := &models.Story{}
	err := pgxscan.Get(ctx, r.db.Pool, story, getStoryByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Story not found by ID", zap.String("storyID", id.String()))
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story by ID", zap.String("storyID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return story, nil
}

// UpdateWorld persists the world state after a completed turn.
func (r *pgStoryRepository) UpdateWorld(ctx context.Context, id uuid.UUID, upd models.StoryWorldUpdate) error {
	tag, err := r.db.Pool.Exec(ctx, updateStoryWorldQuery,
		id,
		upd.CurrentSceneID,
		upd.TimeOfDay,
		upd.Weather,
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to update story world state", zap.String("storyID", id.String()), zap.Error(err))
		return fmt.Errorf("failed to update story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	r.logger.Debug("Story world state updated",
		zap.String("storyID", id.String()),
		zap.String("currentSceneID", upd.CurrentSceneID.String()),
		zap.String("timeOfDay", string(upd.TimeOfDay)),
		zap.Int("weather", int(upd.Weather)),
	)
	return nil
}
