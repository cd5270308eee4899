package models

import (
	"time"

	"github.com/google/uuid"

	"fable-server/internal/worldclock"
)

// Persona describes the narrative voice a story is generated with.
type Persona struct {
	AuthorName  string `db:"author_name" json:"authorName"`
	ArtistName  string `db:"artist_name" json:"artistName"`
	WriterVoice string `db:"writer_voice" json:"writerVoice"`
}

// Story is the root aggregate of one interactive fiction session. It owns the
// scene tree (via RootSceneID), the player's position in it (CurrentSceneID)
// and the simulated world state advanced on every completed turn.
type Story struct {
	ID                 uuid.UUID               `db:"id" json:"id"`
	OwnerID            uuid.UUID               `db:"owner_id" json:"ownerId"`
	Persona            Persona                 `db:"persona" json:"persona"`
	Genre              string                  `db:"genre" json:"genre"`
	AgeRating          string                  `db:"age_rating" json:"ageRating"`
	OpeningDescription string                  `db:"opening_description" json:"openingDescription"`
	RootSceneID        uuid.UUID               `db:"root_scene_id" json:"rootSceneId"`
	CurrentSceneID     uuid.UUID               `db:"current_scene_id" json:"currentSceneId"`
	TimeOfDay          worldclock.TimeOfDay    `db:"time_of_day" json:"timeOfDay"`
	Weather            worldclock.WeatherLevel `db:"weather" json:"weather"`
	PlayerHealth       int                     `db:"player_health" json:"playerHealth"`
	PlayerInventory    []string                `db:"player_inventory" json:"playerInventory"`
	CreatedAt          time.Time               `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time               `db:"updated_at" json:"updatedAt"`
}

// StoryWorldUpdate is the partial update persisted after a completed turn.
type StoryWorldUpdate struct {
	CurrentSceneID uuid.UUID
	TimeOfDay      worldclock.TimeOfDay
	Weather        worldclock.WeatherLevel
}
