package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting of the fable server. All external calls carry an
// explicit timeout; nothing is left unbounded.
type Config struct {
	// Server settings
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// PostgreSQL settings
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	// Redis settings. When RedisAddr is empty the server falls back to the
	// in-process asset guard, which is only safe for a single instance.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// RabbitMQ settings. When RabbitMQURL is empty scene updates are only
	// broadcast to connected websocket clients.
	RabbitMQURL       string `envconfig:"RABBITMQ_URL"`
	SceneUpdatesQueue string `envconfig:"SCENE_UPDATES_QUEUE" default:"scene_updates"`

	// Narrative generation settings
	AIClientType string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIAPIKey     string        `envconfig:"AI_API_KEY"`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"90s"`

	// Image generation settings
	ImageModel   string        `envconfig:"IMAGE_MODEL" default:"dall-e-3"`
	ImageSize    string        `envconfig:"IMAGE_SIZE" default:"1024x1024"`
	ImageQuality string        `envconfig:"IMAGE_QUALITY" default:"standard"`
	ImageStyle   string        `envconfig:"IMAGE_STYLE" default:"vivid"`
	ImageTimeout time.Duration `envconfig:"IMAGE_TIMEOUT" default:"120s"`

	// Audio generation settings
	SpeechModel   string        `envconfig:"SPEECH_MODEL" default:"tts-1"`
	SpeechVoice   string        `envconfig:"SPEECH_VOICE" default:"alloy"`
	SpeechTimeout time.Duration `envconfig:"SPEECH_TIMEOUT" default:"60s"`

	// Asset storage settings
	AssetSavePath      string `envconfig:"ASSET_SAVE_PATH" default:"./data/assets"`
	// AssetPublicBaseURL must resolve against the asset serving route.
	AssetPublicBaseURL string `envconfig:"ASSET_PUBLIC_BASE_URL" default:"/api/assets"`

	// Orchestration settings. MaxAssetAttempts bounds asset backfill: after
	// this many rounds a scene settles as READY even with assets missing.
	MaxAssetAttempts     int           `envconfig:"MAX_ASSET_ATTEMPTS" default:"3"`
	GuardTTL             time.Duration `envconfig:"GUARD_TTL" default:"3m"`
	NarrativeWaitTimeout time.Duration `envconfig:"NARRATIVE_WAIT_TIMEOUT" default:"90s"`
	NarrativeWaitPoll    time.Duration `envconfig:"NARRATIVE_WAIT_POLL" default:"250ms"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
