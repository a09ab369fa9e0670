package domain

import (
	"context"
	"time"
)

// Cache stores stage checkpoints so a resumed run can skip stages whose
// staged output is still valid.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// GetCheckpoint retrieves a stage checkpoint.
	GetCheckpoint(ctx context.Context, namespace string, key string) (*Checkpoint, error)

	// SetCheckpoint records a stage checkpoint.
	SetCheckpoint(ctx context.Context, namespace string, key string, cp *Checkpoint, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Checkpoint records the output a stage produced for a given input.
type Checkpoint struct {
	Stage        Stage     `json:"stage"`
	RunID        string    `json:"runId"`
	InputDigest  string    `json:"inputDigest"`
	OutputRef    string    `json:"outputRef"`
	OutputDigest string    `json:"outputDigest"`
	Rows         int       `json:"rows"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTTL"`

	// CheckpointTTL bounds how long a stage checkpoint stays valid.
	CheckpointTTL time.Duration `yaml:"checkpointTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
