// Package domain defines the core interfaces and types for fraudflow.
package domain

import (
	"context"
	"time"
)

// Repository persists scored transactions and run records.
type Repository interface {
	// UpsertScored writes all records in one transaction keyed by record key.
	// Either every record is committed or none is.
	UpsertScored(ctx context.Context, records []ScoredTransaction) (int, error)
	GetScored(ctx context.Context, key string) (*ScoredTransaction, error)
	CountScored(ctx context.Context) (int, error)

	// Run records
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}
