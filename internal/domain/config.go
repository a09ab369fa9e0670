package domain

import "time"

// Config holds the complete fraudflow configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `yaml:"tier"`

	// Pipeline settings shared by all four stages
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// PipelineConfig is the configuration surface of the four stages.
type PipelineConfig struct {
	// SourcePath is the raw dataset location.
	SourcePath string `yaml:"sourcePath"`

	// StagingDir holds extracted.csv, transformed.csv and predicted.csv.
	StagingDir string `yaml:"stagingDir"`

	// NamespaceRuns places each run's staged files under StagingDir/<runID>.
	NamespaceRuns bool `yaml:"namespaceRuns"`

	// Resume skips stages whose checkpoint and staged output are still valid.
	// Checkpoints live in the cache, so resuming across separate CLI
	// invocations needs cache.type redis; the memory cache is per process.
	Resume bool `yaml:"resume"`

	Transform TransformConfig `yaml:"transform"`
	Score     ScoreConfig     `yaml:"score"`
}

// Missing value policies.
const (
	MissingImpute = "impute"
	MissingDrop   = "drop"
)

// Amount normalization functions.
const (
	NormalizeLog    = "log"
	NormalizeZScore = "zscore"
	NormalizeMinMax = "minmax"
)

// TransformConfig configures cleaning and feature engineering.
type TransformConfig struct {
	DropDuplicates bool   `yaml:"dropDuplicates"`
	MissingPolicy  string `yaml:"missingPolicy"` // impute, drop
	Normalization  string `yaml:"normalization"` // log, zscore, minmax
}

// Classifier kinds.
const (
	ClassifierLogistic   = "logistic"
	ClassifierExpression = "expression"
)

// ScoreConfig configures the split and the classifier.
type ScoreConfig struct {
	Seed       int64   `yaml:"seed"`
	TrainRatio float64 `yaml:"trainRatio"`
	Stratify   bool    `yaml:"stratify"`

	Classifier string `yaml:"classifier"` // logistic, expression

	// Logistic regression
	L2            float64 `yaml:"l2"`
	MaxIterations int     `yaml:"maxIterations"`
	Tolerance     float64 `yaml:"tolerance"`

	// Expression classifier (CEL over feature names)
	Expression string `yaml:"expression"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
// Paths mirror the layout the scheduler mounts: data/creditcard.csv and /tmp.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 300,
		},
		Tier: TierCommunity,
		Pipeline: PipelineConfig{
			SourcePath: "./data/creditcard.csv",
			StagingDir: "/tmp",
			Transform: TransformConfig{
				DropDuplicates: true,
				MissingPolicy:  MissingImpute,
				Normalization:  NormalizeLog,
			},
			Score: ScoreConfig{
				Seed:          42,
				TrainRatio:    0.8,
				Stratify:      true,
				Classifier:    ClassifierLogistic,
				L2:            1.0,
				MaxIterations: 100,
				Tolerance:     1e-6,
			},
		},
		Repository: RepositoryConfig{
			Driver:         "sqlite",
			SQLitePath:     "./fraudflow.db",
			ConnectTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  1000,
			LocalTTL:      5 * time.Minute,
			CheckpointTTL: 24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			Namespace:         "default",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudflow",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:         "postgres",
		PostgresHost:   "localhost",
		PostgresPort:   5432,
		PostgresUser:   "airflow",
		PostgresDB:     "frauddb",
		ConnectTimeout: 10 * time.Second,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		CheckpointTTL:  24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		Namespace:         "default",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fraudflow-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
