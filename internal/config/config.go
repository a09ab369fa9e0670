// Package config loads fraudflow configuration from defaults, an optional
// YAML file and FRAUDFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// EnvPrefix is the prefix of every recognised environment variable.
const EnvPrefix = "FRAUDFLOW_"

// Load builds the configuration. The tier (FRAUDFLOW_TIER) picks the base
// defaults, the YAML file at path (or FRAUDFLOW_CONFIG) overlays them, and
// environment variables override both. An empty path with no FRAUDFLOW_CONFIG
// skips the file.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func load(path string, lookup lookupFunc) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if v, ok := lookup(EnvPrefix + "TIER"); ok && domain.Tier(v) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if path == "" {
		path, _ = lookup(EnvPrefix + "CONFIG")
	}
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", domain.ErrInvalidInput, path, err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", domain.ErrInvalidInput, path, err)
		}
		slog.Debug("configuration file applied", "path", path)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding maps one variable onto a config field.
type envBinding struct {
	name  string
	apply func(cfg *domain.Config, v string) error
}

func stringVar(set func(cfg *domain.Config, v string)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func intVar(set func(cfg *domain.Config, v int)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func int64Var(set func(cfg *domain.Config, v int64)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func floatVar(set func(cfg *domain.Config, v float64)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(cfg, f)
		return nil
	}
}

func boolVar(set func(cfg *domain.Config, v bool)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

func durationVar(set func(cfg *domain.Config, v time.Duration)) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"SOURCE", stringVar(func(c *domain.Config, v string) { c.Pipeline.SourcePath = v })},
	{"STAGING_DIR", stringVar(func(c *domain.Config, v string) { c.Pipeline.StagingDir = v })},
	{"NAMESPACE_RUNS", boolVar(func(c *domain.Config, v bool) { c.Pipeline.NamespaceRuns = v })},
	{"RESUME", boolVar(func(c *domain.Config, v bool) { c.Pipeline.Resume = v })},
	{"DROP_DUPLICATES", boolVar(func(c *domain.Config, v bool) { c.Pipeline.Transform.DropDuplicates = v })},
	{"MISSING_POLICY", stringVar(func(c *domain.Config, v string) { c.Pipeline.Transform.MissingPolicy = v })},
	{"NORMALIZATION", stringVar(func(c *domain.Config, v string) { c.Pipeline.Transform.Normalization = v })},
	{"SEED", int64Var(func(c *domain.Config, v int64) { c.Pipeline.Score.Seed = v })},
	{"TRAIN_RATIO", floatVar(func(c *domain.Config, v float64) { c.Pipeline.Score.TrainRatio = v })},
	{"STRATIFY", boolVar(func(c *domain.Config, v bool) { c.Pipeline.Score.Stratify = v })},
	{"CLASSIFIER", stringVar(func(c *domain.Config, v string) { c.Pipeline.Score.Classifier = v })},
	{"EXPRESSION", stringVar(func(c *domain.Config, v string) { c.Pipeline.Score.Expression = v })},
	{"L2", floatVar(func(c *domain.Config, v float64) { c.Pipeline.Score.L2 = v })},
	{"MAX_ITERATIONS", intVar(func(c *domain.Config, v int) { c.Pipeline.Score.MaxIterations = v })},
	{"TOLERANCE", floatVar(func(c *domain.Config, v float64) { c.Pipeline.Score.Tolerance = v })},

	{"DB_DRIVER", stringVar(func(c *domain.Config, v string) { c.Repository.Driver = v })},
	{"SQLITE_PATH", stringVar(func(c *domain.Config, v string) { c.Repository.SQLitePath = v })},
	{"POSTGRES_HOST", stringVar(func(c *domain.Config, v string) { c.Repository.PostgresHost = v })},
	{"POSTGRES_PORT", intVar(func(c *domain.Config, v int) { c.Repository.PostgresPort = v })},
	{"POSTGRES_USER", stringVar(func(c *domain.Config, v string) { c.Repository.PostgresUser = v })},
	{"POSTGRES_PASSWORD", stringVar(func(c *domain.Config, v string) { c.Repository.PostgresPassword = v })},
	{"POSTGRES_DB", stringVar(func(c *domain.Config, v string) { c.Repository.PostgresDB = v })},
	{"POSTGRES_SSLMODE", stringVar(func(c *domain.Config, v string) { c.Repository.PostgresSSLMode = v })},
	{"DB_CONNECT_TIMEOUT", durationVar(func(c *domain.Config, v time.Duration) { c.Repository.ConnectTimeout = v })},

	{"CACHE_TYPE", stringVar(func(c *domain.Config, v string) { c.Cache.Type = v })},
	{"REDIS_ADDR", stringVar(func(c *domain.Config, v string) { c.Cache.RedisAddr = v })},
	{"REDIS_PASSWORD", stringVar(func(c *domain.Config, v string) { c.Cache.RedisPassword = v })},
	{"CHECKPOINT_TTL", durationVar(func(c *domain.Config, v time.Duration) { c.Cache.CheckpointTTL = v })},

	{"BUS_TYPE", stringVar(func(c *domain.Config, v string) { c.EventBus.Type = v })},
	{"BUS_NAMESPACE", stringVar(func(c *domain.Config, v string) { c.EventBus.Namespace = v })},
	{"NATS_URL", stringVar(func(c *domain.Config, v string) { c.EventBus.NATSUrl = v })},
	{"NATS_TOKEN", stringVar(func(c *domain.Config, v string) { c.EventBus.NATSToken = v })},
	{"NATS_QUEUE_GROUP", stringVar(func(c *domain.Config, v string) { c.EventBus.NATSQueueGroup = v })},

	{"HOST", stringVar(func(c *domain.Config, v string) { c.Server.Host = v })},
	{"PORT", intVar(func(c *domain.Config, v int) { c.Server.Port = v })},
	{"LOG_LEVEL", stringVar(func(c *domain.Config, v string) { c.Logging.Level = v })},
	{"LOG_FORMAT", stringVar(func(c *domain.Config, v string) { c.Logging.Format = v })},
	{"TRACING", boolVar(func(c *domain.Config, v bool) { c.Tracing.Enabled = v })},
}

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %v", EnvPrefix, b.name, v, err))
		}
	}
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Validate rejects configurations no stage could run with.
func Validate(cfg *domain.Config) error {
	p := cfg.Pipeline
	switch {
	case p.SourcePath == "":
		return fmt.Errorf("%w: pipeline.sourcePath is required", domain.ErrInvalidInput)
	case p.StagingDir == "":
		return fmt.Errorf("%w: pipeline.stagingDir is required", domain.ErrInvalidInput)
	case p.Score.TrainRatio <= 0 || p.Score.TrainRatio >= 1:
		return fmt.Errorf("%w: pipeline.score.trainRatio must be in (0,1), got %v", domain.ErrInvalidInput, p.Score.TrainRatio)
	case p.Score.MaxIterations <= 0:
		return fmt.Errorf("%w: pipeline.score.maxIterations must be positive", domain.ErrInvalidInput)
	case p.Score.L2 < 0:
		return fmt.Errorf("%w: pipeline.score.l2 must not be negative", domain.ErrInvalidInput)
	}

	switch p.Transform.MissingPolicy {
	case domain.MissingImpute, domain.MissingDrop:
	default:
		return fmt.Errorf("%w: unknown missing policy %q", domain.ErrInvalidInput, p.Transform.MissingPolicy)
	}
	switch p.Transform.Normalization {
	case domain.NormalizeLog, domain.NormalizeZScore, domain.NormalizeMinMax:
	default:
		return fmt.Errorf("%w: unknown normalization %q", domain.ErrInvalidInput, p.Transform.Normalization)
	}
	switch p.Score.Classifier {
	case domain.ClassifierLogistic:
	case domain.ClassifierExpression:
		if strings.TrimSpace(p.Score.Expression) == "" {
			return fmt.Errorf("%w: expression classifier requires pipeline.score.expression", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown classifier %q", domain.ErrInvalidInput, p.Score.Classifier)
	}
	return nil
}

// LogLevel converts the configured level name.
func LogLevel(cfg *domain.Config) slog.Level {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg *domain.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: LogLevel(cfg)}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
