package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fraudflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := load("", envMap(nil))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Tier != domain.TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Pipeline.Score.Seed != 42 {
			t.Errorf("expected seed 42, got %d", cfg.Pipeline.Score.Seed)
		}
		if cfg.Pipeline.Score.TrainRatio != 0.8 {
			t.Errorf("expected train ratio 0.8, got %v", cfg.Pipeline.Score.TrainRatio)
		}
		if !cfg.Pipeline.Transform.DropDuplicates {
			t.Error("expected duplicates to be dropped by default")
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		cfg, err := load("", envMap(map[string]string{"FRAUDFLOW_TIER": "pro"}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
			t.Errorf("unexpected pro backends: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
		}
	})

	t.Run("YAMLOverlay", func(t *testing.T) {
		path := writeFile(t, `
pipeline:
  sourcePath: /data/cc.csv
  stagingDir: /var/staging
  namespaceRuns: true
  transform:
    normalization: zscore
  score:
    seed: 7
    trainRatio: 0.7
cache:
  checkpointTTL: 2h
`)
		cfg, err := load(path, envMap(nil))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Pipeline.SourcePath != "/data/cc.csv" || cfg.Pipeline.StagingDir != "/var/staging" {
			t.Errorf("paths not applied: %+v", cfg.Pipeline)
		}
		if !cfg.Pipeline.NamespaceRuns {
			t.Error("expected namespaceRuns from file")
		}
		if cfg.Pipeline.Transform.Normalization != domain.NormalizeZScore {
			t.Errorf("expected zscore, got %s", cfg.Pipeline.Transform.Normalization)
		}
		if cfg.Pipeline.Score.Seed != 7 || cfg.Pipeline.Score.TrainRatio != 0.7 {
			t.Errorf("score settings not applied: %+v", cfg.Pipeline.Score)
		}
		// Fields absent from the file keep their defaults.
		if cfg.Pipeline.Transform.MissingPolicy != domain.MissingImpute {
			t.Errorf("expected default missing policy, got %s", cfg.Pipeline.Transform.MissingPolicy)
		}
		if cfg.Cache.CheckpointTTL != 2*time.Hour {
			t.Errorf("expected 2h checkpoint TTL, got %v", cfg.Cache.CheckpointTTL)
		}
	})

	t.Run("ConfigPathFromEnv", func(t *testing.T) {
		path := writeFile(t, "pipeline:\n  score:\n    seed: 99\n")
		cfg, err := load("", envMap(map[string]string{"FRAUDFLOW_CONFIG": path}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Pipeline.Score.Seed != 99 {
			t.Errorf("expected seed 99, got %d", cfg.Pipeline.Score.Seed)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeFile(t, "pipeline:\n  score:\n    seed: 99\n")
		cfg, err := load(path, envMap(map[string]string{
			"FRAUDFLOW_SEED":        "5",
			"FRAUDFLOW_SQLITE_PATH": "/tmp/x.db",
			"FRAUDFLOW_DEBUG":       "true",
			"FRAUDFLOW_RESUME":      "true",
		}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Pipeline.Score.Seed != 5 {
			t.Errorf("expected seed 5, got %d", cfg.Pipeline.Score.Seed)
		}
		if cfg.Repository.SQLitePath != "/tmp/x.db" {
			t.Errorf("expected sqlite path override, got %s", cfg.Repository.SQLitePath)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
		if !cfg.Pipeline.Resume {
			t.Error("expected resume enabled")
		}
	})

	t.Run("ScoreEnv", func(t *testing.T) {
		cfg, err := load("", envMap(map[string]string{
			"FRAUDFLOW_SEED":      "9007199254740993",
			"FRAUDFLOW_TOLERANCE": "1e-4",
		}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Pipeline.Score.Seed != 9007199254740993 {
			t.Errorf("expected seed 9007199254740993, got %d", cfg.Pipeline.Score.Seed)
		}
		if cfg.Pipeline.Score.Tolerance != 1e-4 {
			t.Errorf("expected tolerance 1e-4, got %g", cfg.Pipeline.Score.Tolerance)
		}
	})

	t.Run("SeedOutOfRange", func(t *testing.T) {
		_, err := load("", envMap(map[string]string{"FRAUDFLOW_SEED": "9223372036854775808"}))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("BadEnvValue", func(t *testing.T) {
		_, err := load("", envMap(map[string]string{"FRAUDFLOW_TRAIN_RATIO": "most"}))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *domain.Config)
	}{
		{"RatioZero", func(c *domain.Config) { c.Pipeline.Score.TrainRatio = 0 }},
		{"RatioOne", func(c *domain.Config) { c.Pipeline.Score.TrainRatio = 1 }},
		{"UnknownPolicy", func(c *domain.Config) { c.Pipeline.Transform.MissingPolicy = "guess" }},
		{"UnknownNormalization", func(c *domain.Config) { c.Pipeline.Transform.Normalization = "sqrt" }},
		{"UnknownClassifier", func(c *domain.Config) { c.Pipeline.Score.Classifier = "forest" }},
		{"EmptyExpression", func(c *domain.Config) { c.Pipeline.Score.Classifier = domain.ClassifierExpression }},
		{"NoSource", func(c *domain.Config) { c.Pipeline.SourcePath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}
