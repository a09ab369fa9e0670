package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudflow/internal/bus"
	"github.com/opensource-finance/fraudflow/internal/cache"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/fixture"
	"github.com/opensource-finance/fraudflow/internal/repository"
	"github.com/opensource-finance/fraudflow/internal/staging"
)

type harness struct {
	cfg    *domain.Config
	runner *Runner
	repo   domain.Repository
	bus    *bus.ChannelBus
	cache  *cache.LRUCache
}

func newHarness(t *testing.T, source string, mutate func(cfg *domain.Config)) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := domain.DefaultConfig()
	cfg.Pipeline.SourcePath = source
	cfg.Pipeline.StagingDir = filepath.Join(dir, "staging")
	cfg.Repository.SQLitePath = filepath.Join(dir, "fraudflow.db")
	if mutate != nil {
		mutate(cfg)
	}
	if err := os.MkdirAll(cfg.Pipeline.StagingDir, 0o755); err != nil {
		t.Fatal(err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })
	c := cache.NewLRUCache(100)

	runner, err := NewRunner(cfg, Options{
		Store:     staging.NewFileStore(),
		Runs:      repo,
		Cache:     c,
		Bus:       b,
		Namespace: "test",
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return &harness{cfg: cfg, runner: runner, repo: repo, bus: b, cache: c}
}

// events subscribes to topic and returns a function that waits for n events.
func (h *harness) events(t *testing.T, topic string) func(n int) []domain.RunEvent {
	t.Helper()
	ch := make(chan domain.RunEvent, 32)
	_, err := h.bus.Subscribe(context.Background(), "test", topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.RunEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		ch <- ev
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return func(n int) []domain.RunEvent {
		t.Helper()
		out := make([]domain.RunEvent, 0, n)
		for len(out) < n {
			select {
			case ev := <-ch:
				out = append(out, ev)
			case <-time.After(2 * time.Second):
				t.Fatalf("timeout: got %d of %d events on %s", len(out), n, topic)
			}
		}
		return out
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadsEveryRow", func(t *testing.T) {
		src := fixture.Write(t, "creditcard.csv", fixture.CSV(fixture.Separable(20, 5)))
		h := newHarness(t, src, nil)
		states := h.events(t, domain.TopicRunState)
		completed := h.events(t, domain.TopicRunCompleted)

		rc := NewRunContext(h.cfg.Pipeline)
		run, err := h.runner.Run(ctx, rc)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if run.State != domain.RunLoaded {
			t.Errorf("expected LOADED, got %s", run.State)
		}
		if run.RowsExtracted != 20 || run.RowsCleaned != 20 || run.RowsScored != 20 || run.RowsLoaded != 20 {
			t.Errorf("unexpected row counts %+v", run)
		}
		if run.Metrics == nil || run.Metrics.TrainRows != 16 {
			t.Errorf("unexpected metrics %+v", run.Metrics)
		}

		n, err := h.repo.CountScored(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 20 {
			t.Errorf("expected 20 persisted rows, got %d", n)
		}

		stored, err := h.repo.GetRun(ctx, rc.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if stored.State != domain.RunLoaded || stored.RowsLoaded != 20 {
			t.Errorf("run record not updated: %+v", stored)
		}

		want := []domain.RunState{domain.RunPending, domain.RunExtracted, domain.RunTransformed, domain.RunScored, domain.RunLoaded}
		got := states(len(want))
		for i, ev := range got {
			if ev.State != want[i] || ev.RunID != rc.ID {
				t.Errorf("event %d: expected %s for %s, got %+v", i, want[i], rc.ID, ev)
			}
		}
		if ev := completed(1)[0]; ev.Rows != 20 {
			t.Errorf("completion event rows = %d", ev.Rows)
		}
	})

	t.Run("RerunLeavesTableUnchanged", func(t *testing.T) {
		src := fixture.Write(t, "creditcard.csv", fixture.CSV(fixture.Separable(20, 5)))
		h := newHarness(t, src, nil)

		if _, err := h.runner.Run(ctx, NewRunContext(h.cfg.Pipeline)); err != nil {
			t.Fatal(err)
		}
		first, _ := h.repo.CountScored(ctx)
		if _, err := h.runner.Run(ctx, NewRunContext(h.cfg.Pipeline)); err != nil {
			t.Fatal(err)
		}
		second, _ := h.repo.CountScored(ctx)
		if first != second {
			t.Errorf("rerun changed row count %d -> %d", first, second)
		}

		runs, err := h.repo.ListRuns(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(runs) != 2 {
			t.Errorf("expected 2 run records, got %d", len(runs))
		}
	})

	t.Run("MissingAmountFailsExtract", func(t *testing.T) {
		header := strings.ReplaceAll(strings.Join(domain.RawColumns(), ","), ",Amount,", ",")
		src := fixture.Write(t, "creditcard.csv", header+"\n")
		h := newHarness(t, src, nil)
		failed := h.events(t, domain.TopicRunFailed)

		rc := NewRunContext(h.cfg.Pipeline)
		run, err := h.runner.Run(ctx, rc)
		if !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Fatalf("expected ErrSchemaMismatch, got %v", err)
		}
		var se *domain.StageError
		if !errors.As(err, &se) || se.Stage != domain.StageExtract || se.RunID != rc.ID {
			t.Errorf("expected extract StageError, got %#v", err)
		}
		if domain.ExitCode(err) != 3 {
			t.Errorf("expected exit code 3, got %d", domain.ExitCode(err))
		}
		if run.State != domain.RunFailed || run.Error == "" {
			t.Errorf("unexpected run %+v", run)
		}

		stored, err := h.repo.GetRun(ctx, rc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.State != domain.RunFailed || !strings.Contains(stored.Error, "Amount") {
			t.Errorf("failure not persisted: %+v", stored)
		}
		if ev := failed(1)[0]; ev.Stage != domain.StageExtract || ev.State != domain.RunFailed {
			t.Errorf("unexpected failure event %+v", ev)
		}
		if _, statErr := os.Stat(rc.Paths.Staged); !os.IsNotExist(statErr) {
			t.Error("no staged file should be published")
		}
	})

	t.Run("SourceNotFound", func(t *testing.T) {
		h := newHarness(t, filepath.Join(t.TempDir(), "absent.csv"), nil)
		_, err := h.runner.Run(ctx, NewRunContext(h.cfg.Pipeline))
		if domain.ExitCode(err) != 2 {
			t.Errorf("expected exit code 2, got %d (%v)", domain.ExitCode(err), err)
		}
	})

	t.Run("SingleClassFailsScore", func(t *testing.T) {
		src := fixture.Write(t, "creditcard.csv", fixture.CSV(fixture.Separable(10, 0)))
		h := newHarness(t, src, nil)
		run, err := h.runner.Run(ctx, NewRunContext(h.cfg.Pipeline))
		var se *domain.StageError
		if !errors.As(err, &se) || se.Stage != domain.StageScore || !errors.Is(err, domain.ErrTraining) {
			t.Fatalf("expected score training error, got %v", err)
		}
		if run.RowsCleaned != 10 || run.RowsLoaded != 0 {
			t.Errorf("unexpected row counts %+v", run)
		}
		if n, _ := h.repo.CountScored(ctx); n != 0 {
			t.Errorf("nothing should be loaded, got %d rows", n)
		}
	})
}

func TestStages(t *testing.T) {
	ctx := context.Background()
	src := fixture.Write(t, "creditcard.csv", fixture.CSV(fixture.Separable(20, 5)))
	h := newHarness(t, src, nil)
	rc := NewRunContext(h.cfg.Pipeline)

	t.Run("TransformBeforeExtract", func(t *testing.T) {
		_, err := h.runner.Transform(ctx, rc)
		if !errors.Is(err, domain.ErrTransform) {
			t.Errorf("expected ErrTransform, got %v", err)
		}
	})

	t.Run("InOrder", func(t *testing.T) {
		steps := []func(context.Context, domain.RunContext) (*StageResult, error){
			h.runner.Extract, h.runner.Transform, h.runner.Score, h.runner.Load,
		}
		for i, step := range steps {
			res, err := step(ctx, rc)
			if err != nil {
				t.Fatalf("stage %d failed: %v", i, err)
			}
			if res.Stage != domain.Stages()[i] || res.Rows != 20 {
				t.Errorf("unexpected result %+v", res)
			}
		}
		if _, err := os.Stat(rc.Paths.Scored); err != nil {
			t.Errorf("scored file missing: %v", err)
		}
	})

	t.Run("UnknownStage", func(t *testing.T) {
		if _, err := h.runner.Stage(ctx, rc, "publish"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	src := fixture.Write(t, "creditcard.csv", fixture.CSV(fixture.Separable(20, 5)))
	h := newHarness(t, src, func(cfg *domain.Config) { cfg.Pipeline.Resume = true })
	rc := NewRunContext(h.cfg.Pipeline)

	for _, st := range []domain.Stage{domain.StageExtract, domain.StageTransform, domain.StageScore} {
		res, err := h.runner.Stage(ctx, rc, st)
		if err != nil {
			t.Fatal(err)
		}
		if res.Skipped {
			t.Errorf("%s skipped on first execution", st)
		}
	}

	t.Run("SkipsValidCheckpoint", func(t *testing.T) {
		res, err := h.runner.Transform(ctx, NewRunContext(h.cfg.Pipeline))
		if err != nil {
			t.Fatal(err)
		}
		if !res.Skipped || res.Rows != 20 {
			t.Errorf("expected skipped transform with 20 rows, got %+v", res)
		}
	})

	t.Run("TamperedOutputReruns", func(t *testing.T) {
		if err := os.WriteFile(rc.Paths.Scored, []byte("tampered"), 0o644); err != nil {
			t.Fatal(err)
		}
		res, err := h.runner.Score(ctx, rc)
		if err != nil {
			t.Fatal(err)
		}
		if res.Skipped {
			t.Error("score skipped although its output changed")
		}
	})

	t.Run("ConfigChangeReruns", func(t *testing.T) {
		rc2 := rc
		rc2.Seed = 7
		res, err := h.runner.Score(ctx, rc2)
		if err != nil {
			t.Fatal(err)
		}
		if res.Skipped {
			t.Error("score skipped although the seed changed")
		}
	})

	t.Run("LoadNeverSkipped", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			res, err := h.runner.Load(ctx, rc)
			if err != nil {
				t.Fatal(err)
			}
			if res.Skipped {
				t.Error("load must always run")
			}
		}
	})
}

func TestRunContext(t *testing.T) {
	cfg := domain.DefaultConfig().Pipeline
	cfg.StagingDir = "/data/staging"

	t.Run("Defaults", func(t *testing.T) {
		rc := NewRunContext(cfg)
		if rc.ID == "" || rc.StartedAt.IsZero() {
			t.Error("run id and start time should be set")
		}
		if rc.Seed != 42 || rc.TrainRatio != 0.8 {
			t.Errorf("unexpected split parameters %+v", rc)
		}
		if rc.Paths.Staged != "/data/staging/extracted.csv" || rc.Paths.Scored != "/data/staging/predicted.csv" {
			t.Errorf("unexpected paths %+v", rc.Paths)
		}
	})

	t.Run("NamespacedPaths", func(t *testing.T) {
		ns := cfg
		ns.NamespaceRuns = true
		rc := NewRunContext(ns)
		if want := filepath.Join("/data/staging", rc.ID, "transformed.csv"); rc.Paths.Cleaned != want {
			t.Errorf("expected %s, got %s", want, rc.Paths.Cleaned)
		}
	})

	t.Run("RequestOverrides", func(t *testing.T) {
		seed := int64(7)
		ratio := 0.5
		rc, err := RequestContext(cfg, domain.RunRequest{Source: "/in/other.csv", Seed: &seed, TrainRatio: &ratio})
		if err != nil {
			t.Fatal(err)
		}
		if rc.Seed != 7 || rc.TrainRatio != 0.5 || rc.Paths.Source != "/in/other.csv" {
			t.Errorf("overrides not applied: %+v", rc)
		}
	})

	t.Run("BadRatio", func(t *testing.T) {
		ratio := 1.5
		if _, err := RequestContext(cfg, domain.RunRequest{TrainRatio: &ratio}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
