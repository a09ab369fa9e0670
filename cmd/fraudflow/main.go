// Fraudflow - Credit card fraud ETL: extract, transform, score, load.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudflow/internal/api"
	"github.com/opensource-finance/fraudflow/internal/bus"
	"github.com/opensource-finance/fraudflow/internal/cache"
	"github.com/opensource-finance/fraudflow/internal/config"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/pipeline"
	"github.com/opensource-finance/fraudflow/internal/repository"
	"github.com/opensource-finance/fraudflow/internal/staging"
	"github.com/opensource-finance/fraudflow/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usage = `usage: fraudflow <command> [flags]

Commands:
  extract     copy the raw dataset into staging
  transform   clean and enrich the staged dataset
  score       train, evaluate and predict
  load        upsert predictions into the database
  run         run all four stages in order
  serve       start the HTTP API
  worker      consume run requests from the event bus
  version     print version information

Flags:
  -config     YAML configuration file (default $FRAUDFLOW_CONFIG)
  -in         stage input path (single-stage commands)
  -out        stage output path (single-stage commands)
  -run        run ID shared by single-stage commands
  -seed       split seed override
  -ratio      train ratio override
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	cmd := args[0]

	switch cmd {
	case "version":
		fmt.Printf("fraudflow %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return 0
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "stage input path")
	out := fs.String("out", "", "stage output path")
	runID := fs.String("run", "", "run ID shared by single-stage commands")
	seed := fs.Int64("seed", 0, "split seed override")
	ratio := fs.Float64("ratio", 0, "train ratio override")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fraudflow: %v\n", err)
		return 1
	}
	slog.SetDefault(config.NewLogger(cfg))

	slog.Info("configuration loaded",
		"command", cmd,
		"version", Version,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var req domain.RunRequest
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "run":
			req.RunID = *runID
		case "seed":
			req.Seed = seed
		case "ratio":
			req.TrainRatio = ratio
		}
	})

	switch cmd {
	case "run":
		return runPipeline(ctx, cfg, req)
	case "serve":
		return serve(ctx, cfg)
	case "worker":
		return consume(ctx, cfg)
	}

	st, err := domain.ParseStage(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fraudflow: unknown command %q\n\n%s", cmd, usage)
		return 1
	}
	return runStage(ctx, cfg, st, req, *in, *out)
}

// backends holds the optional collaborators of a runner.
type backends struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
}

func (b *backends) Close() {
	if b.bus != nil {
		b.bus.Close()
	}
	if b.cache != nil {
		b.cache.Close()
	}
	if b.repo != nil {
		b.repo.Close()
	}
}

// openBackends connects the repository, cache and bus. With required false a
// backend that cannot be reached is logged and left nil: batch stages run
// without run records, checkpoints or events.
func openBackends(cfg *domain.Config, required bool) (*backends, error) {
	b := &backends{}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		if required {
			return nil, fmt.Errorf("initialize repository: %w", err)
		}
		slog.Warn("run records disabled", "error", err)
	} else {
		b.repo = repo
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		if required {
			b.Close()
			return nil, fmt.Errorf("initialize cache: %w", err)
		}
		slog.Warn("checkpoints disabled", "error", err)
	} else {
		b.cache = c
		slog.Info("cache initialized", "type", cfg.Cache.Type)
		if !required && cfg.Pipeline.Resume && cfg.Cache.Type == "memory" {
			slog.Warn("resume has no effect across invocations with the memory cache",
				"cache", cfg.Cache.Type,
				"hint", "set cache.type to redis",
			)
		}
	}

	eb, err := bus.New(cfg.EventBus)
	if err != nil {
		if required {
			b.Close()
			return nil, fmt.Errorf("initialize event bus: %w", err)
		}
		slog.Warn("run events disabled", "error", err)
	} else {
		b.bus = eb
		slog.Info("event bus initialized", "type", cfg.EventBus.Type)
	}

	return b, nil
}

func newRunner(cfg *domain.Config, b *backends) (*pipeline.Runner, error) {
	return pipeline.NewRunner(cfg, pipeline.Options{
		Store:         staging.NewFileStore(),
		Runs:          b.repo,
		Cache:         b.cache,
		Bus:           b.bus,
		Namespace:     cfg.EventBus.Namespace,
		CheckpointTTL: cfg.Cache.CheckpointTTL,
	})
}

func runPipeline(ctx context.Context, cfg *domain.Config, req domain.RunRequest) int {
	b, _ := openBackends(cfg, false)
	defer b.Close()

	runner, err := newRunner(cfg, b)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		return domain.ExitCode(err)
	}

	rc, err := pipeline.RequestContext(runner.Config(), req)
	if err != nil {
		slog.Error("invalid run request", "error", err)
		return 1
	}

	run, err := runner.Run(ctx, rc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fraudflow: run %s failed: %v\n", rc.ID, err)
		return domain.ExitCode(err)
	}

	fmt.Printf("run %s %s: extracted=%d cleaned=%d scored=%d loaded=%d\n",
		run.ID, run.State, run.RowsExtracted, run.RowsCleaned, run.RowsScored, run.RowsLoaded)
	if m := run.Metrics; m != nil {
		fmt.Printf("holdout: accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f\n",
			m.Accuracy, m.Precision, m.Recall, m.F1)
	}
	return 0
}

// runStage executes one stage as an independent task. -in and -out replace
// the stage's input and output locations in the run paths.
func runStage(ctx context.Context, cfg *domain.Config, st domain.Stage, req domain.RunRequest, in, out string) int {
	b, _ := openBackends(cfg, false)
	defer b.Close()

	runner, err := newRunner(cfg, b)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		return domain.ExitCode(err)
	}

	rc, err := pipeline.RequestContext(runner.Config(), req)
	if err != nil {
		slog.Error("invalid stage request", "error", err)
		return 1
	}
	rc.Paths = overridePaths(rc.Paths, st, in, out)

	res, err := runner.Stage(ctx, rc, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fraudflow: %v\n", err)
		return domain.ExitCode(err)
	}

	fmt.Printf("%s: rows=%d ref=%s", st, res.Rows, res.Ref)
	if res.Skipped {
		fmt.Print(" (checkpoint)")
	}
	fmt.Println()
	if m := res.Metrics; m != nil {
		fmt.Printf("holdout: accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f\n",
			m.Accuracy, m.Precision, m.Recall, m.F1)
	}
	return 0
}

func overridePaths(p domain.Paths, st domain.Stage, in, out string) domain.Paths {
	var src, dst *string
	switch st {
	case domain.StageExtract:
		src, dst = &p.Source, &p.Staged
	case domain.StageTransform:
		src, dst = &p.Staged, &p.Cleaned
	case domain.StageScore:
		src, dst = &p.Cleaned, &p.Scored
	case domain.StageLoad:
		src = &p.Scored
	}
	if in != "" {
		*src = in
	}
	if out != "" && dst != nil {
		*dst = out
	}
	return p
}

// newServer builds the HTTP server. On the in-process channel bus no other
// process can receive run requests, so it also starts a worker; the caller
// stops it before shutting the server down.
func newServer(cfg *domain.Config, b *backends) (*api.Server, *worker.Worker, error) {
	runner, err := newRunner(cfg, b)
	if err != nil {
		return nil, nil, err
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Runner:    runner,
		Repo:      b.repo,
		Cache:     b.cache,
		Bus:       b.bus,
		Namespace: cfg.EventBus.Namespace,
		Version:   Version,
	})

	if b.bus == nil || cfg.EventBus.Type != "channel" {
		return srv, nil, nil
	}
	w := worker.NewWorker(b.bus, runner)
	if err := w.Start(worker.Config{Namespaces: []string{cfg.EventBus.Namespace}}); err != nil {
		return nil, nil, fmt.Errorf("start in-process worker: %w", err)
	}
	slog.Info("in-process worker started", "namespace", cfg.EventBus.Namespace)
	return srv, w, nil
}

func serve(ctx context.Context, cfg *domain.Config) int {
	b, err := openBackends(cfg, true)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return 1
	}
	defer b.Close()

	srv, w, err := newServer(cfg, b)
	if err != nil {
		slog.Error("failed to initialize server", "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fraudflow is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		code = 1
	}
	slog.Info("shutting down...")

	if w != nil {
		if err := w.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudflow shutdown complete")
	return code
}

func consume(ctx context.Context, cfg *domain.Config) int {
	b, err := openBackends(cfg, true)
	if err != nil {
		slog.Error("failed to start worker", "error", err)
		return 1
	}
	defer b.Close()

	runner, err := newRunner(cfg, b)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		return 1
	}

	// FRAUDFLOW_WORKER_NAMESPACES is a comma-separated list.
	namespaces := []string{cfg.EventBus.Namespace}
	if env := os.Getenv(config.EnvPrefix + "WORKER_NAMESPACES"); env != "" {
		namespaces = namespaces[:0]
		for _, ns := range strings.Split(env, ",") {
			if ns = strings.TrimSpace(ns); ns != "" {
				namespaces = append(namespaces, ns)
			}
		}
	}

	w := worker.NewWorker(b.bus, runner)
	if err := w.Start(worker.Config{Namespaces: namespaces}); err != nil {
		slog.Error("failed to start worker", "error", err)
		return 1
	}
	slog.Info("worker started", "namespace_count", len(namespaces))

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}
	stats := w.GetStats()
	slog.Info("worker shutdown complete",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	return 0
}
