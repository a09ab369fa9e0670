// Package worker executes pipeline runs requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/pipeline"
)

var errStopped = errors.New("worker stopped")

// Runner is the part of pipeline.Runner the worker drives.
type Runner interface {
	Run(ctx context.Context, rc domain.RunContext) (*domain.Run, error)
	Config() domain.PipelineConfig
}

// Worker consumes run requests from the EventBus. Requests on one
// subscription are executed one at a time.
type Worker struct {
	bus    domain.EventBus
	runner Runner

	subscriptions []domain.Subscription

	// mu orders wg.Add in handlers against wg.Wait in Stop.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	succeeded atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Namespaces to consume run requests from. Empty means "default".
	Namespaces []string
}

// NewWorker creates a new worker.
func NewWorker(bus domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to run requests in every configured namespace.
func (w *Worker) Start(cfg Config) error {
	namespaces := cfg.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{"default"}
	}

	for _, ns := range namespaces {
		sub, err := w.bus.Subscribe(w.ctx, ns, domain.TopicRunRequested, w.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s in namespace %s: %w", domain.TopicRunRequested, ns, err)
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("worker subscribed",
			"namespace", ns,
			"topic", domain.TopicRunRequested,
		)
	}

	return nil
}

// handleMessage executes one requested run. Run failures are recorded by the
// runner and are not handler errors.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		slog.Warn("worker stopped, dropping run request", "message_id", msg.ID)
		return errStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	start := time.Now()

	var req domain.RunRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse run request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	rc, err := pipeline.RequestContext(w.runner.Config(), req)
	if err != nil {
		slog.Error("invalid run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("run requested",
		"message_id", msg.ID,
		"namespace", msg.Namespace,
		"run_id", rc.ID,
	)

	run, err := w.runner.Run(ctx, rc)
	if err != nil {
		w.failed.Add(1)
		slog.Warn("requested run failed",
			"run_id", rc.ID,
			"exit_code", domain.ExitCode(err),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	w.succeeded.Add(1)
	slog.Info("requested run processed",
		"run_id", run.ID,
		"state", run.State,
		"rows_loaded", run.RowsLoaded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Succeeded         int64    `json:"succeeded"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Succeeded:         w.succeeded.Load(),
		Failed:            w.failed.Load(),
	}
}
