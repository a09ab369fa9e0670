// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string

	// beforeRow, when set, runs before each row of an upsert batch.
	beforeRow func(i int) error
}

// Option customises a repository at open time.
type Option func(*SQLRepository)

// WithRowHook installs a function called before each row of an upsert
// batch. A non-nil return aborts and rolls back the batch.
func WithRowHook(fn func(i int) error) Option {
	return func(r *SQLRepository) {
		r.beforeRow = fn
	}
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	return Open(context.Background(), cfg)
}

// Open is New with a context bounding the initial connection. The
// configured ConnectTimeout applies on top of ctx.
func Open(ctx context.Context, cfg domain.RepositoryConfig, opts ...Option) (*SQLRepository, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", domain.ErrInvalidInput, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
	for _, opt := range opts {
		opt(repo)
	}

	// Run migrations
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func upsertScoredQuery() string {
	cols := transactionColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, c+" = excluded."+c)
	}
	return "INSERT INTO transactions (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")\n" +
		"ON CONFLICT(record_key) DO UPDATE SET " + strings.Join(updates, ", ")
}

func scoredArgs(s *domain.ScoredTransaction) []any {
	args := make([]any, 0, domain.FeatureCount+8)
	args = append(args, s.Key, s.Time)
	for _, v := range s.Features {
		args = append(args, v)
	}
	return append(args, s.Amount, s.AmountNormalized, s.HourOfDay, s.AmountCategory, s.Class, s.FraudPrediction)
}

// UpsertScored writes all records in one transaction keyed by record_key.
// Any failure rolls the whole batch back.
func (r *SQLRepository) UpsertScored(ctx context.Context, records []domain.ScoredTransaction) (n int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
			n = 0
		}
	}()

	stmt, err := tx.PrepareContext(ctx, r.rebind(upsertScoredQuery()))
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		if r.beforeRow != nil {
			if err = r.beforeRow(i); err != nil {
				return 0, err
			}
		}
		if _, err = stmt.ExecContext(ctx, scoredArgs(&records[i])...); err != nil {
			return 0, fmt.Errorf("upsert record %s: %w", records[i].Key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(records), nil
}

// GetScored retrieves one persisted row by record key.
func (r *SQLRepository) GetScored(ctx context.Context, key string) (*domain.ScoredTransaction, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: record key is required", domain.ErrInvalidInput)
	}

	query := "SELECT " + strings.Join(transactionColumns(), ", ") + " FROM transactions WHERE record_key = ?"

	var s domain.ScoredTransaction
	dest := []any{&s.Key, &s.Time}
	for i := range s.Features {
		dest = append(dest, &s.Features[i])
	}
	dest = append(dest, &s.Amount, &s.AmountNormalized, &s.HourOfDay, &s.AmountCategory, &s.Class, &s.FraudPrediction)

	err := r.db.QueryRowContext(ctx, r.rebind(query), key).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountScored returns the number of persisted rows.
func (r *SQLRepository) CountScored(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SaveRun inserts or updates a run record.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}

	var metrics sql.NullString
	if run.Metrics != nil {
		b, err := json.Marshal(run.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metrics = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO pipeline_runs (
			id, state, seed, train_ratio, source, staged, cleaned, scored,
			rows_extracted, rows_cleaned, rows_scored, rows_loaded,
			metrics, error, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			rows_extracted = excluded.rows_extracted,
			rows_cleaned = excluded.rows_cleaned,
			rows_scored = excluded.rows_scored,
			rows_loaded = excluded.rows_loaded,
			metrics = excluded.metrics,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.State), run.Seed, run.TrainRatio,
		run.Paths.Source, run.Paths.Staged, run.Paths.Cleaned, run.Paths.Scored,
		run.RowsExtracted, run.RowsCleaned, run.RowsScored, run.RowsLoaded,
		metrics, nullString(run.Error), run.StartedAt.UTC(), run.UpdatedAt.UTC(),
	)
	return err
}

const selectRun = `
	SELECT id, state, seed, train_ratio, source, staged, cleaned, scored,
		   rows_extracted, rows_cleaned, rows_scored, rows_loaded,
		   metrics, error, started_at, updated_at
	FROM pipeline_runs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*domain.Run, error) {
	var run domain.Run
	var state string
	var metrics, errText sql.NullString

	err := sc.Scan(
		&run.ID, &state, &run.Seed, &run.TrainRatio,
		&run.Paths.Source, &run.Paths.Staged, &run.Paths.Cleaned, &run.Paths.Scored,
		&run.RowsExtracted, &run.RowsCleaned, &run.RowsScored, &run.RowsLoaded,
		&metrics, &errText, &run.StartedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.State = domain.RunState(state)
	run.Error = errText.String
	if metrics.Valid && metrics.String != "" {
		var m domain.ScoreMetrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal metrics for run %s: %w", run.ID, err)
		}
		run.Metrics = &m
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(selectRun+" WHERE id = ?"), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(selectRun+" ORDER BY started_at DESC, id LIMIT ?"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
