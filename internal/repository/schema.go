package repository

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Schema definitions for the fraudflow database.
// Compatible with both SQLite and PostgreSQL.

// transactionColumns is the column order used by every transactions query.
func transactionColumns() []string {
	cols := []string{"record_key", "time"}
	for i := 1; i <= domain.FeatureCount; i++ {
		cols = append(cols, fmt.Sprintf("v%d", i))
	}
	return append(cols,
		"amount", "amount_normalized", "hour_of_day", "amount_category", "class", "fraud_prediction",
	)
}

func schemaTransactions() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS transactions (\n")
	b.WriteString("    record_key TEXT PRIMARY KEY,\n")
	b.WriteString("    time DOUBLE PRECISION NOT NULL,\n")
	for i := 1; i <= domain.FeatureCount; i++ {
		fmt.Fprintf(&b, "    v%d DOUBLE PRECISION NOT NULL,\n", i)
	}
	b.WriteString(`    amount DOUBLE PRECISION NOT NULL,
    amount_normalized DOUBLE PRECISION NOT NULL,
    hour_of_day INTEGER NOT NULL,
    amount_category TEXT NOT NULL,
    class INTEGER NOT NULL CHECK (class IN (0, 1)),
    fraud_prediction INTEGER NOT NULL CHECK (fraud_prediction IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_transactions_prediction ON transactions(fraud_prediction);
`)
	return b.String()
}

const schemaPipelineRuns = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    seed BIGINT NOT NULL,
    train_ratio DOUBLE PRECISION NOT NULL,
    source TEXT NOT NULL,
    staged TEXT NOT NULL,
    cleaned TEXT NOT NULL,
    scored TEXT NOT NULL,
    rows_extracted INTEGER NOT NULL DEFAULT 0,
    rows_cleaned INTEGER NOT NULL DEFAULT 0,
    rows_scored INTEGER NOT NULL DEFAULT 0,
    rows_loaded INTEGER NOT NULL DEFAULT 0,
    metrics TEXT,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_state ON pipeline_runs(state);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions(),
		schemaPipelineRuns,
	}
}
