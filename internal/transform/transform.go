// Package transform cleans the staged raw dataset and derives features.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
)

// KeyLength is the number of hex characters kept from the content hash.
const KeyLength = 32

// Result summarises one transform.
type Result struct {
	Ref            string `json:"ref"`
	RowsIn         int    `json:"rowsIn"`
	Duplicates     int    `json:"duplicates"`
	DroppedMissing int    `json:"droppedMissing"`
	Imputed        int    `json:"imputed"`
	RowsOut        int    `json:"rowsOut"`
	Digest         string `json:"digest"`
	Bytes          int64  `json:"bytes"`
}

// Transformer turns a staged raw file into the cleaned schema.
type Transformer struct {
	store domain.ArtifactStore
	cfg   domain.TransformConfig
}

// NewTransformer creates a transformer. Unset options fall back to impute and
// log normalization.
func NewTransformer(store domain.ArtifactStore, cfg domain.TransformConfig) *Transformer {
	if cfg.MissingPolicy == "" {
		cfg.MissingPolicy = domain.MissingImpute
	}
	if cfg.Normalization == "" {
		cfg.Normalization = domain.NormalizeLog
	}
	return &Transformer{store: store, cfg: cfg}
}

// Transform reads input and publishes the cleaned dataset at output.
// The output depends only on the input bytes and the options.
func (t *Transformer) Transform(ctx context.Context, input, output string) (*Result, error) {
	start := time.Now()

	norm, err := newNormalizer(t.cfg.Normalization)
	if err != nil {
		return nil, err
	}

	rc, err := t.store.Open(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: staged input %s: %v", domain.ErrTransform, input, err)
	}
	defer rc.Close()

	r, err := dataset.NewReader(rc)
	if err != nil {
		return nil, err
	}
	if err := r.Header.Require(domain.RawColumns()); err != nil {
		return nil, err
	}

	raw := domain.RawColumns()
	positions := make([]int, len(raw))
	for i, c := range raw {
		positions[i], _ = r.Header.Index(c)
	}

	res := &Result{}
	seen := make(map[string]int)
	var txs []domain.Transaction
	fields := make([]string, len(raw))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res.RowsIn++
		line := r.Line()

		for i, pos := range positions {
			fields[i] = strings.TrimSpace(rec[pos])
		}

		key := contentKey(fields)
		n := seen[key]
		seen[key] = n + 1
		if n > 0 {
			if t.cfg.DropDuplicates {
				res.Duplicates++
				slog.Debug("duplicate row dropped", "line", line, "record_key", key)
				continue
			}
			key = key + "-" + strconv.Itoa(n+1)
		}

		tx, imputed, drop, err := t.parse(fields, raw, line)
		if err != nil {
			return nil, err
		}
		if drop != "" {
			res.DroppedMissing++
			slog.Warn("row dropped", "line", line, "reason", drop)
			continue
		}
		if imputed > 0 {
			res.Imputed++
		}
		tx.Key = key
		txs = append(txs, tx)
	}

	if res.Duplicates > 0 {
		slog.Info("duplicate rows dropped", "count", res.Duplicates)
	}
	if res.Imputed > 0 {
		slog.Info("rows with missing values imputed", "count", res.Imputed, "fill", 0)
	}

	amounts := make([]float64, len(txs))
	for i := range txs {
		amounts[i] = txs[i].Amount
	}
	normalized := norm(amounts)
	for i := range txs {
		txs[i].AmountNormalized = normalized[i]
		txs[i].HourOfDay = domain.HourOfDayOf(txs[i].Time)
		txs[i].AmountCategory = domain.AmountCategoryOf(txs[i].Amount)
	}

	art, err := t.store.Publish(ctx, output, func(w io.Writer) error {
		cw, err := dataset.NewWriter(w, domain.CleanedColumns())
		if err != nil {
			return err
		}
		for i := range txs {
			if err := cw.Write(dataset.CleanedRecord(txs[i])); err != nil {
				return err
			}
		}
		return cw.Flush()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: publish %s: %v", domain.ErrTransform, output, err)
	}

	res.Ref = art.Ref
	res.RowsOut = len(txs)
	res.Digest = art.Digest
	res.Bytes = art.Bytes

	slog.Info("transform complete",
		"input", input,
		"output", output,
		"rows_in", res.RowsIn,
		"rows_out", res.RowsOut,
		"duplicates", res.Duplicates,
		"dropped_missing", res.DroppedMissing,
		"normalization", t.cfg.Normalization,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// parse converts the raw fields of one row. A non-empty drop reason means the
// row is discarded; an error aborts the transform.
func (t *Transformer) parse(fields, cols []string, line int) (domain.Transaction, int, string, error) {
	var tx domain.Transaction
	classIdx := len(cols) - 1

	if dataset.IsMissing(fields[classIdx]) {
		return tx, 0, "missing " + domain.ColClass, nil
	}

	imputed := 0
	values := make([]float64, len(cols)-1)
	for i := range values {
		if dataset.IsMissing(fields[i]) {
			if t.cfg.MissingPolicy == domain.MissingDrop {
				return tx, 0, "missing " + cols[i], nil
			}
			imputed++
			continue
		}
		v, err := dataset.ParseFloat(fields[i])
		if err != nil {
			return tx, 0, "", fmt.Errorf("%w: line %d column %s: %v", domain.ErrTransform, line, cols[i], err)
		}
		values[i] = v
	}

	class, err := dataset.ParseLabel(fields[classIdx])
	if err != nil {
		return tx, 0, "", fmt.Errorf("%w: line %d column %s: %v", domain.ErrTransform, line, domain.ColClass, err)
	}

	tx.Time = values[0]
	copy(tx.Features[:], values[1:1+domain.FeatureCount])
	tx.Amount = values[1+domain.FeatureCount]
	tx.Class = class
	if tx.Amount < 0 {
		return tx, 0, "", fmt.Errorf("%w: line %d column %s: negative amount %v", domain.ErrTransform, line, domain.ColAmount, tx.Amount)
	}
	return tx, imputed, "", nil
}

// contentKey hashes the raw canonical fields of a row.
func contentKey(fields []string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, ",")))
	return hex.EncodeToString(sum[:])[:KeyLength]
}
