// Package score fits a classifier on the cleaned dataset and appends a
// prediction to every row.
package score

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/model"
	"github.com/opensource-finance/fraudflow/internal/rules"
)

// Result summarises one scoring pass.
type Result struct {
	Ref        string              `json:"ref"`
	Rows       int                 `json:"rows"`
	Seed       int64               `json:"seed"`
	TrainRatio float64             `json:"trainRatio"`
	Stratified bool                `json:"stratified"`
	Metrics    domain.ScoreMetrics `json:"metrics"`
	Digest     string              `json:"digest"`
	Bytes      int64               `json:"bytes"`
}

// NewClassifier builds the configured classifier.
func NewClassifier(cfg domain.ScoreConfig) (domain.Classifier, error) {
	switch cfg.Classifier {
	case "", domain.ClassifierLogistic:
		return model.NewLogistic(cfg), nil
	case domain.ClassifierExpression:
		return rules.NewExpression(cfg.Expression, 0), nil
	}
	return nil, fmt.Errorf("%w: unknown classifier %q", domain.ErrInvalidInput, cfg.Classifier)
}

// Scorer splits, fits and predicts.
type Scorer struct {
	store      domain.ArtifactStore
	classifier domain.Classifier
	seed       int64
	trainRatio float64
	stratify   bool
}

// NewScorer creates a scorer. Seed and ratio come from cfg.
func NewScorer(store domain.ArtifactStore, classifier domain.Classifier, cfg domain.ScoreConfig) *Scorer {
	return &Scorer{
		store:      store,
		classifier: classifier,
		seed:       cfg.Seed,
		trainRatio: cfg.TrainRatio,
		stratify:   cfg.Stratify,
	}
}

// Score reads the cleaned dataset at input and publishes the scored dataset
// at output. Every input row gets exactly one 0/1 prediction.
func (s *Scorer) Score(ctx context.Context, input, output string) (*Result, error) {
	start := time.Now()

	txs, err := s.read(ctx, input)
	if err != nil {
		return nil, err
	}

	features, labels := Matrix(txs)
	split, err := model.TrainTestSplit(labels, s.trainRatio, s.seed, s.stratify)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTraining, err)
	}
	neg, pos := classCounts(labels, split.Train)
	switch {
	case len(split.Train) == 0:
		return nil, fmt.Errorf("%w: training subset is empty", domain.ErrTraining)
	case neg == 0 || pos == 0:
		return nil, fmt.Errorf("%w: training subset has a single class (%d legitimate, %d fraud)", domain.ErrTraining, neg, pos)
	}

	m, err := s.classifier.Fit(ctx, features.Subset(split.Train), subsetLabels(labels, split.Train))
	if err != nil {
		if errors.Is(err, domain.ErrTraining) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTraining, err)
	}

	preds, err := m.Predict(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("%w: predict: %v", domain.ErrTraining, err)
	}
	if len(preds) != len(txs) {
		return nil, fmt.Errorf("%w: %d predictions for %d rows", domain.ErrTraining, len(preds), len(txs))
	}

	metrics := s.evaluate(labels, preds, split)

	art, err := s.store.Publish(ctx, output, func(w io.Writer) error {
		cw, err := dataset.NewWriter(w, domain.ScoredColumns())
		if err != nil {
			return err
		}
		for i := range txs {
			p := preds[i]
			if p != 0 && p != 1 {
				return fmt.Errorf("%w: non-binary prediction %d at row %d", domain.ErrTraining, p, i)
			}
			rec := dataset.ScoredRecord(domain.ScoredTransaction{Transaction: txs[i], FraudPrediction: p})
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return cw.Flush()
	})
	if err != nil {
		if errors.Is(err, domain.ErrTraining) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: publish %s: %v", domain.ErrTraining, output, err)
	}

	slog.Info("score complete",
		"input", input,
		"output", output,
		"classifier", s.classifier.Name(),
		"rows", len(txs),
		"train_rows", metrics.TrainRows,
		"holdout_rows", metrics.HoldoutRows,
		"seed", s.seed,
		"train_ratio", s.trainRatio,
		"predicted_fraud", metrics.PredictedFraud,
		"precision", metrics.Precision,
		"recall", metrics.Recall,
		"f1", metrics.F1,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Ref:        art.Ref,
		Rows:       len(txs),
		Seed:       s.seed,
		TrainRatio: s.trainRatio,
		Stratified: s.stratify,
		Metrics:    metrics,
		Digest:     art.Digest,
		Bytes:      art.Bytes,
	}, nil
}

func (s *Scorer) read(ctx context.Context, input string) ([]domain.Transaction, error) {
	rc, err := s.store.Open(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: cleaned input %s: %v", domain.ErrTraining, input, err)
	}
	defer rc.Close()

	r, err := dataset.NewReader(rc)
	if err != nil {
		return nil, err
	}
	layout, err := dataset.NewCleanedLayout(r.Header)
	if err != nil {
		return nil, err
	}

	var txs []domain.Transaction
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
		tx, err := layout.Parse(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d %v", domain.ErrSchemaMismatch, r.Line(), err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// evaluate computes holdout metrics. PredictedFraud counts every row.
func (s *Scorer) evaluate(labels, preds []int, split model.Split) domain.ScoreMetrics {
	hy := subsetLabels(labels, split.Holdout)
	hp := subsetLabels(preds, split.Holdout)
	c := model.NewConfusion(hy, hp)
	prec, rec, f1 := c.PrecisionRecallF1()

	fraud := 0
	for _, p := range preds {
		fraud += p
	}
	return domain.ScoreMetrics{
		Classifier:     s.classifier.Name(),
		TrainRows:      len(split.Train),
		HoldoutRows:    len(split.Holdout),
		Accuracy:       c.Accuracy(),
		Precision:      prec,
		Recall:         rec,
		F1:             f1,
		TruePositives:  c.TP,
		FalsePositives: c.FP,
		TrueNegatives:  c.TN,
		FalseNegatives: c.FN,
		PredictedFraud: fraud,
	}
}

func subsetLabels(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
