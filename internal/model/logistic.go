// Package model holds the statistical classifiers used by the score stage.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Threshold is the probability at or above which a row is predicted fraud.
const Threshold = 0.5

const (
	minWeight = 1e-10
	jitter    = 1e-8
)

// Logistic fits L2-regularised logistic regression by iteratively
// reweighted least squares. Features are standardised on the training rows
// and the intercept is not penalised.
type Logistic struct {
	L2            float64
	MaxIterations int
	Tolerance     float64
}

// NewLogistic creates a logistic classifier from score settings.
func NewLogistic(cfg domain.ScoreConfig) *Logistic {
	l := &Logistic{L2: cfg.L2, MaxIterations: cfg.MaxIterations, Tolerance: cfg.Tolerance}
	if l.MaxIterations <= 0 {
		l.MaxIterations = 100
	}
	if l.Tolerance <= 0 {
		l.Tolerance = 1e-6
	}
	return l
}

// Name implements domain.Classifier.
func (l *Logistic) Name() string {
	return domain.ClassifierLogistic
}

// Fit implements domain.Classifier. It starts from zero weights so the
// result depends only on the training rows.
func (l *Logistic) Fit(ctx context.Context, features domain.FeatureMatrix, labels []int) (domain.Model, error) {
	n := features.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty training set", domain.ErrTraining)
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d rows but %d labels", domain.ErrTraining, n, len(labels))
	}
	positives := 0
	for _, y := range labels {
		positives += y
	}
	if positives == 0 || positives == n {
		return nil, fmt.Errorf("%w: training set has a single class", domain.ErrTraining)
	}

	scaler := FitScaler(features.Rows)
	z := design(scaler.Transform(features.Rows))
	k := len(features.Columns) + 1

	y := mat.NewVecDense(n, nil)
	for i, v := range labels {
		y.SetVec(i, float64(v))
	}

	w := mat.NewVecDense(k, nil)
	eta := mat.NewVecDense(n, nil)
	resid := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(k, nil)
	step := mat.NewVecDense(k, nil)
	weights := make([]float64, n)
	wz := mat.NewDense(n, k, nil)
	var hess mat.Dense
	sym := mat.NewSymDense(k, nil)
	var chol mat.Cholesky

	for iter := 1; iter <= l.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		eta.MulVec(z, w)
		for i := 0; i < n; i++ {
			p := sigmoid(eta.AtVec(i))
			resid.SetVec(i, y.AtVec(i)-p)
			weights[i] = math.Max(p*(1-p), minWeight)
		}

		grad.MulVec(z.T(), resid)
		for j := 1; j < k; j++ {
			grad.SetVec(j, grad.AtVec(j)-l.L2*w.AtVec(j))
		}

		wz.Apply(func(i, _ int, v float64) float64 { return v * weights[i] }, z)
		hess.Mul(z.T(), wz)
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				v := hess.At(i, j)
				if i == j {
					v += jitter
					if i > 0 {
						v += l.L2
					}
				}
				sym.SetSym(i, j, v)
			}
		}
		if ok := chol.Factorize(sym); !ok {
			return nil, fmt.Errorf("%w: hessian not positive definite at iteration %d", domain.ErrTraining, iter)
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			return nil, fmt.Errorf("%w: solve at iteration %d: %v", domain.ErrTraining, iter, err)
		}
		w.AddVec(w, step)

		maxStep := 0.0
		for j := 0; j < k; j++ {
			maxStep = math.Max(maxStep, math.Abs(step.AtVec(j)))
		}
		if math.IsNaN(maxStep) || math.IsInf(maxStep, 0) {
			return nil, fmt.Errorf("%w: diverged at iteration %d", domain.ErrTraining, iter)
		}
		if maxStep < l.Tolerance {
			coef := make([]float64, k)
			copy(coef, w.RawVector().Data)
			slog.Debug("logistic regression converged", "iterations", iter, "rows", n, "features", k-1)
			return &LogisticModel{Columns: features.Columns, Scaler: scaler, Coef: coef, Iterations: iter}, nil
		}
	}
	return nil, fmt.Errorf("%w: did not converge in %d iterations", domain.ErrTraining, l.MaxIterations)
}

// LogisticModel is a fitted logistic regression. Coef[0] is the intercept.
type LogisticModel struct {
	Columns    []string
	Scaler     *StandardScaler
	Coef       []float64
	Iterations int
}

// Probabilities returns P(fraud) for each row.
func (m *LogisticModel) Probabilities(features domain.FeatureMatrix) ([]float64, error) {
	if len(features.Columns) != len(m.Columns) {
		return nil, fmt.Errorf("%w: model has %d features, input has %d", domain.ErrInvalidInput, len(m.Columns), len(features.Columns))
	}
	scaled := m.Scaler.Transform(features.Rows)
	out := make([]float64, len(scaled))
	for i, row := range scaled {
		s := m.Coef[0]
		for j, v := range row {
			s += m.Coef[j+1] * v
		}
		out[i] = sigmoid(s)
	}
	return out, nil
}

// Predict implements domain.Model.
func (m *LogisticModel) Predict(_ context.Context, features domain.FeatureMatrix) ([]int, error) {
	probs, err := m.Probabilities(features)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= Threshold {
			out[i] = 1
		}
	}
	return out, nil
}

// design prepends an intercept column.
func design(rows [][]float64) *mat.Dense {
	n := len(rows)
	k := len(rows[0]) + 1
	z := mat.NewDense(n, k, nil)
	for i, r := range rows {
		z.Set(i, 0, 1)
		for j, v := range r {
			z.Set(i, j+1, v)
		}
	}
	return z
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
