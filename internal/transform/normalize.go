package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// normalizer maps amounts to normalized values. Every implementation is
// total over non-negative finite input.
type normalizer func(amounts []float64) []float64

func newNormalizer(name string) (normalizer, error) {
	switch name {
	case domain.NormalizeLog:
		return logNormalize, nil
	case domain.NormalizeZScore:
		return zscoreNormalize, nil
	case domain.NormalizeMinMax:
		return minmaxNormalize, nil
	}
	return nil, fmt.Errorf("%w: unknown normalization %q", domain.ErrTransform, name)
}

func logNormalize(amounts []float64) []float64 {
	out := make([]float64, len(amounts))
	for i, a := range amounts {
		out[i] = math.Log1p(a)
	}
	return out
}

// zscoreNormalize uses the sample standard deviation. A constant or
// single-value column maps to 0.
func zscoreNormalize(amounts []float64) []float64 {
	out := make([]float64, len(amounts))
	if len(amounts) < 2 {
		return out
	}
	mean, std := stat.MeanStdDev(amounts, nil)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, a := range amounts {
		out[i] = (a - mean) / std
	}
	return out
}

func minmaxNormalize(amounts []float64) []float64 {
	out := make([]float64, len(amounts))
	if len(amounts) == 0 {
		return out
	}
	lo, hi := floats.Min(amounts), floats.Max(amounts)
	if hi == lo {
		return out
	}
	for i, a := range amounts {
		out[i] = (a - lo) / (hi - lo)
	}
	return out
}
