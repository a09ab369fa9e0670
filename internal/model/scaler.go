package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each column to zero mean and unit variance using
// statistics from the rows it was fitted on.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(rows [][]float64) *StandardScaler {
	if len(rows) == 0 {
		return &StandardScaler{}
	}
	cols := len(rows[0])
	s := &StandardScaler{Mean: make([]float64, cols), Std: make([]float64, cols)}
	col := make([]float64, len(rows))
	for j := 0; j < cols; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean := stat.Mean(col, nil)
		s.Mean[j] = mean
		s.Std[j] = math.Sqrt(stat.MomentAbout(2, col, mean, nil))
	}
	return s
}

// Transform standardises rows. Columns with zero spread map to 0.
func (s *StandardScaler) Transform(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		o := make([]float64, len(r))
		for j, v := range r {
			if s.Std[j] > 0 {
				o[j] = (v - s.Mean[j]) / s.Std[j]
			}
		}
		out[i] = o
	}
	return out
}
