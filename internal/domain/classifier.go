package domain

import "context"

// FeatureMatrix is a dense feature table with named columns.
type FeatureMatrix struct {
	Columns []string
	Rows    [][]float64
}

// Len returns the number of rows.
func (m FeatureMatrix) Len() int {
	return len(m.Rows)
}

// Subset returns the rows at the given indices, sharing row slices.
func (m FeatureMatrix) Subset(idx []int) FeatureMatrix {
	rows := make([][]float64, len(idx))
	for i, j := range idx {
		rows[i] = m.Rows[j]
	}
	return FeatureMatrix{Columns: m.Columns, Rows: rows}
}

// Classifier fits a binary model. Implementations must be deterministic for
// identical input.
type Classifier interface {
	Name() string
	Fit(ctx context.Context, features FeatureMatrix, labels []int) (Model, error)
}

// Model predicts 0/1 labels.
type Model interface {
	Predict(ctx context.Context, features FeatureMatrix) ([]int, error)
}
