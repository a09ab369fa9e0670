// Package rules provides a CEL-Go based expression classifier.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Threshold is the score at or above which a row is predicted fraud.
const Threshold = 0.5

// Expression classifies rows with a CEL expression over the feature names,
// e.g. `V14 < -5.0 && Amount > 100.0`. The expression must return bool, int
// or double; true counts as 1.0.
type Expression struct {
	source     string
	maxWorkers int
}

// NewExpression creates an expression classifier.
func NewExpression(source string, maxWorkers int) *Expression {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Expression{source: source, maxWorkers: maxWorkers}
}

// Name implements domain.Classifier.
func (e *Expression) Name() string {
	return domain.ClassifierExpression
}

// Validate compiles the expression against the given columns.
func (e *Expression) Validate(columns []string) error {
	_, err := e.compile(columns)
	return err
}

// Fit compiles the expression. Labels are not used; the expression is the
// model.
func (e *Expression) Fit(_ context.Context, features domain.FeatureMatrix, labels []int) (domain.Model, error) {
	if features.Len() == 0 {
		return nil, fmt.Errorf("%w: empty training set", domain.ErrTraining)
	}
	prog, err := e.compile(features.Columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTraining, err)
	}
	return &ExpressionModel{columns: features.Columns, program: prog, maxWorkers: e.maxWorkers}, nil
}

func (e *Expression) compile(columns []string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(columns))
	for _, c := range columns {
		opts = append(opts, cel.Variable(c, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(e.source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// ExpressionModel evaluates a compiled expression per row.
type ExpressionModel struct {
	columns    []string
	program    cel.Program
	maxWorkers int
}

// Predict implements domain.Model. Rows are evaluated in parallel; output
// order matches input order.
func (m *ExpressionModel) Predict(ctx context.Context, features domain.FeatureMatrix) ([]int, error) {
	if len(features.Columns) != len(m.columns) {
		return nil, fmt.Errorf("%w: model has %d features, input has %d", domain.ErrInvalidInput, len(m.columns), len(features.Columns))
	}

	n := features.Len()
	out := make([]int, n)
	if n == 0 {
		return out, nil
	}

	workers := m.maxWorkers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			activation := make(map[string]any, len(m.columns))
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				for j, c := range m.columns {
					activation[c] = features.Rows[i][j]
				}
				val, _, err := m.program.Eval(activation)
				if err != nil {
					errs[w] = fmt.Errorf("row %d: evaluation error: %w", i, err)
					return
				}
				if toScore(val) >= Threshold {
					out[i] = 1
				}
			}
		}(w, start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
