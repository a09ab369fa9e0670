// Package fixture builds small raw datasets for tests.
package fixture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Row is one raw transaction.
type Row struct {
	Time   float64
	V      [domain.FeatureCount]float64
	Amount float64
	Class  int
}

// Fields renders the row in RawColumns order.
func (r Row) Fields() []string {
	out := make([]string, 0, domain.FeatureCount+3)
	out = append(out, dataset.FormatFloat(r.Time))
	for _, v := range r.V {
		out = append(out, dataset.FormatFloat(v))
	}
	return append(out, dataset.FormatFloat(r.Amount), dataset.FormatFloat(float64(r.Class)))
}

// CSV renders rows with the raw header.
func CSV(rows []Row) string {
	var b strings.Builder
	b.WriteString(strings.Join(domain.RawColumns(), ","))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(strings.Join(r.Fields(), ","))
		b.WriteString("\n")
	}
	return b.String()
}

// Separable returns n rows where the first fraud rows are Class 1 with large
// V1..V5 and the rest are legitimate with small V1..V5. Time and Amount grow
// with the row index so every row is distinct.
func Separable(n, fraud int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		r := Row{Time: float64(i * 1800), Amount: float64(10 + i*37)}
		signal := -5 - float64(i)/10
		if i < fraud {
			signal = 5 + float64(i)/10
			r.Class = 1
		}
		for j := 0; j < 5; j++ {
			r.V[j] = signal
		}
		rows[i] = r
	}
	return rows
}

// Write stores content under a temp dir and returns its path.
func Write(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}
