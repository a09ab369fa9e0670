package transform

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/fixture"
	"github.com/opensource-finance/fraudflow/internal/staging"
)

func defaultConfig() domain.TransformConfig {
	return domain.DefaultConfig().Pipeline.Transform
}

func readCleaned(t *testing.T, path string) []domain.Transaction {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open cleaned: %v", err)
	}
	defer f.Close()

	r, err := dataset.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.Join(r.Header.Columns, ","), strings.Join(domain.CleanedColumns(), ","); got != want {
		t.Fatalf("unexpected cleaned header:\n got %s\nwant %s", got, want)
	}
	layout, err := dataset.NewCleanedLayout(r.Header)
	if err != nil {
		t.Fatal(err)
	}
	var out []domain.Transaction
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		tx, err := layout.Parse(rec)
		if err != nil {
			t.Fatalf("parse cleaned: %v", err)
		}
		out = append(out, tx)
	}
	return out
}

func rawWithRow(fields []string) string {
	return strings.Join(domain.RawColumns(), ",") + "\n" + strings.Join(fields, ",") + "\n"
}

func TestTransform(t *testing.T) {
	ctx := context.Background()
	store := staging.NewFileStore()

	t.Run("Idempotent", func(t *testing.T) {
		src := fixture.Write(t, "extracted.csv", fixture.CSV(fixture.Separable(20, 4)))
		dir := t.TempDir()
		tr := NewTransformer(store, defaultConfig())

		first, err := tr.Transform(ctx, src, filepath.Join(dir, "a.csv"))
		if err != nil {
			t.Fatalf("first transform failed: %v", err)
		}
		second, err := tr.Transform(ctx, src, filepath.Join(dir, "b.csv"))
		if err != nil {
			t.Fatalf("second transform failed: %v", err)
		}

		a, _ := os.ReadFile(filepath.Join(dir, "a.csv"))
		b, _ := os.ReadFile(filepath.Join(dir, "b.csv"))
		if !bytes.Equal(a, b) {
			t.Error("transform output differs between runs")
		}
		if first.Digest != second.Digest {
			t.Errorf("digest differs: %s vs %s", first.Digest, second.Digest)
		}
	})

	t.Run("DerivedFeatures", func(t *testing.T) {
		rows := []fixture.Row{
			{Time: 0, Amount: 0, Class: 0},
			{Time: 3599, Amount: 49.99, Class: 0},
			{Time: 3600, Amount: 50, Class: 1},
			{Time: 86400 + 7200, Amount: 200, Class: 0},
			{Time: 172792, Amount: 1000, Class: 0},
		}
		src := fixture.Write(t, "extracted.csv", fixture.CSV(rows))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		if _, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, out); err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		txs := readCleaned(t, out)
		if len(txs) != 5 {
			t.Fatalf("expected 5 rows, got %d", len(txs))
		}

		wantHour := []int{0, 0, 1, 2, 23}
		wantCat := []string{domain.CategorySmall, domain.CategorySmall, domain.CategoryMedium, domain.CategoryLarge, domain.CategoryXL}
		for i, tx := range txs {
			if tx.HourOfDay != wantHour[i] {
				t.Errorf("row %d: hour %d, want %d", i, tx.HourOfDay, wantHour[i])
			}
			if tx.AmountCategory != wantCat[i] {
				t.Errorf("row %d: category %s, want %s", i, tx.AmountCategory, wantCat[i])
			}
			if want := math.Log1p(tx.Amount); math.Abs(tx.AmountNormalized-want) > 1e-12 {
				t.Errorf("row %d: normalized %v, want %v", i, tx.AmountNormalized, want)
			}
			if len(tx.Key) != KeyLength {
				t.Errorf("row %d: key %q has unexpected length", i, tx.Key)
			}
		}
	})

	t.Run("DropsDuplicates", func(t *testing.T) {
		rows := fixture.Separable(5, 1)
		rows = append(rows, rows[2], rows[2], rows[4])
		src := fixture.Write(t, "extracted.csv", fixture.CSV(rows))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		res, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, out)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if res.RowsIn != 8 || res.Duplicates != 3 || res.RowsOut != 5 {
			t.Errorf("unexpected counts: %+v", res)
		}
	})

	t.Run("KeepsDuplicatesWithSuffix", func(t *testing.T) {
		rows := fixture.Separable(3, 1)
		rows = append(rows, rows[1], rows[1])
		src := fixture.Write(t, "extracted.csv", fixture.CSV(rows))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		cfg := defaultConfig()
		cfg.DropDuplicates = false
		res, err := NewTransformer(store, cfg).Transform(ctx, src, out)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if res.RowsOut != 5 {
			t.Fatalf("expected 5 rows, got %d", res.RowsOut)
		}
		txs := readCleaned(t, out)
		keys := map[string]bool{}
		for _, tx := range txs {
			if keys[tx.Key] {
				t.Errorf("duplicate record key %s", tx.Key)
			}
			keys[tx.Key] = true
		}
		if txs[3].Key != txs[1].Key+"-2" || txs[4].Key != txs[1].Key+"-3" {
			t.Errorf("unexpected repeat keys: %s %s (base %s)", txs[3].Key, txs[4].Key, txs[1].Key)
		}
	})

	t.Run("ImputesMissing", func(t *testing.T) {
		fields := fixture.Separable(1, 0)[0].Fields()
		fields[3] = "NaN"
		fields[29] = ""
		src := fixture.Write(t, "extracted.csv", rawWithRow(fields))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		res, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, out)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if res.Imputed != 1 || res.RowsOut != 1 {
			t.Errorf("unexpected counts: %+v", res)
		}
		tx := readCleaned(t, out)[0]
		if tx.Features[2] != 0 || tx.Amount != 0 {
			t.Errorf("expected imputed zeros, got V3=%v Amount=%v", tx.Features[2], tx.Amount)
		}
	})

	t.Run("DropPolicy", func(t *testing.T) {
		rows := fixture.Separable(2, 0)
		bad := rows[1].Fields()
		bad[5] = "NA"
		content := fixture.CSV(rows[:1]) + strings.Join(bad, ",") + "\n"
		src := fixture.Write(t, "extracted.csv", content)
		out := filepath.Join(t.TempDir(), "transformed.csv")

		cfg := defaultConfig()
		cfg.MissingPolicy = domain.MissingDrop
		res, err := NewTransformer(store, cfg).Transform(ctx, src, out)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if res.DroppedMissing != 1 || res.RowsOut != 1 {
			t.Errorf("unexpected counts: %+v", res)
		}
	})

	t.Run("MissingClassDropped", func(t *testing.T) {
		fields := fixture.Separable(1, 0)[0].Fields()
		fields[len(fields)-1] = ""
		src := fixture.Write(t, "extracted.csv", rawWithRow(fields))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		res, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, out)
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if res.DroppedMissing != 1 || res.RowsOut != 0 {
			t.Errorf("unexpected counts: %+v", res)
		}
	})

	t.Run("NonNumericAmount", func(t *testing.T) {
		fields := fixture.Separable(1, 0)[0].Fields()
		fields[29] = "ten"
		src := fixture.Write(t, "extracted.csv", rawWithRow(fields))
		out := filepath.Join(t.TempDir(), "transformed.csv")

		_, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, out)
		if !errors.Is(err, domain.ErrTransform) {
			t.Fatalf("expected ErrTransform, got %v", err)
		}
		if !strings.Contains(err.Error(), "line 2 column Amount") {
			t.Errorf("expected row and column in %q", err)
		}
		if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
			t.Error("no cleaned file should be published after a failure")
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		fields := fixture.Separable(1, 0)[0].Fields()
		fields[29] = "-3"
		src := fixture.Write(t, "extracted.csv", rawWithRow(fields))
		_, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, filepath.Join(t.TempDir(), "o.csv"))
		if !errors.Is(err, domain.ErrTransform) {
			t.Errorf("expected ErrTransform, got %v", err)
		}
	})

	t.Run("BadLabel", func(t *testing.T) {
		fields := fixture.Separable(1, 0)[0].Fields()
		fields[30] = "2"
		src := fixture.Write(t, "extracted.csv", rawWithRow(fields))
		_, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, filepath.Join(t.TempDir(), "o.csv"))
		if !errors.Is(err, domain.ErrTransform) {
			t.Errorf("expected ErrTransform, got %v", err)
		}
	})

	t.Run("SchemaMismatch", func(t *testing.T) {
		src := fixture.Write(t, "extracted.csv", "Time,Amount,Class\n1,2,0\n")
		_, err := NewTransformer(store, defaultConfig()).Transform(ctx, src, filepath.Join(t.TempDir(), "o.csv"))
		if !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Errorf("expected ErrSchemaMismatch, got %v", err)
		}
	})
}

func TestNormalizers(t *testing.T) {
	t.Run("ZScore", func(t *testing.T) {
		out := zscoreNormalize([]float64{1, 2, 3})
		if out[0] != -1 || out[1] != 0 || out[2] != 1 {
			t.Errorf("unexpected zscore %v", out)
		}
	})

	t.Run("ZScoreConstant", func(t *testing.T) {
		for _, v := range zscoreNormalize([]float64{5, 5, 5}) {
			if v != 0 {
				t.Errorf("expected 0 for constant column, got %v", v)
			}
		}
		if out := zscoreNormalize([]float64{7}); out[0] != 0 {
			t.Errorf("expected 0 for single value, got %v", out[0])
		}
	})

	t.Run("MinMax", func(t *testing.T) {
		out := minmaxNormalize([]float64{10, 20, 30})
		if out[0] != 0 || out[1] != 0.5 || out[2] != 1 {
			t.Errorf("unexpected minmax %v", out)
		}
		if out := minmaxNormalize([]float64{4, 4}); out[0] != 0 || out[1] != 0 {
			t.Errorf("expected zeros for constant column, got %v", out)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := newNormalizer("cube"); !errors.Is(err, domain.ErrTransform) {
			t.Errorf("expected ErrTransform, got %v", err)
		}
	})
}
