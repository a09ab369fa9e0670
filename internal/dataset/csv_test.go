package dataset

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

func TestReader(t *testing.T) {
	t.Run("HeaderAndRecords", func(t *testing.T) {
		r, err := NewReader(strings.NewReader("a,b\n1,2\n3,4\n"))
		if err != nil {
			t.Fatalf("NewReader failed: %v", err)
		}
		if got := strings.Join(r.Header.Columns, ","); got != "a,b" {
			t.Errorf("unexpected header %s", got)
		}
		rows := 0
		for {
			_, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			rows++
		}
		if rows != 2 {
			t.Errorf("expected 2 rows, got %d", rows)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := NewReader(strings.NewReader(""))
		if !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Errorf("expected ErrSchemaMismatch, got %v", err)
		}
	})

	t.Run("RaggedRow", func(t *testing.T) {
		r, _ := NewReader(strings.NewReader("a,b\n1,2\n3\n"))
		_, _ = r.Next()
		_, err := r.Next()
		if !errors.Is(err, domain.ErrSchemaMismatch) {
			t.Fatalf("expected ErrSchemaMismatch, got %v", err)
		}
		if !strings.Contains(err.Error(), "line 3") {
			t.Errorf("expected line number in %q", err)
		}
	})

	t.Run("ByteOrderMark", func(t *testing.T) {
		r, err := NewReader(strings.NewReader("\ufeffTime,Amount\n1,2\n"))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := r.Header.Index("Time"); !ok {
			t.Error("expected BOM to be stripped from first column")
		}
	})
}

func TestHeaderRequire(t *testing.T) {
	h := NewHeader([]string{"Time", "V1", "Class"})
	err := h.Require([]string{"Time", "Amount", "Class", "V2"})
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "Amount, V2") {
		t.Errorf("expected missing columns in %q", err)
	}
}

func TestParsing(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		for _, s := range []string{"", " ", "NA", "NaN", "nan", "null", "NULL"} {
			if !IsMissing(s) {
				t.Errorf("expected %q to be missing", s)
			}
		}
		if IsMissing("0") {
			t.Error("0 is not missing")
		}
	})

	t.Run("ParseFloat", func(t *testing.T) {
		if _, err := ParseFloat("abc"); err == nil {
			t.Error("expected error for non-numeric value")
		}
		if _, err := ParseFloat("Inf"); err == nil {
			t.Error("expected error for infinite value")
		}
		if f, err := ParseFloat(" 149.62 "); err != nil || f != 149.62 {
			t.Errorf("expected 149.62, got %v %v", f, err)
		}
	})

	t.Run("ParseLabel", func(t *testing.T) {
		if v, err := ParseLabel("1.0"); err != nil || v != 1 {
			t.Errorf("expected 1, got %d %v", v, err)
		}
		if _, err := ParseLabel("2"); err == nil {
			t.Error("expected error for label 2")
		}
	})

	t.Run("FormatFloat", func(t *testing.T) {
		cases := map[float64]string{0: "0", 149.62: "149.62", -1.3598071336738: "-1.3598071336738", 1e-7: "1e-07"}
		for in, want := range cases {
			if got := FormatFloat(in); got != want {
				t.Errorf("FormatFloat(%v) = %s, want %s", in, got, want)
			}
		}
	})
}

func TestScoredRoundTrip(t *testing.T) {
	tx := domain.Transaction{
		Key:              "abc123",
		Time:             3700,
		Amount:           250.5,
		AmountNormalized: 5.527,
		HourOfDay:        1,
		AmountCategory:   domain.CategoryLarge,
		Class:            1,
	}
	for i := range tx.Features {
		tx.Features[i] = float64(i) / 10
	}
	in := domain.ScoredTransaction{Transaction: tx, FraudPrediction: 1}

	var buf bytes.Buffer
	w, err := NewWriter(&buf, domain.ScoredColumns())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ScoredRecord(in)); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	layout, err := NewScoredLayout(r.Header)
	if err != nil {
		t.Fatalf("NewScoredLayout failed: %v", err)
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	out, err := layout.Parse(rec)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestCleanedLayoutRejectsBadCategory(t *testing.T) {
	h := NewHeader(domain.CleanedColumns())
	layout, err := NewCleanedLayout(h)
	if err != nil {
		t.Fatal(err)
	}
	rec := CleanedRecord(domain.Transaction{Key: "k", AmountCategory: domain.CategorySmall})
	rec[len(rec)-2] = "Huge"
	if _, err := layout.Parse(rec); err == nil || !strings.Contains(err.Error(), domain.ColAmountCategory) {
		t.Errorf("expected category error, got %v", err)
	}
}
