// Package dataset reads and writes the CSV tables handed between stages.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Header is a CSV header with a column index.
type Header struct {
	Columns []string
	index   map[string]int
}

// NewHeader indexes columns. The first occurrence of a repeated name wins.
func NewHeader(columns []string) Header {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := idx[c]; !ok {
			idx[c] = i
		}
	}
	return Header{Columns: columns, index: idx}
}

// Index returns the position of a column.
func (h Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Missing returns the required columns absent from the header.
func (h Header) Missing(required []string) []string {
	var missing []string
	for _, c := range required {
		if _, ok := h.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Require fails with ErrSchemaMismatch naming every absent column.
func (h Header) Require(required []string) error {
	if missing := h.Missing(required); len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", domain.ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

// Reader streams CSV records after the header.
type Reader struct {
	Header Header
	r      *csv.Reader
	line   int
}

// NewReader reads the header. An empty input is a schema mismatch.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	// Field count is checked by Next so the error carries our sentinel.
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file, no header", domain.ErrSchemaMismatch)
		}
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrSchemaMismatch, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return &Reader{Header: NewHeader(header), r: cr, line: 1}, nil
}

// Next returns the next record or io.EOF. A record whose width differs from
// the header fails with ErrSchemaMismatch.
func (r *Reader) Next() ([]string, error) {
	rec, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: line %d: %v", domain.ErrSchemaMismatch, r.line+1, err)
	}
	r.line++
	if len(rec) != len(r.Header.Columns) {
		return nil, fmt.Errorf("%w: line %d has %d fields, header has %d",
			domain.ErrSchemaMismatch, r.line, len(rec), len(r.Header.Columns))
	}
	return rec, nil
}

// Line is the 1-based line number of the last record returned.
func (r *Reader) Line() int {
	return r.line
}

// Writer writes a header then records.
type Writer struct {
	w *csv.Writer
}

// NewWriter writes the header immediately.
func NewWriter(w io.Writer, columns []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return nil, err
	}
	return &Writer{w: cw}, nil
}

// Write buffers one record.
func (w *Writer) Write(rec []string) error {
	return w.w.Write(rec)
}

// Flush flushes buffered records and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
}

// IsMissing reports whether a field is a missing-value token.
func IsMissing(s string) bool {
	_, ok := missingTokens[strings.TrimSpace(s)]
	return ok
}

// FormatFloat uses the shortest representation that round-trips.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ParseFloat parses a finite number.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return f, nil
}

// ParseLabel parses a 0/1 label. Integral floats such as "1.0" are accepted.
func ParseLabel(s string) (int, error) {
	f, err := ParseFloat(s)
	if err != nil {
		return 0, err
	}
	switch f {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, fmt.Errorf("not a binary label: %q", s)
}
