package dataset

import (
	"fmt"
	"strconv"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// CleanedRecord renders a transaction in CleanedColumns order.
func CleanedRecord(t domain.Transaction) []string {
	rec := make([]string, 0, domain.FeatureCount+8)
	rec = append(rec, t.Key, FormatFloat(t.Time))
	for _, v := range t.Features {
		rec = append(rec, FormatFloat(v))
	}
	return append(rec,
		FormatFloat(t.Amount),
		FormatFloat(t.AmountNormalized),
		strconv.Itoa(t.HourOfDay),
		t.AmountCategory,
		strconv.Itoa(t.Class),
	)
}

// ScoredRecord renders a scored transaction in ScoredColumns order.
func ScoredRecord(s domain.ScoredTransaction) []string {
	return append(CleanedRecord(s.Transaction), strconv.Itoa(s.FraudPrediction))
}

// CleanedLayout resolves cleaned column positions once per file.
type CleanedLayout struct {
	key, time, amount, normalized, hour, category, class int
	features                                             [domain.FeatureCount]int
}

// NewCleanedLayout fails with ErrSchemaMismatch when a cleaned column is absent.
func NewCleanedLayout(h Header) (*CleanedLayout, error) {
	if err := h.Require(domain.CleanedColumns()); err != nil {
		return nil, err
	}
	l := &CleanedLayout{}
	l.key, _ = h.Index(domain.ColRecordKey)
	l.time, _ = h.Index(domain.ColTime)
	l.amount, _ = h.Index(domain.ColAmount)
	l.normalized, _ = h.Index(domain.ColAmountNormalized)
	l.hour, _ = h.Index(domain.ColHourOfDay)
	l.category, _ = h.Index(domain.ColAmountCategory)
	l.class, _ = h.Index(domain.ColClass)
	for i := range l.features {
		l.features[i], _ = h.Index(domain.FeatureColumn(i + 1))
	}
	return l, nil
}

// Parse decodes one cleaned record.
func (l *CleanedLayout) Parse(rec []string) (domain.Transaction, error) {
	var t domain.Transaction
	var err error

	t.Key = rec[l.key]
	if t.Key == "" {
		return t, fmt.Errorf("column %s: empty", domain.ColRecordKey)
	}
	if t.Time, err = ParseFloat(rec[l.time]); err != nil {
		return t, fmt.Errorf("column %s: %v", domain.ColTime, err)
	}
	for i, pos := range l.features {
		if t.Features[i], err = ParseFloat(rec[pos]); err != nil {
			return t, fmt.Errorf("column %s: %v", domain.FeatureColumn(i+1), err)
		}
	}
	if t.Amount, err = ParseFloat(rec[l.amount]); err != nil {
		return t, fmt.Errorf("column %s: %v", domain.ColAmount, err)
	}
	if t.AmountNormalized, err = ParseFloat(rec[l.normalized]); err != nil {
		return t, fmt.Errorf("column %s: %v", domain.ColAmountNormalized, err)
	}
	if t.HourOfDay, err = strconv.Atoi(rec[l.hour]); err != nil || t.HourOfDay < 0 || t.HourOfDay > 23 {
		return t, fmt.Errorf("column %s: not an hour: %q", domain.ColHourOfDay, rec[l.hour])
	}
	switch c := rec[l.category]; c {
	case domain.CategorySmall, domain.CategoryMedium, domain.CategoryLarge, domain.CategoryXL:
		t.AmountCategory = c
	default:
		return t, fmt.Errorf("column %s: unknown category %q", domain.ColAmountCategory, c)
	}
	if t.Class, err = ParseLabel(rec[l.class]); err != nil {
		return t, fmt.Errorf("column %s: %v", domain.ColClass, err)
	}
	return t, nil
}

// ScoredLayout resolves scored column positions once per file.
type ScoredLayout struct {
	cleaned    *CleanedLayout
	prediction int
}

// NewScoredLayout fails with ErrSchemaMismatch when a scored column is absent.
func NewScoredLayout(h Header) (*ScoredLayout, error) {
	cl, err := NewCleanedLayout(h)
	if err != nil {
		return nil, err
	}
	if err := h.Require([]string{domain.ColFraudPrediction}); err != nil {
		return nil, err
	}
	pos, _ := h.Index(domain.ColFraudPrediction)
	return &ScoredLayout{cleaned: cl, prediction: pos}, nil
}

// Parse decodes one scored record.
func (l *ScoredLayout) Parse(rec []string) (domain.ScoredTransaction, error) {
	t, err := l.cleaned.Parse(rec)
	if err != nil {
		return domain.ScoredTransaction{}, err
	}
	p, err := ParseLabel(rec[l.prediction])
	if err != nil {
		return domain.ScoredTransaction{}, fmt.Errorf("column %s: %v", domain.ColFraudPrediction, err)
	}
	return domain.ScoredTransaction{Transaction: t, FraudPrediction: p}, nil
}
