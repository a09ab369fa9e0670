package domain

import (
	"fmt"
	"math"
)

// FeatureCount is the number of anonymized features (V1..V28).
const FeatureCount = 28

// Column names shared by the staged files.
const (
	ColTime             = "Time"
	ColAmount           = "Amount"
	ColClass            = "Class"
	ColRecordKey        = "RecordKey"
	ColAmountNormalized = "AmountNormalized"
	ColHourOfDay        = "HourOfDay"
	ColAmountCategory   = "AmountCategory"
	ColFraudPrediction  = "FraudPrediction"
)

// Amount buckets, lower bound inclusive.
const (
	CategorySmall  = "Small"
	CategoryMedium = "Medium"
	CategoryLarge  = "Large"
	CategoryXL     = "XL"
)

// FeatureColumn returns the header name of anonymized feature i (1-based).
func FeatureColumn(i int) string {
	return fmt.Sprintf("V%d", i)
}

// FeatureColumns returns V1..V28.
func FeatureColumns() []string {
	cols := make([]string, FeatureCount)
	for i := range cols {
		cols[i] = FeatureColumn(i + 1)
	}
	return cols
}

// RawColumns is the header a source file must carry.
func RawColumns() []string {
	cols := make([]string, 0, FeatureCount+3)
	cols = append(cols, ColTime)
	cols = append(cols, FeatureColumns()...)
	cols = append(cols, ColAmount, ColClass)
	return cols
}

// CleanedColumns is the header written by the transform stage.
func CleanedColumns() []string {
	cols := make([]string, 0, FeatureCount+7)
	cols = append(cols, ColRecordKey, ColTime)
	cols = append(cols, FeatureColumns()...)
	cols = append(cols, ColAmount, ColAmountNormalized, ColHourOfDay, ColAmountCategory, ColClass)
	return cols
}

// ScoredColumns is the header written by the score stage.
func ScoredColumns() []string {
	return append(CleanedColumns(), ColFraudPrediction)
}

// Transaction is one cleaned record.
type Transaction struct {
	Key              string                `json:"key"`
	Time             float64               `json:"time"`
	Features         [FeatureCount]float64 `json:"features"`
	Amount           float64               `json:"amount"`
	AmountNormalized float64               `json:"amountNormalized"`
	HourOfDay        int                   `json:"hourOfDay"`
	AmountCategory   string                `json:"amountCategory"`
	Class            int                   `json:"class"`
}

// ScoredTransaction is a cleaned record with its prediction.
type ScoredTransaction struct {
	Transaction
	FraudPrediction int `json:"fraudPrediction"`
}

// AmountCategoryOf buckets an amount.
func AmountCategoryOf(amount float64) string {
	switch {
	case amount < 50:
		return CategorySmall
	case amount < 200:
		return CategoryMedium
	case amount < 1000:
		return CategoryLarge
	default:
		return CategoryXL
	}
}

// HourOfDayOf derives the hour (0-23) from seconds since the first transaction.
func HourOfDayOf(seconds float64) int {
	hours := int64(math.Floor(seconds / 3600))
	h := int(hours % 24)
	if h < 0 {
		h += 24
	}
	return h
}
