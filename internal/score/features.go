package score

import "github.com/opensource-finance/fraudflow/internal/domain"

// One-hot columns for AmountCategory. Small is the dropped reference level.
var categoryColumns = []struct {
	name     string
	category string
}{
	{domain.ColAmountCategory + "_" + domain.CategoryMedium, domain.CategoryMedium},
	{domain.ColAmountCategory + "_" + domain.CategoryLarge, domain.CategoryLarge},
	{domain.ColAmountCategory + "_" + domain.CategoryXL, domain.CategoryXL},
}

// FeatureColumns lists the model inputs in order. Time and the record key
// are identifiers, not features.
func FeatureColumns() []string {
	cols := domain.FeatureColumns()
	cols = append(cols, domain.ColAmount, domain.ColAmountNormalized, domain.ColHourOfDay)
	for _, c := range categoryColumns {
		cols = append(cols, c.name)
	}
	return cols
}

// FeatureVector encodes one transaction in FeatureColumns order.
func FeatureVector(t *domain.Transaction) []float64 {
	v := make([]float64, 0, domain.FeatureCount+6)
	v = append(v, t.Features[:]...)
	v = append(v, t.Amount, t.AmountNormalized, float64(t.HourOfDay))
	for _, c := range categoryColumns {
		if t.AmountCategory == c.category {
			v = append(v, 1)
		} else {
			v = append(v, 0)
		}
	}
	return v
}

// Matrix encodes transactions as a feature matrix and label vector.
func Matrix(txs []domain.Transaction) (domain.FeatureMatrix, []int) {
	m := domain.FeatureMatrix{Columns: FeatureColumns(), Rows: make([][]float64, len(txs))}
	labels := make([]int, len(txs))
	for i := range txs {
		m.Rows[i] = FeatureVector(&txs[i])
		labels[i] = txs[i].Class
	}
	return m, labels
}

func classCounts(labels []int, idx []int) (neg, pos int) {
	for _, i := range idx {
		if labels[i] == 1 {
			pos++
		} else {
			neg++
		}
	}
	return
}
