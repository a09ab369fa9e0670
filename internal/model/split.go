package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

// Split is a partition of row indices into training and holdout subsets.
type Split struct {
	Train   []int
	Holdout []int
}

// TrainTestSplit partitions rows deterministically for a given seed. With
// stratify set, each class contributes round(ratio*n) rows to training.
// Both index lists are returned in ascending order.
func TrainTestSplit(labels []int, ratio float64, seed int64, stratify bool) (Split, error) {
	if ratio <= 0 || ratio >= 1 {
		return Split{}, fmt.Errorf("%w: train ratio %v outside (0,1)", domain.ErrInvalidInput, ratio)
	}

	rng := rand.New(rand.NewSource(seed))
	var groups [][]int
	if stratify {
		var neg, pos []int
		for i, y := range labels {
			if y == 1 {
				pos = append(pos, i)
			} else {
				neg = append(neg, i)
			}
		}
		groups = [][]int{neg, pos}
	} else {
		all := make([]int, len(labels))
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	}

	var s Split
	for _, g := range groups {
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		n := int(math.Round(ratio * float64(len(g))))
		s.Train = append(s.Train, g[:n]...)
		s.Holdout = append(s.Holdout, g[n:]...)
	}
	sort.Ints(s.Train)
	sort.Ints(s.Holdout)
	return s, nil
}
