package pricing

import (
	"sort"

	"carbitrage/models"
)

// Summarize computes distribution stats over reference-currency prices.
// Percentiles use nearest rank: sorted[floor(n*p)], no interpolation.
func Summarize(prices []float64) models.MarketStats {
	n := len(prices)
	if n == 0 {
		return models.MarketStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, prices)
	sort.Float64s(sorted)

	var sum float64
	for _, p := range sorted {
		sum += p
	}

	return models.MarketStats{
		Median: median(sorted),
		Mean:   sum / float64(n),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Count:  n,
		P25:    nearestRank(sorted, 0.25),
		P75:    nearestRank(sorted, 0.75),
	}
}

// Lowest returns the minimum price, or false for an empty set.
func Lowest(prices []float64) (float64, bool) {
	if len(prices) == 0 {
		return 0, false
	}
	low := prices[0]
	for _, p := range prices[1:] {
		if p < low {
			low = p
		}
	}
	return low, true
}

func median(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func nearestRank(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
