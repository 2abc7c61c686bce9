package baseline

import (
	"math"
	"sort"
)

type bucket struct {
	volume float64
	trades int
}

// computeStats summarizes bucketed volumes. An empty slice yields zero stats.
func computeStats(w Window, buckets []bucket) WindowVolumeStats {
	stats := WindowVolumeStats{Window: w, SampleCount: len(buckets)}
	if len(buckets) == 0 {
		return stats
	}

	volumes := make([]float64, len(buckets))
	var totalTrades int
	for i, b := range buckets {
		volumes[i] = b.volume
		stats.TotalVolume += b.volume
		totalTrades += b.trades
	}
	n := float64(len(volumes))
	stats.AverageVolume = stats.TotalVolume / n
	stats.AverageTradeCount = float64(totalTrades) / n

	var sumSq float64
	for _, v := range volumes {
		d := v - stats.AverageVolume
		sumSq += d * d
	}
	stats.StdDev = math.Sqrt(sumSq / n)
	if stats.AverageVolume != 0 {
		stats.CoefficientOfVariation = stats.StdDev / stats.AverageVolume
	}

	sort.Float64s(volumes)
	stats.MinVolume = volumes[0]
	stats.MaxVolume = volumes[len(volumes)-1]
	stats.MedianVolume = median(volumes)
	stats.P25 = percentile(volumes, 25)
	stats.P75 = percentile(volumes, 75)
	stats.P95 = percentile(volumes, 95)
	return stats
}

// median expects sorted input
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentile interpolates linearly between ranked samples; expects sorted input
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
