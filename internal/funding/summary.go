package funding

import "sort"

// GetSummary aggregates funding results. Empty input yields zero counts and
// nil averages.
func (a *Analyzer) GetSummary(results []*FundingPatternResult) Summary {
	s := Summary{
		ByPattern: make(map[PatternType]int),
		ByTiming:  make(map[TimingCategory]int),
	}

	var elapsed []float64
	var scoreSum float64
	for _, r := range results {
		if r == nil {
			continue
		}
		s.TotalWallets++
		s.ByPattern[r.PatternType]++
		s.ByTiming[r.TimingCategory]++
		scoreSum += r.SuspicionScore
		if r.PatternType == PatternSuspicious {
			s.SuspiciousCount++
		}
		if r.TimingCategory == TimingFlash {
			s.FlashCount++
		}
		if r.ElapsedSeconds != nil {
			elapsed = append(elapsed, float64(*r.ElapsedSeconds))
		}
	}
	if s.TotalWallets == 0 {
		return s
	}

	n := float64(s.TotalWallets)
	s.SuspiciousPercentage = float64(s.SuspiciousCount) / n * 100
	s.FlashPercentage = float64(s.FlashCount) / n * 100
	avgScore := scoreSum / n
	s.AverageSuspicionScore = &avgScore

	if len(elapsed) > 0 {
		var sum float64
		for _, e := range elapsed {
			sum += e
		}
		mean := sum / float64(len(elapsed))
		s.AverageElapsedSeconds = &mean

		sort.Float64s(elapsed)
		mid := len(elapsed) / 2
		med := elapsed[mid]
		if len(elapsed)%2 == 0 {
			med = (elapsed[mid-1] + elapsed[mid]) / 2
		}
		s.MedianElapsedSeconds = &med
	}
	return s
}
