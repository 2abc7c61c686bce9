package cluster

// GetSummary aggregates wallet results. Clusters are counted once however
// many of their members appear in results.
func (a *Analyzer) GetSummary(results []*WalletClusteringResult) Summary {
	s := Summary{
		ClustersByType:       make(map[Type]int),
		ClustersByConfidence: make(map[ConfidenceLevel]int),
	}

	seen := make(map[string]struct{})
	var sizeSum int
	var scoreSum float64
	for _, r := range results {
		if r == nil {
			continue
		}
		s.TotalWallets++
		scoreSum += r.CoordinationScore
		if len(r.ClusterIDs) > 0 {
			s.ClusteredWallets++
		}
		for _, m := range r.Memberships {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			s.TotalClusters++
			s.ClustersByType[m.Type]++
			s.ClustersByConfidence[m.Level]++
			sizeSum += m.Size
			if m.Size > s.LargestClusterSize {
				s.LargestClusterSize = m.Size
			}
			if m.Severity == SeverityHigh || m.Severity == SeverityCritical {
				s.HighSeverityClusters++
			}
		}
	}
	if s.TotalWallets == 0 {
		return s
	}

	s.ClusteredPercentage = float64(s.ClusteredWallets) / float64(s.TotalWallets) * 100
	avgScore := scoreSum / float64(s.TotalWallets)
	s.AverageCoordinationScore = &avgScore
	if s.TotalClusters > 0 {
		avgSize := float64(sizeSum) / float64(s.TotalClusters)
		s.AverageClusterSize = &avgSize
	}
	return s
}
