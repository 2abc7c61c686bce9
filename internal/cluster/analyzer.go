// Package cluster detects groups of fresh wallets that appear to be run by
// the same actor and scores each wallet's coordination evidence.
package cluster

import (
	"fmt"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/cache"
	"github.com/liamashdown/walletsentinel/internal/metrics"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	analyzerName   = "cluster"
	latestStateKey = "latest"
)

// SourceRiskChecker flags known high-risk funding sources
type SourceRiskChecker interface {
	IsHighRiskSource(address string) bool
}

// Config configures an Analyzer
type Config struct {
	Overrides thresholds.ClusteringOverrides
	Cache     cache.Config
	Log       *logrus.Logger
	Clock     func() time.Time
	// Sources is optional; the funding analyzer satisfies it
	Sources SourceRiskChecker
}

// cohortState is the cluster set of the most recent batch
type cohortState struct {
	clusters  []*Cluster
	funding   []*FundingSourceCluster
	temporal  []*TemporalCluster
	trading   []*TradingPatternCluster
	markets   map[string]map[string]struct{}
	clustered map[string]struct{}
}

// Analyzer clusters wallet cohorts
type Analyzer struct {
	cfg     *thresholds.Manager
	results *cache.Cache[*WalletClusteringResult]
	state   *cache.Cache[*cohortState]
	sources SourceRiskChecker
	log     *logrus.Logger
	now     func() time.Time
}

// New creates an analyzer with merged thresholds and its own result cache
func New(cfg Config) (*Analyzer, error) {
	mgr, err := thresholds.NewManager(thresholds.Overrides{Clustering: cfg.Overrides})
	if err != nil {
		return nil, err
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	results := cache.New[*WalletClusteringResult]("cluster", cfg.Cache, cache.WithClock(now))
	return &Analyzer{
		cfg:     mgr,
		results: results,
		state:   cache.New[*cohortState]("cluster_state", cache.Config{TTL: results.TTL(), MaxSize: 1}, cache.WithClock(now)),
		sources: cfg.Sources,
		log:     log,
		now:     now,
	}, nil
}

// ConfigManager exposes the merged thresholds
func (a *Analyzer) ConfigManager() *thresholds.Manager { return a.cfg }

// AnalyzeWallets clusters a cohort. The family passes see the whole cohort;
// per-wallet scoring then runs on up to opts.Concurrency workers. Malformed
// and duplicate addresses are skipped.
func (a *Analyzer) AnalyzeWallets(wallets []WalletInput, opts Options) *BatchClusteringResult {
	start := time.Now()
	now := a.now()
	t := a.cfg.Clustering()

	cohort := make([]*walletData, 0, len(wallets))
	seen := make(map[string]struct{}, len(wallets))
	for _, in := range wallets {
		addr, err := activity.NormalizeAddress(in.Address)
		if err != nil {
			a.log.WithField("wallet", in.Address).Warn("Skipping wallet with malformed address")
			continue
		}
		if _, dup := seen[addr]; dup {
			a.log.WithField("wallet", addr).Debug("Skipping duplicate wallet in cohort")
			continue
		}
		seen[addr] = struct{}{}
		cohort = append(cohort, newWalletData(addr, in))
	}

	st := &cohortState{
		funding:   fundingSourceClusters(cohort, t, a.sources, now),
		temporal:  temporalClusters(cohort, t, now),
		trading:   tradingPatternClusters(cohort, t, now),
		markets:   make(map[string]map[string]struct{}, len(cohort)),
		clustered: make(map[string]struct{}),
	}
	var base []*Cluster
	for _, c := range st.funding {
		base = append(base, &c.Cluster)
	}
	for _, c := range st.temporal {
		base = append(base, &c.Cluster)
	}
	for _, c := range st.trading {
		base = append(base, &c.Cluster)
	}
	multi := multiFactorClusters(base, t, now)
	st.clusters = base
	for _, c := range multi {
		st.clusters = append(st.clusters, &c.Cluster)
	}
	for _, w := range cohort {
		st.markets[w.addr] = w.markets
	}
	for _, c := range st.clusters {
		for _, m := range c.Members {
			st.clustered[m] = struct{}{}
		}
		metrics.RecordCluster(string(c.Type))
	}

	results := make([]*WalletClusteringResult, len(cohort))
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range cohort {
		i := i
		g.Go(func() error {
			r := a.scoreWallet(cohort[i].addr, st, t, now)
			a.results.Set(r.Address, r)
			metrics.RecordCoordinationScore(r.CoordinationScore)
			results[i] = r.clone(false)
			return nil
		})
	}
	_ = g.Wait()
	a.state.Set(latestStateKey, st)

	batch := &BatchClusteringResult{
		Results:                results,
		FundingSourceClusters:  st.funding,
		TemporalClusters:       st.temporal,
		TradingPatternClusters: st.trading,
		MultiFactorClusters:    multi,
		TotalWallets:           len(cohort),
		ClusteredWallets:       len(st.clustered),
		TotalClusters:          len(st.clusters),
		AnalyzedAt:             now,
	}
	for _, c := range st.clusters {
		batch.Clusters = append(batch.Clusters, *c)
	}
	batch.Summary = a.GetSummary(results)
	metrics.RecordAnalysis(analyzerName, "computed", time.Since(start))

	a.log.WithFields(logrus.Fields{
		"wallets":           batch.TotalWallets,
		"clustered_wallets": batch.ClusteredWallets,
		"funding_clusters":  len(st.funding),
		"temporal_clusters": len(st.temporal),
		"trading_clusters":  len(st.trading),
		"multi_clusters":    len(multi),
		"duration_ms":       time.Since(start).Milliseconds(),
	}).Info("Clustered wallet cohort")

	return batch
}

// AnalyzeWallet answers for one wallet from the cached cluster state of the
// latest batch without rescanning the cohort. Unknown wallets and an expired
// state yield an unclustered result.
func (a *Analyzer) AnalyzeWallet(address string) (*WalletClusteringResult, error) {
	addr, err := activity.NormalizeAddress(address)
	if err != nil {
		metrics.RecordAnalysis(analyzerName, "invalid", 0)
		return nil, fmt.Errorf("analyze clustering of %q: %w", address, err)
	}
	if cached, ok := a.results.Get(addr); ok {
		metrics.RecordAnalysis(analyzerName, "cached", 0)
		return cached.clone(true), nil
	}

	st, ok := a.state.Get(latestStateKey)
	if !ok {
		st = &cohortState{}
	}
	r := a.scoreWallet(addr, st, a.cfg.Clustering(), a.now())
	a.results.Set(addr, r)
	return r.clone(false), nil
}

// scoreWallet aggregates the wallet's memberships into confidence and
// coordination scores
func (a *Analyzer) scoreWallet(addr string, st *cohortState, t thresholds.ClusteringThresholds, now time.Time) *WalletClusteringResult {
	r := &WalletClusteringResult{
		Address:            addr,
		ClusterIDs:         []string{},
		ClusterConfidences: map[string]float64{},
		Memberships:        []Membership{},
		FlagReasons:        []string{},
		AnalyzedAt:         now,
	}

	seenReasons := make(map[string]struct{})
	addReason := func(reason string) {
		if _, dup := seenReasons[reason]; dup {
			return
		}
		seenReasons[reason] = struct{}{}
		r.FlagReasons = append(r.FlagReasons, reason)
	}

	for _, c := range st.clusters {
		if !c.HasMember(addr) {
			continue
		}
		r.ClusterIDs = append(r.ClusterIDs, c.ID)
		r.ClusterConfidences[c.ID] = c.Confidence
		r.Memberships = append(r.Memberships, Membership{
			ID:         c.ID,
			Type:       c.Type,
			Confidence: c.Confidence,
			Level:      c.ConfidenceLevel,
			Size:       c.Size(),
			Severity:   c.Severity,
		})
		if c.Confidence > r.OverallClusterConfidence {
			r.OverallClusterConfidence = c.Confidence
		}
		for _, reason := range c.FlagReasons {
			addReason(reason)
		}
	}
	r.ConfidenceLevel = levelFor(r.OverallClusterConfidence)

	for _, c := range st.funding {
		if c.HasMember(addr) && (r.FundingSourceCluster == nil || c.Confidence > r.FundingSourceCluster.Confidence) {
			r.FundingSourceCluster = c
		}
	}
	for _, c := range st.temporal {
		if c.HasMember(addr) && (r.TemporalCluster == nil || c.Confidence > r.TemporalCluster.Confidence) {
			r.TemporalCluster = c
		}
	}
	for _, c := range st.trading {
		if c.HasMember(addr) && (r.TradingPatternCluster == nil || c.Confidence > r.TradingPatternCluster.Confidence) {
			r.TradingPatternCluster = c
		}
	}

	signals := coordinationSignals{
		sharedFunding:  r.FundingSourceCluster != nil,
		temporal:       r.TemporalCluster != nil,
		tradingPattern: r.TradingPatternCluster != nil,
		sharedMarkets:  sharesMarkets(addr, st, t.MinSharedMarkets),
	}
	r.CoordinationScore = signals.score(t)
	r.Severity = coordinationSeverity(r.CoordinationScore, t)
	if signals.sharedMarkets {
		addReason(fmt.Sprintf("Trades %d+ markets in common with clustered wallets", t.MinSharedMarkets))
	}
	return r
}

// coordinationSignals are the independent pieces of evidence a wallet shows
type coordinationSignals struct {
	sharedFunding  bool
	temporal       bool
	tradingPattern bool
	sharedMarkets  bool
}

func (s coordinationSignals) score(t thresholds.ClusteringThresholds) float64 {
	var score float64
	if s.sharedFunding {
		score += t.SharedFundingSourcePoints
	}
	if s.temporal {
		score += t.TemporalProximityPoints
	}
	if s.tradingPattern {
		score += t.TradingPatternPoints
	}
	if s.sharedMarkets {
		score += t.SharedMarketPoints
	}
	return clamp(score, 0, 100)
}

func coordinationSeverity(score float64, t thresholds.ClusteringThresholds) Severity {
	switch {
	case score >= t.CriticalCoordinationThreshold:
		return SeverityCritical
	case score >= t.HighCoordinationThreshold:
		return SeverityHigh
	case score >= t.MediumCoordinationThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// sharesMarkets reports whether addr trades at least minShared markets in common
// with some other clustered wallet
func sharesMarkets(addr string, st *cohortState, minShared int) bool {
	mine := st.markets[addr]
	if len(mine) == 0 || minShared < 1 {
		return false
	}
	for other := range st.clustered {
		if other == addr {
			continue
		}
		shared := 0
		for m := range st.markets[other] {
			if _, ok := mine[m]; ok {
				shared++
				if shared >= minShared {
					return true
				}
			}
		}
	}
	return false
}

// IsWalletClustered reports whether the result belongs to any cluster
func (a *Analyzer) IsWalletClustered(r *WalletClusteringResult) bool {
	return r != nil && len(r.ClusterIDs) > 0
}

// HasHighCoordination reports whether the coordination score reaches the
// configured high threshold, or override when given
func (a *Analyzer) HasHighCoordination(r *WalletClusteringResult, override ...float64) bool {
	if r == nil {
		return false
	}
	var o thresholds.ClusteringOverrides
	if len(override) > 0 {
		o.HighCoordinationThreshold = &override[0]
	}
	return r.CoordinationScore >= a.cfg.WithClustering(o).HighCoordinationThreshold
}

// InvalidateCacheEntry drops the cached result of a wallet. Malformed
// addresses are a no-op.
func (a *Analyzer) InvalidateCacheEntry(address string) bool {
	addr, err := activity.NormalizeAddress(address)
	if err != nil {
		return false
	}
	return a.results.Delete(addr)
}

// ClearCache drops every cached result and the latest cluster state
func (a *Analyzer) ClearCache() {
	a.results.Clear()
	a.state.Clear()
}

// CacheStats returns the result cache counters
func (a *Analyzer) CacheStats() cache.Stats { return a.results.Stats() }

// clone copies r so callers never share the cached instance. Cluster detail
// objects are shared; they are never mutated after a batch completes.
func (r *WalletClusteringResult) clone(fromCache bool) *WalletClusteringResult {
	cp := *r
	cp.ClusterIDs = append([]string{}, r.ClusterIDs...)
	cp.Memberships = append([]Membership{}, r.Memberships...)
	cp.FlagReasons = append([]string{}, r.FlagReasons...)
	cp.ClusterConfidences = make(map[string]float64, len(r.ClusterConfidences))
	for k, v := range r.ClusterConfidences {
		cp.ClusterConfidences[k] = v
	}
	cp.FromCache = fromCache
	return &cp
}
