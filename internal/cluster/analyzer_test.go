package cluster

import (
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/funding"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func addr(c byte) string {
	return "0x" + strings.Repeat(string(c), 40)
}

var (
	walletA = addr('a')
	walletB = addr('b')
	walletC = addr('c')
	walletD = addr('d')
	source  = addr('5')
	source2 = addr('6')
)

type riskList map[string]bool

func (r riskList) IsHighRiskSource(a string) bool { return r[strings.ToLower(a)] }

func newTestAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg.Log = log
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return t0.Add(48 * time.Hour) }
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func usdc(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(1_000_000))
}

func fundedTrader(wallet, from string, offset time.Duration, size float64, markets ...string) WalletInput {
	in := WalletInput{
		Address:  wallet,
		Deposits: []activity.Deposit{{From: from, To: wallet, Amount: usdc(1000), Timestamp: t0.Add(offset)}},
	}
	for i, m := range markets {
		in.Trades = append(in.Trades, activity.Trade{
			Wallet:    wallet,
			MarketID:  m,
			Size:      size,
			Timestamp: t0.Add(offset + time.Hour + time.Duration(i)*time.Minute),
		})
	}
	return in
}

func coordinatedTrio() []WalletInput {
	return []WalletInput{
		fundedTrader(walletA, source, 0, 100, "m1", "m2"),
		fundedTrader(walletB, source, 5*time.Minute, 105, "m1", "m2"),
		fundedTrader(walletC, source, 10*time.Minute, 98, "m1", "m2"),
	}
}

func TestCoordinatedTrioScenario(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	batch := a.AnalyzeWallets(coordinatedTrio(), Options{Concurrency: 2})

	require.Len(t, batch.FundingSourceClusters, 1)
	require.Len(t, batch.TemporalClusters, 1)
	require.Len(t, batch.TradingPatternClusters, 1)
	require.Len(t, batch.MultiFactorClusters, 1)

	multi := batch.MultiFactorClusters[0]
	assert.Equal(t, []string{walletA, walletB, walletC}, multi.Members)
	assert.Equal(t, []Type{TypeFundingSource, TypeTemporal, TypeTradingPattern}, multi.Factors)
	assert.Equal(t, 100.0, multi.Confidence)
	assert.Equal(t, ConfidenceVeryHigh, multi.ConfidenceLevel)

	fc := batch.FundingSourceClusters[0]
	assert.Equal(t, source, fc.SourceAddress)
	assert.Equal(t, 0, fc.TotalAmount.Cmp(usdc(3000)))
	assert.Equal(t, "3000.00", fc.FormattedTotalAmount)
	assert.InDelta(t, 1.0, fc.FundingConcentration, 1e-9)
	assert.False(t, fc.IsSuspiciousSource)
	assert.InDelta(t, 72, fc.Confidence, 1e-9)

	tc := batch.TemporalClusters[0]
	assert.InDelta(t, 300, tc.AverageIntervalSeconds, 1e-9)
	assert.Greater(t, tc.TimingSuspicion, 99.0)

	high := a.ConfigManager().Clustering().HighCoordinationThreshold
	require.Len(t, batch.Results, 3)
	for _, r := range batch.Results {
		assert.Equal(t, 90.0, r.CoordinationScore, r.Address)
		assert.GreaterOrEqual(t, r.CoordinationScore, high)
		assert.Contains(t, []Severity{SeverityHigh, SeverityCritical}, r.Severity)
		assert.Equal(t, SeverityCritical, r.Severity)
		assert.Len(t, r.ClusterIDs, 4)
		assert.Equal(t, 100.0, r.OverallClusterConfidence, "overall confidence is the strongest cluster")
		assert.Equal(t, ConfidenceVeryHigh, r.ConfidenceLevel)
		assert.NotNil(t, r.FundingSourceCluster)
		assert.NotNil(t, r.TemporalCluster)
		assert.NotNil(t, r.TradingPatternCluster)
		assert.True(t, a.IsWalletClustered(r))
		assert.True(t, a.HasHighCoordination(r))
		assert.False(t, a.HasHighCoordination(r, 95))
	}

	assert.Equal(t, 3, batch.TotalWallets)
	assert.Equal(t, 3, batch.ClusteredWallets)
	assert.Equal(t, 4, batch.TotalClusters)
	assert.Equal(t, 4, batch.Summary.TotalClusters)
	assert.Equal(t, 1, batch.Summary.ClustersByType[TypeMultiFactor])
	assert.InDelta(t, 100, batch.Summary.ClusteredPercentage, 1e-9)
}

func TestClusterIDsAreDeterministic(t *testing.T) {
	first := newTestAnalyzer(t, Config{}).AnalyzeWallets(coordinatedTrio(), Options{})
	reordered := coordinatedTrio()
	reordered[0], reordered[2] = reordered[2], reordered[0]
	second := newTestAnalyzer(t, Config{}).AnalyzeWallets(reordered, Options{Concurrency: 3})

	ids := func(b *BatchClusteringResult) []string {
		var out []string
		for _, c := range b.Clusters {
			out = append(out, c.ID)
		}
		return out
	}
	assert.ElementsMatch(t, ids(first), ids(second))
}

func TestMinimumClusterSize(t *testing.T) {
	a := newTestAnalyzer(t, Config{Overrides: thresholds.ClusteringOverrides{MinClusterSize: thresholds.Ptr(4)}})
	batch := a.AnalyzeWallets(coordinatedTrio(), Options{})

	assert.Empty(t, batch.Clusters)
	for _, r := range batch.Results {
		assert.False(t, a.IsWalletClustered(r))
		assert.Zero(t, r.CoordinationScore)
		assert.Equal(t, SeverityLow, r.Severity)
	}

	a = newTestAnalyzer(t, Config{})
	batch = a.AnalyzeWallets(append(coordinatedTrio(), fundedTrader(walletD, source2, 30*24*time.Hour, 5000, "m9")), Options{})
	minSize := a.ConfigManager().Clustering().MinClusterSize
	for _, c := range batch.Clusters {
		assert.GreaterOrEqual(t, c.Size(), minSize, c.Type)
		assert.NotContains(t, c.Members, walletD)
	}
}

func TestTradingSimilarityBelowThresholdExcludesPair(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	far := 10 * 24 * time.Hour

	// shares both markets but trades many others at a very different size
	batch := a.AnalyzeWallets([]WalletInput{
		fundedTrader(walletA, source, 0, 100, "m1", "m2"),
		fundedTrader(walletB, source2, far, 9000, "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"),
	}, Options{})
	assert.Empty(t, batch.TradingPatternClusters)

	// identical profile but only one shared market
	batch = a.AnalyzeWallets([]WalletInput{
		fundedTrader(walletA, source, 0, 100, "m1"),
		fundedTrader(walletB, source2, far, 100, "m1"),
	}, Options{})
	assert.Empty(t, batch.TradingPatternClusters)
	assert.Empty(t, batch.Clusters)
}

func TestSimilarity(t *testing.T) {
	set := func(ms ...string) map[string]struct{} {
		out := map[string]struct{}{}
		for _, m := range ms {
			out[m] = struct{}{}
		}
		return out
	}
	a := &Fingerprint{TradesPerDay: 4, AverageSize: 100}
	b := &Fingerprint{TradesPerDay: 2, AverageSize: 50}

	sim, shared := similarity(a, b, set("x", "y"), set("x", "y"))
	assert.Equal(t, 2, shared)
	assert.InDelta(t, 0.5+0.125+0.125, sim, 1e-9)

	sim, shared = similarity(a, a, set("x"), set("y"))
	assert.Zero(t, shared)
	assert.InDelta(t, 0.5, sim, 1e-9)

	assert.Equal(t, 1.0, ratio(0, 0))
}

func TestSuspiciousFundingSource(t *testing.T) {
	wallets := coordinatedTrio()
	wallets[0].Deposits[0].IsMixer = true

	a := newTestAnalyzer(t, Config{})
	fc := a.AnalyzeWallets(wallets, Options{}).FundingSourceClusters[0]
	assert.True(t, fc.IsHighRiskSource)
	assert.True(t, fc.IsSuspiciousSource)
	assert.InDelta(t, 92, fc.Confidence, 1e-9)

	reg := newTestAnalyzer(t, Config{Sources: riskList{source: true}})
	assert.True(t, reg.AnalyzeWallets(coordinatedTrio(), Options{}).FundingSourceClusters[0].IsSuspiciousSource)

	withResult := coordinatedTrio()
	withResult[1].FundingResult = &funding.FundingPatternResult{SanctionedSources: []string{source}}
	fromResult := newTestAnalyzer(t, Config{}).AnalyzeWallets(withResult, Options{})
	assert.True(t, fromResult.FundingSourceClusters[0].IsSuspiciousSource)
}

func TestFundingConcentrationWithMixedInflow(t *testing.T) {
	wallets := coordinatedTrio()
	wallets[0].Deposits = append(wallets[0].Deposits, activity.Deposit{
		From: source2, To: walletA, Amount: usdc(3000), Timestamp: t0,
	})

	a := newTestAnalyzer(t, Config{})
	fc := a.AnalyzeWallets(wallets, Options{}).FundingSourceClusters[0]
	require.Len(t, fc.FundedWallets, 3)
	assert.Equal(t, walletA, fc.FundedWallets[0].Address)
	assert.InDelta(t, 0.25, fc.FundedWallets[0].Concentration, 1e-9)
	assert.InDelta(t, 0.75, fc.FundingConcentration, 1e-9)
}

func TestCoordinationScoreMonotonic(t *testing.T) {
	for _, tt := range []thresholds.ClusteringThresholds{
		thresholds.DefaultClusteringThresholds(),
		thresholds.DefaultClusteringThresholds().Merge(thresholds.ClusteringOverrides{
			SharedFundingSourcePoints: thresholds.Ptr(60.0),
			TemporalProximityPoints:   thresholds.Ptr(60.0),
		}),
	} {
		for mask := 0; mask < 16; mask++ {
			s := signalsFromMask(mask)
			score := s.score(tt)
			assert.LessOrEqual(t, score, 100.0)
			for bit := 0; bit < 4; bit++ {
				if mask&(1<<bit) != 0 {
					continue
				}
				more := signalsFromMask(mask | 1<<bit).score(tt)
				assert.GreaterOrEqual(t, more, score, "mask %b bit %d", mask, bit)
			}
		}
	}
}

func signalsFromMask(mask int) coordinationSignals {
	return coordinationSignals{
		sharedFunding:  mask&1 != 0,
		temporal:       mask&2 != 0,
		tradingPattern: mask&4 != 0,
		sharedMarkets:  mask&8 != 0,
	}
}

func TestCoordinationSeverityBands(t *testing.T) {
	ct := thresholds.DefaultClusteringThresholds()
	assert.Equal(t, SeverityLow, coordinationSeverity(29, ct))
	assert.Equal(t, SeverityMedium, coordinationSeverity(30, ct))
	assert.Equal(t, SeverityHigh, coordinationSeverity(60, ct))
	assert.Equal(t, SeverityCritical, coordinationSeverity(80, ct))
}

func TestConfidenceLevels(t *testing.T) {
	assert.Equal(t, ConfidenceVeryLow, levelFor(0))
	assert.Equal(t, ConfidenceLow, levelFor(20))
	assert.Equal(t, ConfidenceMedium, levelFor(59.9))
	assert.Equal(t, ConfidenceHigh, levelFor(60))
	assert.Equal(t, ConfidenceVeryHigh, levelFor(80))
}

func TestMinConfidenceFloorsWeakClusters(t *testing.T) {
	a := newTestAnalyzer(t, Config{Overrides: thresholds.ClusteringOverrides{MinConfidence: thresholds.Ptr(75.0)}})
	batch := a.AnalyzeWallets(coordinatedTrio(), Options{})
	require.Len(t, batch.FundingSourceClusters, 1, "a weak cluster is kept")
	fc := batch.FundingSourceClusters[0]
	assert.InDelta(t, 0.72, fc.Strength, 1e-9)
	assert.Equal(t, 75.0, fc.Confidence)
	assert.Equal(t, ConfidenceHigh, fc.ConfidenceLevel)
	for _, c := range batch.Clusters {
		assert.GreaterOrEqual(t, c.Confidence, 75.0)
		assert.LessOrEqual(t, c.Confidence, 100.0)
	}
}

func soloTrader(wallet string, at time.Time, market string) WalletInput {
	return WalletInput{
		Address: wallet,
		Trades:  []activity.Trade{{Wallet: wallet, MarketID: market, Size: 10, Timestamp: at}},
	}
}

func TestWeakTemporalPairStillCounts(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	ct := a.ConfigManager().Clustering()
	batch := a.AnalyzeWallets([]WalletInput{
		soloTrader(walletA, t0, "m1"),
		soloTrader(walletB, t0.Add(20*time.Hour), "m2"),
	}, Options{})

	require.Len(t, batch.TemporalClusters, 1)
	tc := batch.TemporalClusters[0]
	assert.Less(t, tc.Strength*100, ct.MinConfidence)
	assert.Equal(t, ct.MinConfidence, tc.Confidence)
	for _, r := range batch.Results {
		assert.NotNil(t, r.TemporalCluster, r.Address)
		assert.Equal(t, ct.TemporalProximityPoints, r.CoordinationScore, r.Address)
	}
}

func TestTemporalWindowSlidesAcrossAnchors(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	batch := a.AnalyzeWallets([]WalletInput{
		soloTrader(walletA, t0, "m1"),
		soloTrader(walletB, t0.Add(23*time.Hour+50*time.Minute), "m2"),
		soloTrader(walletC, t0.Add(24*time.Hour+10*time.Minute), "m3"),
	}, Options{})

	require.Len(t, batch.TemporalClusters, 2)
	assert.Equal(t, []string{walletA, walletB}, batch.TemporalClusters[0].Members)
	assert.Equal(t, []string{walletB, walletC}, batch.TemporalClusters[1].Members)
	assert.InDelta(t, 1200, batch.TemporalClusters[1].AverageIntervalSeconds, 1e-9)
	assert.Greater(t, batch.TemporalClusters[1].Confidence, batch.TemporalClusters[0].Confidence)

	for _, r := range batch.Results {
		require.NotNil(t, r.TemporalCluster, r.Address)
		if r.Address == walletB || r.Address == walletC {
			assert.Equal(t, batch.TemporalClusters[1].ID, r.TemporalCluster.ID, "strongest temporal cluster wins")
		}
	}
	assert.Equal(t, 3, batch.ClusteredWallets)
}

func TestFlagReasonsAreDeduplicated(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	batch := a.AnalyzeWallets([]WalletInput{
		soloTrader(walletA, t0, "m1"),
		soloTrader(walletB, t0.Add(20*time.Hour), "m2"),
		soloTrader(walletC, t0.Add(40*time.Hour), "m3"),
	}, Options{})
	require.Len(t, batch.TemporalClusters, 2)
	require.Equal(t, batch.TemporalClusters[0].FlagReasons, batch.TemporalClusters[1].FlagReasons)

	for _, r := range batch.Results {
		if r.Address != walletB {
			continue
		}
		assert.Len(t, r.ClusterIDs, 2)
		assert.Equal(t, batch.TemporalClusters[0].FlagReasons, r.FlagReasons)
	}
}

func TestTemporalWindowsContainedInEarlierOnesAreSkipped(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	batch := a.AnalyzeWallets([]WalletInput{
		soloTrader(walletA, t0, "m1"),
		soloTrader(walletB, t0.Add(time.Hour), "m2"),
		soloTrader(walletC, t0.Add(2*time.Hour), "m3"),
	}, Options{})
	require.Len(t, batch.TemporalClusters, 1)
	assert.Equal(t, []string{walletA, walletB, walletC}, batch.TemporalClusters[0].Members)
}

func TestAnalyzeWalletUsesLatestState(t *testing.T) {
	a := newTestAnalyzer(t, Config{})

	unknown, err := a.AnalyzeWallet(walletA)
	require.NoError(t, err)
	assert.False(t, a.IsWalletClustered(unknown))

	a.ClearCache()
	a.AnalyzeWallets(coordinatedTrio(), Options{})

	cached, err := a.AnalyzeWallet(" " + walletB)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, 90.0, cached.CoordinationScore)

	assert.True(t, a.InvalidateCacheEntry(walletB))
	assert.False(t, a.InvalidateCacheEntry("0x123"))
	fresh, err := a.AnalyzeWallet(walletB)
	require.NoError(t, err)
	assert.False(t, fresh.FromCache)
	assert.Equal(t, 90.0, fresh.CoordinationScore)
	assert.Len(t, fresh.ClusterIDs, 4)

	outsider, err := a.AnalyzeWallet(walletD)
	require.NoError(t, err)
	assert.Empty(t, outsider.ClusterIDs)
	assert.Zero(t, outsider.CoordinationScore)

	_, err = a.AnalyzeWallet("nope")
	assert.True(t, errors.Is(err, activity.ErrInvalidAddress))
}

func TestAnalyzeWalletsSkipsBadInput(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	wallets := append(coordinatedTrio(), WalletInput{Address: "garbage"}, coordinatedTrio()[0])
	batch := a.AnalyzeWallets(wallets, Options{})
	assert.Equal(t, 3, batch.TotalWallets)
	assert.Len(t, batch.Results, 3)
}

func TestGetSummary(t *testing.T) {
	a := newTestAnalyzer(t, Config{})

	empty := a.GetSummary(nil)
	assert.Zero(t, empty.TotalWallets)
	assert.Zero(t, empty.ClusteredPercentage)
	assert.Nil(t, empty.AverageClusterSize)
	assert.Nil(t, empty.AverageCoordinationScore)
	assert.Empty(t, empty.ClustersByType)

	s := a.GetSummary([]*WalletClusteringResult{
		{
			ClusterIDs:        []string{"c1", "c2"},
			CoordinationScore: 55,
			Memberships: []Membership{
				{ID: "c1", Type: TypeTemporal, Level: ConfidenceHigh, Size: 2, Severity: SeverityHigh},
				{ID: "c2", Type: TypeFundingSource, Level: ConfidenceLow, Size: 4, Severity: SeverityLow},
			},
		},
		{
			ClusterIDs:        []string{"c1"},
			CoordinationScore: 25,
			Memberships:       []Membership{{ID: "c1", Type: TypeTemporal, Level: ConfidenceHigh, Size: 2, Severity: SeverityHigh}},
		},
		{CoordinationScore: 0},
		{CoordinationScore: 0},
	})
	assert.Equal(t, 4, s.TotalWallets)
	assert.Equal(t, 2, s.ClusteredWallets)
	assert.InDelta(t, 50, s.ClusteredPercentage, 1e-9)
	assert.Equal(t, 2, s.TotalClusters)
	assert.Equal(t, 1, s.ClustersByType[TypeTemporal])
	assert.Equal(t, 4, s.LargestClusterSize)
	require.NotNil(t, s.AverageClusterSize)
	assert.InDelta(t, 3, *s.AverageClusterSize, 1e-9)
	require.NotNil(t, s.AverageCoordinationScore)
	assert.InDelta(t, 20, *s.AverageCoordinationScore, 1e-9)
	assert.Equal(t, 1, s.HighSeverityClusters)
}

func TestNewRejectsInvalidOverrides(t *testing.T) {
	_, err := New(Config{Overrides: thresholds.ClusteringOverrides{HighCoordinationThreshold: thresholds.Ptr(95.0)}})
	assert.Error(t, err)
}
