package baseline

import (
	"io"
	"testing"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/cache"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCalculator(t *testing.T, now *time.Time) *Calculator {
	t.Helper()
	c, err := New(Config{
		Cache: cache.Config{TTL: time.Hour, MaxSize: 100},
		Log:   quietLogger(),
		Clock: func() time.Time { return *now },
	})
	require.NoError(t, err)
	return c
}

func day(offset int, hour int) time.Time {
	d := time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, offset)
}

func TestCalculateBaselineDailyStats(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)

	samples := []activity.VolumeSample{
		{Timestamp: day(-3, 10), Volume: 60, TradeCount: 2},
		{Timestamp: day(-3, 18), Volume: 40, TradeCount: 2},
		{Timestamp: day(-2, 9), Volume: 200, TradeCount: 4},
		{Timestamp: day(-1, 9), Volume: 300, TradeCount: 6},
		{Timestamp: day(0, 8), Volume: 400, TradeCount: 8},
		{Timestamp: day(-40, 8), Volume: 99999, TradeCount: 1}, // outside the 30 day lookback
	}

	b := c.CalculateBaseline(Market{ID: "m1", CreatedAt: now.AddDate(0, 0, -60)}, samples, Options{Windows: []Window{WindowDaily}})
	require.NotNil(t, b)
	require.Len(t, b.Windows, 1)

	daily, ok := b.Stats(WindowDaily)
	require.True(t, ok)
	assert.Equal(t, 4, daily.SampleCount)
	assert.InDelta(t, 1000, daily.TotalVolume, 1e-9)
	assert.InDelta(t, 250, daily.AverageVolume, 1e-9)
	assert.InDelta(t, 250, daily.MedianVolume, 1e-9)
	assert.InDelta(t, 111.8034, daily.StdDev, 1e-4)
	assert.InDelta(t, 100, daily.MinVolume, 1e-9)
	assert.InDelta(t, 400, daily.MaxVolume, 1e-9)
	assert.InDelta(t, 175, daily.P25, 1e-9)
	assert.InDelta(t, 325, daily.P75, 1e-9)
	assert.InDelta(t, 385, daily.P95, 1e-9)
	assert.InDelta(t, 5.5, daily.AverageTradeCount, 1e-9)
	assert.InDelta(t, 111.8034/250, daily.CoefficientOfVariation, 1e-6)

	assert.Equal(t, MaturityEstablished, b.Maturity)
	assert.True(t, b.HasSufficientData)
	assert.Equal(t, day(-3, 0), b.RangeStart)
	assert.Equal(t, now, b.RangeEnd)
	assert.Equal(t, now.Add(time.Hour), b.ExpiresAt)
	assert.False(t, b.FromCache)
}

func TestCalculateBaselineFillsGapsWithZero(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)

	samples := []activity.VolumeSample{
		{Timestamp: day(-3, 10), Volume: 100},
		{Timestamp: day(0, 10), Volume: 100},
	}
	b := c.CalculateBaseline(Market{ID: "gap"}, samples, Options{Windows: []Window{WindowDaily}})
	daily := b.Windows[WindowDaily]
	assert.Equal(t, 4, daily.SampleCount)
	assert.InDelta(t, 50, daily.AverageVolume, 1e-9)
	assert.InDelta(t, 0, daily.MinVolume, 1e-9)
	assert.InDelta(t, 50, daily.MedianVolume, 1e-9)
}

func TestCalculateBaselineEmptySamples(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)

	b := c.CalculateBaseline(Market{ID: "empty"}, nil, Options{})
	require.NotNil(t, b)
	assert.Len(t, b.Windows, len(AllWindows))
	for _, w := range AllWindows {
		s := b.Windows[w]
		assert.Equal(t, w, s.Window)
		assert.Zero(t, s.SampleCount)
		assert.Zero(t, s.AverageVolume)
		assert.Zero(t, s.StdDev)
		assert.Zero(t, s.CoefficientOfVariation)
	}
	assert.False(t, b.HasSufficientData)
	assert.Equal(t, MaturityVeryNew, b.Maturity)
}

func TestCoefficientOfVariationZeroAverage(t *testing.T) {
	s := computeStats(WindowDaily, []bucket{{}, {}, {}})
	assert.Equal(t, 3, s.SampleCount)
	assert.Zero(t, s.CoefficientOfVariation)
}

func TestMedianAndPercentile(t *testing.T) {
	assert.Equal(t, 3.0, median([]float64{1, 3, 5}))
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 7.0, percentile([]float64{7}, 95))
	assert.InDelta(t, 3.25, percentile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 25), 1e-9)
	assert.Equal(t, 10.0, percentile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 100))
}

func TestMaturityClassification(t *testing.T) {
	c, err := New(Config{Log: quietLogger()})
	require.NoError(t, err)

	tests := []struct {
		ageDays float64
		want    Maturity
	}{
		{0, MaturityVeryNew},
		{0.5, MaturityVeryNew},
		{1, MaturityNew},
		{6.9, MaturityNew},
		{7, MaturityYoung},
		{29, MaturityYoung},
		{30, MaturityEstablished},
		{89, MaturityEstablished},
		{90, MaturityMature},
		{400, MaturityMature},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.ClassifyMaturity(tt.ageDays), "age %.1f", tt.ageDays)
	}
}

func TestGetRecommendedWindow(t *testing.T) {
	assert.Equal(t, WindowHourly, GetRecommendedWindow(MaturityVeryNew))
	assert.Equal(t, WindowFourHour, GetRecommendedWindow(MaturityNew))
	assert.Equal(t, WindowDaily, GetRecommendedWindow(MaturityYoung))
	assert.Equal(t, WindowWeekly, GetRecommendedWindow(MaturityEstablished))
	assert.Equal(t, WindowWeekly, GetRecommendedWindow(MaturityMature))
}

func fixedBaseline(avg, stddev float64) *MarketVolumeBaseline {
	return &MarketVolumeBaseline{
		MarketID: "fixed",
		Windows: map[Window]WindowVolumeStats{
			WindowDaily: {Window: WindowDaily, AverageVolume: avg, StdDev: stddev, SampleCount: 30},
		},
	}
}

func TestIsVolumeAnomalous(t *testing.T) {
	c, err := New(Config{Log: quietLogger()})
	require.NoError(t, err)
	b := fixedBaseline(10000, 2000)

	normal := c.IsVolumeAnomalous(b, 10000, AnomalyOptions{})
	assert.False(t, normal.IsAnomalous)
	assert.InDelta(t, 0, normal.ZScore, 1e-9)
	assert.Equal(t, AnomalyThresholds{Low: 6000, High: 14000}, normal.Thresholds)

	high := c.IsVolumeAnomalous(b, 15000, AnomalyOptions{})
	assert.InDelta(t, 2.5, high.ZScore, 1e-9)
	assert.True(t, high.IsAnomalous)
	assert.True(t, high.IsHigh)
	assert.False(t, high.IsLow)

	low := c.IsVolumeAnomalous(b, 5000, AnomalyOptions{})
	assert.InDelta(t, -2.5, low.ZScore, 1e-9)
	assert.True(t, low.IsAnomalous)
	assert.True(t, low.IsLow)
	assert.False(t, low.IsHigh)

	wide := c.IsVolumeAnomalous(b, 15000, AnomalyOptions{StdDevMultiplier: 3})
	assert.Equal(t, AnomalyThresholds{Low: 4000, High: 16000}, wide.Thresholds)
	assert.False(t, wide.IsAnomalous)

	edge := c.IsVolumeAnomalous(b, 14000, AnomalyOptions{})
	assert.True(t, edge.IsAnomalous, "|z| equal to the multiplier is anomalous")
}

func TestIsVolumeAnomalousDegenerate(t *testing.T) {
	c, err := New(Config{Log: quietLogger()})
	require.NoError(t, err)

	flat := c.IsVolumeAnomalous(fixedBaseline(500, 0), 100000, AnomalyOptions{})
	assert.Zero(t, flat.ZScore)
	assert.False(t, flat.IsAnomalous)

	missing := c.IsVolumeAnomalous(fixedBaseline(500, 10), 100000, AnomalyOptions{Window: WindowHourly})
	assert.False(t, missing.IsAnomalous)
	assert.Equal(t, WindowHourly, missing.Window)

	assert.False(t, c.IsVolumeAnomalous(nil, 1, AnomalyOptions{}).IsAnomalous)
}

func TestBaselineCaching(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)
	market := Market{ID: "m-cache"}
	first := []activity.VolumeSample{{Timestamp: day(0, 1), Volume: 10}}
	second := []activity.VolumeSample{{Timestamp: day(0, 1), Volume: 999}}

	b1 := c.CalculateBaseline(market, first, Options{Windows: []Window{WindowDaily}})
	assert.False(t, b1.FromCache)

	b2 := c.CalculateBaseline(market, second, Options{Windows: []Window{WindowDaily}})
	assert.True(t, b2.FromCache)
	assert.InDelta(t, 10, b2.Windows[WindowDaily].TotalVolume, 1e-9)

	// a different window set is a different key
	b3 := c.CalculateBaseline(market, second, Options{Windows: []Window{WindowDaily, WindowHourly}})
	assert.False(t, b3.FromCache)

	b4 := c.CalculateBaseline(market, second, Options{Windows: []Window{WindowDaily}, BypassCache: true})
	assert.False(t, b4.FromCache)
	assert.InDelta(t, 999, b4.Windows[WindowDaily].TotalVolume, 1e-9)

	assert.True(t, c.InvalidateCacheEntry("m-cache"))
	assert.False(t, c.InvalidateCacheEntry("m-cache"))

	c.CalculateBaseline(market, first, Options{Windows: []Window{WindowDaily}})
	now = now.Add(2 * time.Hour)
	b5 := c.CalculateBaseline(market, second, Options{Windows: []Window{WindowDaily}})
	assert.False(t, b5.FromCache, "entry older than ttl is recomputed")

	c.ClearCache()
	assert.Zero(t, c.CacheStats().Size)
}

func TestCachedBaselineIsNotShared(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)
	b := c.CalculateBaseline(Market{ID: "shared"}, nil, Options{Windows: []Window{WindowDaily}})
	delete(b.Windows, WindowDaily)

	again := c.CalculateBaseline(Market{ID: "shared"}, nil, Options{Windows: []Window{WindowDaily}})
	_, ok := again.Windows[WindowDaily]
	assert.True(t, ok)
}

func TestGetSummary(t *testing.T) {
	c, err := New(Config{Log: quietLogger(), Overrides: thresholds.VolumeOverrides{SummaryTopN: thresholds.Ptr(2)}})
	require.NoError(t, err)

	empty := c.GetSummary(nil)
	assert.Zero(t, empty.TotalMarkets)
	assert.Zero(t, empty.TotalCurrentVolume)
	assert.Nil(t, empty.AverageDailyVolume)
	assert.Empty(t, empty.TopMarketsByVolume)
	assert.Empty(t, empty.ByMaturity)

	withDaily := func(id string, m Maturity, vol, dailyAvg float64) *MarketVolumeBaseline {
		return &MarketVolumeBaseline{
			MarketID:      id,
			Maturity:      m,
			CurrentVolume: vol,
			Windows: map[Window]WindowVolumeStats{
				WindowDaily: {AverageVolume: dailyAvg, SampleCount: 5},
			},
		}
	}
	s := c.GetSummary([]*MarketVolumeBaseline{
		withDaily("a", MaturityNew, 100, 10),
		withDaily("b", MaturityMature, 300, 30),
		withDaily("c", MaturityMature, 300, 20),
		{MarketID: "d", Maturity: MaturityVeryNew, CurrentVolume: 50, FromCache: true},
	})

	assert.Equal(t, 4, s.TotalMarkets)
	assert.Equal(t, 2, s.ByMaturity[MaturityMature])
	assert.Equal(t, 1, s.ByMaturity[MaturityNew])
	assert.InDelta(t, 750, s.TotalCurrentVolume, 1e-9)
	require.NotNil(t, s.AverageDailyVolume)
	assert.InDelta(t, 20, *s.AverageDailyVolume, 1e-9)
	assert.Equal(t, 1, s.FromCacheCount)
	require.Len(t, s.TopMarketsByVolume, 2)
	assert.Equal(t, "b", s.TopMarketsByVolume[0].MarketID, "ties keep input order")
	assert.Equal(t, "c", s.TopMarketsByVolume[1].MarketID)
}

func TestBatchCalculateBaselines(t *testing.T) {
	now := testNow
	c := newTestCalculator(t, &now)

	inputs := make([]Input, 0, 20)
	for i := 0; i < 20; i++ {
		inputs = append(inputs, Input{
			Market:  Market{ID: string(rune('a' + i))},
			Samples: []activity.VolumeSample{{Timestamp: day(0, 1), Volume: float64(i)}},
			Options: Options{Windows: []Window{WindowDaily}},
		})
	}

	out := c.BatchCalculateBaselines(inputs, 4)
	require.Len(t, out, 20)
	for i, b := range out {
		require.NotNil(t, b)
		assert.Equal(t, inputs[i].Market.ID, b.MarketID)
		assert.InDelta(t, float64(i), b.Windows[WindowDaily].TotalVolume, 1e-9)
	}
}
