package baseline

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/cache"
	"github.com/liamashdown/walletsentinel/internal/metrics"
	"github.com/liamashdown/walletsentinel/internal/thresholds"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const analyzerName = "baseline"

// Config configures a Calculator
type Config struct {
	Overrides thresholds.VolumeOverrides
	Cache     cache.Config
	Log       *logrus.Logger
	Clock     func() time.Time
}

// Calculator computes per-market volume baselines
type Calculator struct {
	cfg   *thresholds.Manager
	cache *cache.Cache[*MarketVolumeBaseline]
	log   *logrus.Logger
	now   func() time.Time
}

// New creates a calculator with merged thresholds and its own result cache
func New(cfg Config) (*Calculator, error) {
	mgr, err := thresholds.NewManager(thresholds.Overrides{Volume: cfg.Overrides})
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
	return &Calculator{
		cfg:   mgr,
		cache: cache.New[*MarketVolumeBaseline]("baseline", cfg.Cache, cache.WithClock(now)),
		log:   log,
		now:   now,
	}, nil
}

// ConfigManager exposes the merged thresholds
func (c *Calculator) ConfigManager() *thresholds.Manager { return c.cfg }

// CalculateBaseline computes WindowVolumeStats for each requested window
// (all five by default) from the supplied samples. Results are cached per
// market and window set until the TTL expires or the entry is invalidated.
func (c *Calculator) CalculateBaseline(market Market, samples []activity.VolumeSample, opts Options) *MarketVolumeBaseline {
	windows := normalizeWindows(opts.Windows)
	key := cacheKey(market.ID, windows)

	if !opts.BypassCache {
		if cached, ok := c.cache.Get(key); ok {
			metrics.RecordAnalysis(analyzerName, "cached", 0)
			return cached.clone(true)
		}
	}

	start := time.Now()
	b := c.compute(market, samples, windows)
	c.cache.Set(key, b)
	metrics.RecordAnalysis(analyzerName, "computed", time.Since(start))

	c.log.WithFields(logrus.Fields{
		"market_id": market.ID,
		"maturity":  b.Maturity,
		"windows":   len(windows),
		"samples":   len(samples),
	}).Debug("Computed market volume baseline")

	return b.clone(false)
}

// BatchCalculateBaselines computes baselines for several markets using at most
// concurrency workers. Results keep input order.
func (c *Calculator) BatchCalculateBaselines(inputs []Input, concurrency int) []*MarketVolumeBaseline {
	out := make([]*MarketVolumeBaseline, len(inputs))
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range inputs {
		i := i
		g.Go(func() error {
			out[i] = c.CalculateBaseline(inputs[i].Market, inputs[i].Samples, inputs[i].Options)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Calculator) compute(market Market, samples []activity.VolumeSample, windows []Window) *MarketVolumeBaseline {
	t := c.cfg.Volume()
	now := c.now()

	b := &MarketVolumeBaseline{
		MarketID:         market.ID,
		Question:         market.Question,
		Slug:             market.Slug,
		Category:         market.Category,
		CreatedAt:        market.CreatedAt,
		Windows:          make(map[Window]WindowVolumeStats, len(windows)),
		CurrentVolume:    market.CurrentVolume,
		CurrentLiquidity: market.CurrentLiquidity,
		RangeEnd:         now,
		CalculatedAt:     now,
		ExpiresAt:        now.Add(c.cache.TTL()),
	}

	created := market.CreatedAt
	if created.IsZero() {
		created = earliest(samples)
	}
	if !created.IsZero() && now.After(created) {
		b.AgeDays = now.Sub(created).Hours() / 24
	}
	b.Maturity = classifyMaturity(b.AgeDays, t)

	for _, w := range windows {
		buckets, rangeStart := bucketize(samples, w, lookback(w, t), now)
		stats := computeStats(w, buckets)
		b.Windows[w] = stats
		if !rangeStart.IsZero() && (b.RangeStart.IsZero() || rangeStart.Before(b.RangeStart)) {
			b.RangeStart = rangeStart
		}
		if stats.SampleCount >= t.MinDataPoints && stats.SampleCount > 0 {
			b.HasSufficientData = true
		}
	}
	if b.RangeStart.IsZero() {
		b.RangeStart = now
	}
	return b
}

// bucketize sums samples into window-aligned buckets inside the lookback.
// Buckets between the first observed one and now with no samples count as
// zero volume.
func bucketize(samples []activity.VolumeSample, w Window, lookback int, now time.Time) ([]bucket, time.Time) {
	size := int64(w.Duration() / time.Second)
	endIdx := now.Unix() / size
	startIdx := endIdx - int64(lookback) + 1

	sums := make(map[int64]*bucket)
	firstIdx := int64(math.MaxInt64)
	for _, s := range samples {
		idx := floorDiv(s.Timestamp.Unix(), size)
		if idx < startIdx || idx > endIdx {
			continue
		}
		bk := sums[idx]
		if bk == nil {
			bk = &bucket{}
			sums[idx] = bk
		}
		bk.volume += s.Volume
		bk.trades += s.TradeCount
		if idx < firstIdx {
			firstIdx = idx
		}
	}
	if len(sums) == 0 {
		return nil, time.Time{}
	}

	buckets := make([]bucket, 0, endIdx-firstIdx+1)
	for idx := firstIdx; idx <= endIdx; idx++ {
		if bk, ok := sums[idx]; ok {
			buckets = append(buckets, *bk)
		} else {
			buckets = append(buckets, bucket{})
		}
	}
	return buckets, time.Unix(firstIdx*size, 0).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func lookback(w Window, t thresholds.VolumeThresholds) int {
	switch w {
	case WindowHourly:
		return t.HourlyLookback
	case WindowFourHour:
		return t.FourHourLookback
	case WindowDaily:
		return t.DailyLookback
	case WindowWeekly:
		return t.WeeklyLookback
	default:
		return t.MonthlyLookback
	}
}

func classifyMaturity(ageDays float64, t thresholds.VolumeThresholds) Maturity {
	switch {
	case ageDays < t.VeryNewMaxDays:
		return MaturityVeryNew
	case ageDays < t.NewMaxDays:
		return MaturityNew
	case ageDays < t.YoungMaxDays:
		return MaturityYoung
	case ageDays < t.EstablishedMaxDays:
		return MaturityEstablished
	default:
		return MaturityMature
	}
}

// ClassifyMaturity maps a market age onto the configured maturity bands
func (c *Calculator) ClassifyMaturity(ageDays float64) Maturity {
	return classifyMaturity(ageDays, c.cfg.Volume())
}

// GetRecommendedWindow returns the baseline window best suited to a market's maturity
func GetRecommendedWindow(m Maturity) Window {
	switch m {
	case MaturityVeryNew:
		return WindowHourly
	case MaturityNew:
		return WindowFourHour
	case MaturityYoung:
		return WindowDaily
	default:
		return WindowWeekly
	}
}

// IsVolumeAnomalous compares observed against the baseline window's average.
// A zero standard deviation yields a zero z-score.
func (c *Calculator) IsVolumeAnomalous(b *MarketVolumeBaseline, observed float64, opts AnomalyOptions) AnomalyResult {
	if opts.Window == "" {
		opts.Window = WindowDaily
	}
	var o thresholds.VolumeOverrides
	if opts.StdDevMultiplier > 0 {
		o.AnomalyStdDevMultiplier = &opts.StdDevMultiplier
	}
	opts.StdDevMultiplier = c.cfg.WithVolume(o).AnomalyStdDevMultiplier
	return checkAnomaly(b, observed, opts)
}

func checkAnomaly(b *MarketVolumeBaseline, observed float64, opts AnomalyOptions) AnomalyResult {
	res := AnomalyResult{Window: opts.Window, Observed: observed}
	stats, ok := b.Stats(opts.Window)
	if !ok {
		return res
	}

	res.Thresholds = AnomalyThresholds{
		Low:  stats.AverageVolume - opts.StdDevMultiplier*stats.StdDev,
		High: stats.AverageVolume + opts.StdDevMultiplier*stats.StdDev,
	}
	if stats.StdDev == 0 {
		return res
	}
	res.ZScore = (observed - stats.AverageVolume) / stats.StdDev
	res.IsAnomalous = math.Abs(res.ZScore) >= opts.StdDevMultiplier
	res.IsHigh = res.IsAnomalous && res.ZScore > 0
	res.IsLow = res.IsAnomalous && res.ZScore < 0
	return res
}

// GetSummary aggregates baselines. Empty input yields a zero summary.
func (c *Calculator) GetSummary(baselines []*MarketVolumeBaseline) Summary {
	s := Summary{
		ByMaturity:         make(map[Maturity]int),
		TopMarketsByVolume: []MarketVolume{},
	}

	var dailySum float64
	var dailyCount int
	refs := make([]MarketVolume, 0, len(baselines))
	for _, b := range baselines {
		if b == nil {
			continue
		}
		s.TotalMarkets++
		s.ByMaturity[b.Maturity]++
		s.TotalCurrentVolume += b.CurrentVolume
		if b.FromCache {
			s.FromCacheCount++
		}
		if daily, ok := b.Windows[WindowDaily]; ok && daily.SampleCount > 0 {
			dailySum += daily.AverageVolume
			dailyCount++
		}
		refs = append(refs, MarketVolume{MarketID: b.MarketID, Question: b.Question, CurrentVolume: b.CurrentVolume})
	}
	if dailyCount > 0 {
		avg := dailySum / float64(dailyCount)
		s.AverageDailyVolume = &avg
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].CurrentVolume > refs[j].CurrentVolume })
	if n := c.cfg.Volume().SummaryTopN; len(refs) > n {
		refs = refs[:n]
	}
	s.TopMarketsByVolume = refs
	return s
}

// InvalidateCacheEntry drops every cached baseline of a market
func (c *Calculator) InvalidateCacheEntry(marketID string) bool {
	prefix := marketID + "|"
	return c.cache.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) }) > 0
}

// ClearCache drops every cached baseline
func (c *Calculator) ClearCache() { c.cache.Clear() }

// CacheStats returns the result cache counters
func (c *Calculator) CacheStats() cache.Stats { return c.cache.Stats() }

func normalizeWindows(ws []Window) []Window {
	seen := make(map[Window]bool, len(ws))
	var out []Window
	for _, w := range AllWindows {
		for _, req := range ws {
			if req == w && !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	if len(out) == 0 {
		return append([]Window(nil), AllWindows...)
	}
	return out
}

func cacheKey(marketID string, windows []Window) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = string(w)
	}
	return marketID + "|" + strings.Join(parts, ",")
}

func earliest(samples []activity.VolumeSample) time.Time {
	var first time.Time
	for _, s := range samples {
		if first.IsZero() || s.Timestamp.Before(first) {
			first = s.Timestamp
		}
	}
	return first
}

// clone copies b so callers never share the cached instance
func (b *MarketVolumeBaseline) clone(fromCache bool) *MarketVolumeBaseline {
	cp := *b
	cp.Windows = make(map[Window]WindowVolumeStats, len(b.Windows))
	for k, v := range b.Windows {
		cp.Windows[k] = v
	}
	cp.FromCache = fromCache
	return &cp
}
