package funding

import (
	"fmt"
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

const analyzerName = "funding"

// Config configures an Analyzer
type Config struct {
	Overrides thresholds.FundingOverrides
	Cache     cache.Config
	Log       *logrus.Logger
	Clock     func() time.Time

	// Known high-risk funding sources in addition to per-deposit flags
	SanctionedSources []string
	MixerSources      []string
}

// Analyzer scores how suspiciously wallets were funded
type Analyzer struct {
	cfg        *thresholds.Manager
	cache      *cache.Cache[*FundingPatternResult]
	log        *logrus.Logger
	now        func() time.Time
	sanctioned map[string]struct{}
	mixers     map[string]struct{}
}

// New creates an analyzer with merged thresholds and its own result cache
func New(cfg Config) (*Analyzer, error) {
	mgr, err := thresholds.NewManager(thresholds.Overrides{Funding: cfg.Overrides})
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
	return &Analyzer{
		cfg:        mgr,
		cache:      cache.New[*FundingPatternResult]("funding", cfg.Cache, cache.WithClock(now)),
		log:        log,
		now:        now,
		sanctioned: addressSet(cfg.SanctionedSources),
		mixers:     addressSet(cfg.MixerSources),
	}, nil
}

func addressSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if n, err := activity.NormalizeAddress(a); err == nil {
			set[n] = struct{}{}
		}
	}
	return set
}

// ConfigManager exposes the merged thresholds
func (a *Analyzer) ConfigManager() *thresholds.Manager { return a.cfg }

// IsHighRiskSource reports whether addr is a registered sanctioned or mixer source
func (a *Analyzer) IsHighRiskSource(addr string) bool {
	sanctioned, mixer := a.sourceRisk(addr)
	return sanctioned || mixer
}

func (a *Analyzer) sourceRisk(addr string) (sanctioned, mixer bool) {
	n, err := activity.NormalizeAddress(addr)
	if err != nil {
		return false, false
	}
	_, sanctioned = a.sanctioned[n]
	_, mixer = a.mixers[n]
	return sanctioned, mixer
}

// AnalyzeWallet classifies the wallet's funding. A nil firstTradeAt means the
// wallet has not traded yet. Only a malformed address is an error.
func (a *Analyzer) AnalyzeWallet(address string, deposits []activity.Deposit, firstTradeAt *time.Time) (*FundingPatternResult, error) {
	return a.analyze(Input{Address: address, Deposits: deposits, FirstTradeAt: firstTradeAt})
}

func (a *Analyzer) analyze(in Input) (*FundingPatternResult, error) {
	addr, err := activity.NormalizeAddress(in.Address)
	if err != nil {
		metrics.RecordAnalysis(analyzerName, "invalid", 0)
		return nil, fmt.Errorf("analyze funding of %q: %w", in.Address, err)
	}

	if !in.BypassCache {
		if cached, ok := a.cache.Get(addr); ok {
			metrics.RecordAnalysis(analyzerName, "cached", 0)
			return cached.clone(true), nil
		}
	}

	start := time.Now()
	res := a.compute(addr, in.Deposits, in.FirstTradeAt)
	a.cache.Set(addr, res)
	metrics.RecordAnalysis(analyzerName, "computed", time.Since(start))
	metrics.RecordSuspicionScore(res.SuspicionScore)

	if res.PatternType != PatternNormal {
		a.log.WithFields(logrus.Fields{
			"wallet":          addr,
			"pattern":         res.PatternType,
			"timing":          res.TimingCategory,
			"suspicion_score": res.SuspicionScore,
		}).Debug("Funding pattern flagged")
	}

	return res.clone(false), nil
}

// AnalyzeWallets analyzes several wallets using at most concurrency workers.
// Malformed addresses are logged and skipped; results keep input order.
func (a *Analyzer) AnalyzeWallets(inputs []Input, concurrency int) []*FundingPatternResult {
	out := make([]*FundingPatternResult, len(inputs))
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range inputs {
		i := i
		g.Go(func() error {
			res, err := a.analyze(inputs[i])
			if err != nil {
				a.log.WithError(err).WithField("wallet", inputs[i].Address).Warn("Skipping wallet")
				return nil
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()

	results := out[:0]
	for _, r := range out {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

func (a *Analyzer) compute(addr string, deposits []activity.Deposit, firstTradeAt *time.Time) *FundingPatternResult {
	t := a.cfg.Funding()
	res := &FundingPatternResult{
		Address:      addr,
		DepositCount: len(deposits),
		FlagReasons:  []string{},
		AnalyzedAt:   a.now(),
	}
	if firstTradeAt != nil {
		ft := *firstTradeAt
		res.FirstTradeAt = &ft
	}

	sorted := make([]activity.Deposit, len(deposits))
	copy(sorted, deposits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	a.scoreTiming(res, sorted, firstTradeAt, t)
	a.scoreSources(res, sorted, t)
	scoreShape(res, sorted, t)

	res.SuspicionScore = clamp(res.Signals.Total(), 0, 100)
	res.PatternType = classifyPattern(res.SuspicionScore, t)
	return res
}

func (a *Analyzer) scoreTiming(res *FundingPatternResult, sorted []activity.Deposit, firstTradeAt *time.Time, t thresholds.FundingThresholds) {
	if firstTradeAt == nil {
		res.TimingCategory = TimingNoTrades
		if len(sorted) > 0 {
			first := sorted[0].Timestamp
			res.FirstFundingAt = &first
		}
		return
	}

	// relevant funding arrived at or before the first trade
	if len(sorted) == 0 || sorted[0].Timestamp.After(*firstTradeAt) {
		res.TimingCategory = TimingNoFunding
		return
	}
	first := sorted[0].Timestamp
	res.FirstFundingAt = &first

	elapsed := int64(firstTradeAt.Sub(first) / time.Second)
	res.ElapsedSeconds = &elapsed
	res.TimingCategory, res.Signals.TimingScore = classifyTiming(elapsed, t)
	if res.Signals.TimingScore > 0 {
		res.FlagReasons = append(res.FlagReasons, fmt.Sprintf("First trade %s after funding (%s)",
			time.Duration(elapsed)*time.Second, res.TimingCategory))
	}
}

// unknownSource stands in for a flagged deposit whose sender is missing or malformed
const unknownSource = "unknown"

func (a *Analyzer) scoreSources(res *FundingPatternResult, sorted []activity.Deposit, t thresholds.FundingThresholds) {
	sanctioned := map[string]bool{}
	mixers := map[string]bool{}
	for _, d := range sorted {
		from, err := activity.NormalizeAddress(d.From)
		if err != nil {
			from = unknownSource
		}
		regSanctioned, regMixer := a.sourceRisk(from)
		if d.IsSanctioned || regSanctioned {
			sanctioned[from] = true
		}
		if d.IsMixer || regMixer {
			mixers[from] = true
		}
	}
	if len(sanctioned) > 0 {
		res.Signals.SanctionedSourceScore = t.SanctionedSourceScore
		res.SanctionedSources = sortedKeys(sanctioned)
		res.FlagReasons = append(res.FlagReasons, fmt.Sprintf("Funded by sanctioned source %s",
			strings.Join(shorten(res.SanctionedSources), ", ")))
	}
	if len(mixers) > 0 {
		res.Signals.MixerSourceScore = t.MixerSourceScore
		res.MixerSources = sortedKeys(mixers)
		res.FlagReasons = append(res.FlagReasons, fmt.Sprintf("Funded through mixer %s",
			strings.Join(shorten(res.MixerSources), ", ")))
	}
}

func scoreShape(res *FundingPatternResult, sorted []activity.Deposit, t thresholds.FundingThresholds) {
	for _, d := range sorted {
		usd := d.USD()
		res.TotalDepositUSD += usd
		if usd > res.LargestDepositUSD {
			res.LargestDepositUSD = usd
		}
	}
	if len(sorted) > 0 && res.LargestDepositUSD >= t.LargeDepositUSD {
		res.Signals.LargeDepositScore = t.LargeDepositScore
		res.FlagReasons = append(res.FlagReasons, fmt.Sprintf("Single deposit of $%.2f", res.LargestDepositUSD))
	}

	res.QuickDepositCount = maxInWindow(sorted, time.Duration(t.QuickDepositWindowSeconds)*time.Second)
	if res.QuickDepositCount >= t.QuickDepositMinCount {
		res.Signals.QuickDepositsScore = t.QuickDepositScore
		res.FlagReasons = append(res.FlagReasons, fmt.Sprintf("%d deposits within %s",
			res.QuickDepositCount, time.Duration(t.QuickDepositWindowSeconds)*time.Second))
	}
}

// maxInWindow returns the largest number of deposits inside any window of
// length w; sorted must be in time order
func maxInWindow(sorted []activity.Deposit, w time.Duration) int {
	best, lo := 0, 0
	for hi := range sorted {
		for sorted[hi].Timestamp.Sub(sorted[lo].Timestamp) > w {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
		}
	}
	return best
}

func classifyTiming(elapsed int64, t thresholds.FundingThresholds) (TimingCategory, float64) {
	switch {
	case elapsed <= t.FlashTimingSeconds:
		return TimingFlash, t.FlashTimingScore
	case elapsed <= t.VeryFastTimingSeconds:
		return TimingVeryFast, t.VeryFastTimingScore
	case elapsed <= t.FastTimingSeconds:
		return TimingFast, t.FastTimingScore
	case elapsed <= t.ModerateTimingSeconds:
		return TimingModerate, t.ModerateTimingScore
	default:
		return TimingSlow, 0
	}
}

func classifyPattern(score float64, t thresholds.FundingThresholds) PatternType {
	switch {
	case score >= t.SuspiciousThreshold:
		return PatternSuspicious
	case score >= t.ImmediateThreshold:
		return PatternImmediate
	case score >= t.QuickThreshold:
		return PatternQuick
	default:
		return PatternNormal
	}
}

// InvalidateCacheEntry drops the cached result of a wallet. Malformed
// addresses are a no-op.
func (a *Analyzer) InvalidateCacheEntry(address string) bool {
	addr, err := activity.NormalizeAddress(address)
	if err != nil {
		return false
	}
	return a.cache.Delete(addr)
}

// ClearCache drops every cached result
func (a *Analyzer) ClearCache() { a.cache.Clear() }

// CacheStats returns the result cache counters
func (a *Analyzer) CacheStats() cache.Stats { return a.cache.Stats() }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shorten(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = activity.ShortenAddress(a)
	}
	return out
}

// clone copies r so callers never share the cached instance
func (r *FundingPatternResult) clone(fromCache bool) *FundingPatternResult {
	cp := *r
	cp.FlagReasons = append([]string{}, r.FlagReasons...)
	cp.SanctionedSources = append([]string(nil), r.SanctionedSources...)
	cp.MixerSources = append([]string(nil), r.MixerSources...)
	cp.FromCache = fromCache
	return &cp
}
