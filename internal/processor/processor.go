package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/alerts"
	"github.com/liamashdown/walletsentinel/internal/baseline"
	"github.com/liamashdown/walletsentinel/internal/cache"
	"github.com/liamashdown/walletsentinel/internal/cluster"
	"github.com/liamashdown/walletsentinel/internal/config"
	"github.com/liamashdown/walletsentinel/internal/funding"
	"github.com/liamashdown/walletsentinel/internal/metrics"
	"github.com/liamashdown/walletsentinel/internal/ratelimit"
	"github.com/liamashdown/walletsentinel/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const lastCycleStateKey = "last_cycle_ts"

// maxCatchUp bounds how far back a missed-cycle checkpoint widens the cohort
const maxCatchUp = 7 * 24 * time.Hour

// anomalyWindow is the trailing period whose volume is checked against the baseline
const anomalyWindow = 24 * time.Hour

// Store is the persistence the detection cycle reads from and writes to
type Store interface {
	ActiveWallets(ctx context.Context, since time.Time, limit int) ([]activity.Wallet, error)
	TradesForWallets(ctx context.Context, wallets []string) ([]activity.Trade, error)
	DepositsForWallets(ctx context.Context, wallets []string) ([]activity.Deposit, error)
	Markets(ctx context.Context, ids []string) ([]baseline.Market, error)
	VolumeSamples(ctx context.Context, marketID string, since time.Time) ([]activity.VolumeSample, error)
	InsertAlert(ctx context.Context, alert *storage.Alert) (int64, error)
	LastAlertAt(ctx context.Context, alertType, subject string) (time.Time, error)
	SaveSnapshots(ctx context.Context, s storage.Snapshots) error
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Processor runs detection cycles over the recently active wallet cohort
type Processor struct {
	cfg         *config.Config
	store       Store
	funding     *funding.Analyzer
	clusters    *cluster.Analyzer
	baselines   *baseline.Calculator
	alertSender alerts.Sender
	limiter     *ratelimit.Limiter
	log         *logrus.Logger
	now         func() time.Time
}

// Option customizes a Processor
type Option func(*Processor)

// WithClock replaces time.Now for the processor and its analyzers
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a processor and the analyzers it drives
func New(cfg *config.Config, store Store, alertSender alerts.Sender, log *logrus.Logger, opts ...Option) (*Processor, error) {
	p := &Processor{
		cfg:         cfg,
		store:       store,
		alertSender: alertSender,
		limiter:     ratelimit.New(cfg.AlertRPS, cfg.AlertBurst),
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	p.funding, err = funding.New(funding.Config{
		Overrides:         cfg.Thresholds.Funding,
		Cache:             cache.Config{TTL: cfg.FundingCache.TTL, MaxSize: cfg.FundingCache.MaxSize},
		Log:               log,
		Clock:             p.now,
		SanctionedSources: cfg.SanctionedSources,
		MixerSources:      cfg.MixerSources,
	})
	if err != nil {
		return nil, fmt.Errorf("create funding analyzer: %w", err)
	}

	p.clusters, err = cluster.New(cluster.Config{
		Overrides: cfg.Thresholds.Clustering,
		Cache:     cache.Config{TTL: cfg.ClusterCache.TTL, MaxSize: cfg.ClusterCache.MaxSize},
		Log:       log,
		Clock:     p.now,
		Sources:   p.funding,
	})
	if err != nil {
		return nil, fmt.Errorf("create cluster analyzer: %w", err)
	}

	p.baselines, err = baseline.New(baseline.Config{
		Overrides: cfg.Thresholds.Volume,
		Cache:     cache.Config{TTL: cfg.BaselineCache.TTL, MaxSize: cfg.BaselineCache.MaxSize},
		Log:       log,
		Clock:     p.now,
	})
	if err != nil {
		return nil, fmt.Errorf("create baseline calculator: %w", err)
	}

	return p, nil
}

// Funding exposes the funding analyzer
func (p *Processor) Funding() *funding.Analyzer { return p.funding }

// Clusters exposes the cluster analyzer
func (p *Processor) Clusters() *cluster.Analyzer { return p.clusters }

// Baselines exposes the baseline calculator
func (p *Processor) Baselines() *baseline.Calculator { return p.baselines }

// VolumeAnomaly is a market whose trailing volume fell outside its baseline band
type VolumeAnomaly struct {
	MarketID string                 `json:"marketId"`
	Question string                 `json:"question"`
	Maturity baseline.Maturity      `json:"maturity"`
	Result   baseline.AnomalyResult `json:"result"`
}

// Report summarizes one detection cycle
type Report struct {
	StartedAt          time.Time         `json:"startedAt"`
	Duration           time.Duration     `json:"duration"`
	Wallets            int               `json:"wallets"`
	Markets            int               `json:"markets"`
	Funding            funding.Summary   `json:"funding"`
	Clustering         cluster.Summary   `json:"clustering"`
	Baselines          baseline.Summary  `json:"baselines"`
	Clusters           []cluster.Cluster `json:"clusters"`
	SuspiciousWallets  []string          `json:"suspiciousWallets"`
	CoordinatedWallets []string          `json:"coordinatedWallets"`
	VolumeAnomalies    []VolumeAnomaly   `json:"volumeAnomalies"`
	AlertsSent         int               `json:"alertsSent"`
	AlertsSuppressed   int               `json:"alertsSuppressed"`
	AlertsFailed       int               `json:"alertsFailed"`
}

// cohort is the activity of the wallets under analysis keyed by lowercase address
type cohort struct {
	addresses []string
	trades    map[string][]activity.Trade
	deposits  map[string][]activity.Deposit
	markets   []string
}

// RunCycle loads the active cohort, runs every analyzer over it, raises alerts
// and persists the results
func (p *Processor) RunCycle(ctx context.Context) (*Report, error) {
	start := time.Now()
	now := p.now()
	report := &Report{StartedAt: now}

	co, err := p.loadCohort(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Wallets = len(co.addresses)

	fundingResults := p.analyzeFunding(co)
	report.Funding = p.funding.GetSummary(fundingResults)

	batch := p.analyzeClusters(co, fundingResults)
	report.Clustering = batch.Summary
	report.Clusters = batch.Clusters

	baselines, anomalies, err := p.analyzeVolume(ctx, co, now)
	if err != nil {
		return nil, err
	}
	report.Markets = len(baselines)
	report.Baselines = p.baselines.GetSummary(baselines)
	report.VolumeAnomalies = anomalies

	for _, r := range fundingResults {
		if r.IsSuspicious() {
			report.SuspiciousWallets = append(report.SuspiciousWallets, r.Address)
			p.tally(report, p.raise(ctx, fundingAlert(r, now)))
		}
	}
	for _, r := range batch.Results {
		if p.clusters.HasHighCoordination(r) {
			report.CoordinatedWallets = append(report.CoordinatedWallets, r.Address)
			p.tally(report, p.raise(ctx, coordinationAlert(r, now)))
		}
	}
	for _, a := range anomalies {
		p.tally(report, p.raise(ctx, volumeAlert(a, now)))
	}

	if err := p.store.SaveSnapshots(ctx, buildSnapshots(fundingResults, batch, baselines, now)); err != nil {
		return nil, fmt.Errorf("save snapshots: %w", err)
	}
	if err := p.store.SetState(ctx, lastCycleStateKey, strconv.FormatInt(now.Unix(), 10)); err != nil {
		p.log.WithError(err).Error("Failed to update cycle checkpoint")
	}

	report.Duration = time.Since(start)
	metrics.RecordCycle(report.Duration, report.Wallets)

	p.log.WithFields(logrus.Fields{
		"wallets":             report.Wallets,
		"markets":             report.Markets,
		"suspicious_wallets":  len(report.SuspiciousWallets),
		"coordinated_wallets": len(report.CoordinatedWallets),
		"clusters":            len(report.Clusters),
		"volume_anomalies":    len(report.VolumeAnomalies),
		"alerts_sent":         report.AlertsSent,
		"alerts_suppressed":   report.AlertsSuppressed,
		"duration_ms":         report.Duration.Milliseconds(),
	}).Info("Detection cycle complete")

	return report, nil
}

// cohortSince is the start of the lookback window, widened back to the last
// completed cycle when cycles were missed
func (p *Processor) cohortSince(ctx context.Context, now time.Time) time.Time {
	since := now.Add(-time.Duration(p.cfg.CohortLookbackHours) * time.Hour)

	raw, err := p.store.GetState(ctx, lastCycleStateKey)
	if err != nil {
		p.log.WithError(err).Warn("Failed to read cycle checkpoint")
		return since
	}
	if raw == "" {
		return since
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.log.WithField("value", raw).Warn("Ignoring malformed cycle checkpoint")
		return since
	}
	last := time.Unix(ts, 0).UTC()
	if floor := now.Add(-maxCatchUp); last.Before(floor) {
		last = floor
	}
	if last.Before(since) {
		p.log.WithFields(logrus.Fields{
			"last_cycle": last,
			"lookback":   since,
		}).Info("Widening cohort window to cover missed cycles")
		since = last
	}
	return since
}

func (p *Processor) loadCohort(ctx context.Context, now time.Time) (*cohort, error) {
	since := p.cohortSince(ctx, now)
	wallets, err := p.store.ActiveWallets(ctx, since, p.cfg.CohortMaxWallets)
	if err != nil {
		return nil, fmt.Errorf("load active wallets: %w", err)
	}

	co := &cohort{
		trades:   make(map[string][]activity.Trade, len(wallets)),
		deposits: make(map[string][]activity.Deposit, len(wallets)),
	}
	raw := make([]string, 0, len(wallets))
	for _, w := range wallets {
		raw = append(raw, w.Address)
		co.addresses = append(co.addresses, strings.ToLower(strings.TrimSpace(w.Address)))
	}
	if len(raw) == 0 {
		return co, nil
	}

	trades, err := p.store.TradesForWallets(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	deposits, err := p.store.DepositsForWallets(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}

	markets := make(map[string]struct{})
	for _, t := range trades {
		key := strings.ToLower(t.Wallet)
		co.trades[key] = append(co.trades[key], t)
		if t.MarketID != "" {
			markets[t.MarketID] = struct{}{}
		}
	}
	for _, d := range deposits {
		key := strings.ToLower(d.To)
		co.deposits[key] = append(co.deposits[key], d)
	}
	for id := range markets {
		co.markets = append(co.markets, id)
	}
	sort.Strings(co.markets)

	return co, nil
}

func (p *Processor) analyzeFunding(co *cohort) []*funding.FundingPatternResult {
	inputs := make([]funding.Input, 0, len(co.addresses))
	for _, addr := range co.addresses {
		in := funding.Input{Address: addr, Deposits: co.deposits[addr]}
		for _, t := range co.trades[addr] {
			if in.FirstTradeAt == nil || t.Timestamp.Before(*in.FirstTradeAt) {
				ts := t.Timestamp
				in.FirstTradeAt = &ts
			}
		}
		inputs = append(inputs, in)
	}
	return p.funding.AnalyzeWallets(inputs, p.cfg.AnalysisConcurrency)
}

func (p *Processor) analyzeClusters(co *cohort, results []*funding.FundingPatternResult) *cluster.BatchClusteringResult {
	byAddr := make(map[string]*funding.FundingPatternResult, len(results))
	for _, r := range results {
		byAddr[r.Address] = r
	}
	inputs := make([]cluster.WalletInput, 0, len(co.addresses))
	for _, addr := range co.addresses {
		inputs = append(inputs, cluster.WalletInput{
			Address:       addr,
			Deposits:      co.deposits[addr],
			Trades:        co.trades[addr],
			FundingResult: byAddr[addr],
		})
	}
	return p.clusters.AnalyzeWallets(inputs, cluster.Options{Concurrency: p.cfg.AnalysisConcurrency})
}

// analyzeVolume baselines every known market the cohort traded and checks
// each market's trailing volume against its DAILY band
func (p *Processor) analyzeVolume(ctx context.Context, co *cohort, now time.Time) ([]*baseline.MarketVolumeBaseline, []VolumeAnomaly, error) {
	markets, err := p.store.Markets(ctx, co.markets)
	if err != nil {
		return nil, nil, fmt.Errorf("load markets: %w", err)
	}
	if len(markets) == 0 {
		return nil, nil, nil
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	since := now.AddDate(0, 0, -p.cfg.VolumeHistoryDays)
	inputs := make([]baseline.Input, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.AnalysisConcurrency)
	for i := range markets {
		i := i
		g.Go(func() error {
			samples, err := p.store.VolumeSamples(gctx, markets[i].ID, since)
			if err != nil {
				return fmt.Errorf("load volume samples for %s: %w", markets[i].ID, err)
			}
			inputs[i] = baseline.Input{Market: markets[i], Samples: samples}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	baselines := p.baselines.BatchCalculateBaselines(inputs, p.cfg.AnalysisConcurrency)

	var anomalies []VolumeAnomaly
	for i, b := range baselines {
		if !b.HasSufficientData {
			continue
		}
		observed := trailingVolume(inputs[i].Samples, now, anomalyWindow)
		res := p.baselines.IsVolumeAnomalous(b, observed, baseline.AnomalyOptions{Window: baseline.WindowDaily})
		if !res.IsAnomalous {
			continue
		}
		metrics.RecordVolumeAnomaly(res.IsHigh)
		anomalies = append(anomalies, VolumeAnomaly{
			MarketID: b.MarketID,
			Question: b.Question,
			Maturity: b.Maturity,
			Result:   res,
		})
	}
	return baselines, anomalies, nil
}

// trailingVolume sums samples in (now-window, now]
func trailingVolume(samples []activity.VolumeSample, now time.Time, window time.Duration) float64 {
	from := now.Add(-window)
	var total float64
	for _, s := range samples {
		if s.Timestamp.After(from) && !s.Timestamp.After(now) {
			total += s.Volume
		}
	}
	return total
}

type alertOutcome int

const (
	alertSent alertOutcome = iota
	alertSuppressed
	alertFailed
)

func (p *Processor) tally(r *Report, o alertOutcome) {
	switch o {
	case alertSent:
		r.AlertsSent++
	case alertSuppressed:
		r.AlertsSuppressed++
	default:
		r.AlertsFailed++
	}
}

// raise stores and sends an alert unless the same kind fired for the subject
// within the cooldown
func (p *Processor) raise(ctx context.Context, payload *alerts.AlertPayload) alertOutcome {
	fields := logrus.Fields{
		"kind":    payload.Kind,
		"subject": payload.Subject,
	}

	if p.cfg.AlertCooldownMins > 0 {
		last, err := p.store.LastAlertAt(ctx, string(payload.Kind), payload.Subject)
		if err != nil {
			p.log.WithError(err).WithFields(fields).Warn("Failed to get last alert")
		}
		cooldown := time.Duration(p.cfg.AlertCooldownMins) * time.Minute
		if !last.IsZero() && payload.Timestamp.Sub(last) < cooldown {
			p.log.WithFields(fields).Info("Alert suppressed (cooldown)")
			metrics.AlertsSent.WithLabelValues("suppressed").Inc()
			return alertSuppressed
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		p.log.WithError(err).WithFields(fields).Warn("Alert dropped while waiting for rate limiter")
		metrics.RecordAlert(string(payload.Kind), string(payload.Severity), err)
		return alertFailed
	}

	details, err := json.Marshal(payload.Details)
	if err != nil {
		details = []byte("{}")
	}
	record := &storage.Alert{
		AlertType: string(payload.Kind),
		Subject:   payload.Subject,
		Severity:  string(payload.Severity),
		Title:     payload.Title,
		Score:     payload.Score,
		Reasons:   strings.Join(payload.Reasons, "; "),
		Payload:   string(details),
		CreatedTS: payload.Timestamp.Unix(),
	}
	if _, err := p.store.InsertAlert(ctx, record); err != nil {
		p.log.WithError(err).WithFields(fields).Error("Failed to insert alert")
		metrics.RecordAlert(string(payload.Kind), string(payload.Severity), err)
		return alertFailed
	}

	err = p.alertSender.Send(ctx, payload)
	metrics.RecordAlert(string(payload.Kind), string(payload.Severity), err)
	if err != nil {
		p.log.WithError(err).WithFields(fields).Error("Failed to send alert")
		return alertFailed
	}
	return alertSent
}

func fundingAlert(r *funding.FundingPatternResult, now time.Time) *alerts.AlertPayload {
	severity := alerts.SeverityHigh
	if r.HasRiskySource() {
		severity = alerts.SeverityCritical
	}
	details := map[string]any{
		"timing_category":   r.TimingCategory,
		"deposit_count":     r.DepositCount,
		"total_deposit_usd": r.TotalDepositUSD,
	}
	if r.ElapsedSeconds != nil {
		details["elapsed_seconds"] = *r.ElapsedSeconds
	}
	return &alerts.AlertPayload{
		Kind:      alerts.KindFunding,
		Severity:  severity,
		Subject:   r.Address,
		Title:     fmt.Sprintf("Suspicious funding pattern on %s", activity.ShortenAddress(r.Address)),
		Score:     r.SuspicionScore,
		Reasons:   r.FlagReasons,
		Details:   details,
		Timestamp: now,
	}
}

func coordinationAlert(r *cluster.WalletClusteringResult, now time.Time) *alerts.AlertPayload {
	severity := alerts.SeverityHigh
	if r.Severity == cluster.SeverityCritical {
		severity = alerts.SeverityCritical
	}
	return &alerts.AlertPayload{
		Kind:     alerts.KindCoordination,
		Severity: severity,
		Subject:  r.Address,
		Title:    fmt.Sprintf("Coordinated wallet activity on %s", activity.ShortenAddress(r.Address)),
		Score:    r.CoordinationScore,
		Reasons:  r.FlagReasons,
		Details: map[string]any{
			"clusters":           len(r.ClusterIDs),
			"overall_confidence": r.OverallClusterConfidence,
			"confidence_level":   r.ConfidenceLevel,
		},
		Timestamp: now,
	}
}

func volumeAlert(a VolumeAnomaly, now time.Time) *alerts.AlertPayload {
	severity := alerts.SeverityMedium
	direction := "below"
	if a.Result.IsHigh {
		severity = alerts.SeverityHigh
		direction = "above"
	}
	return &alerts.AlertPayload{
		Kind:     alerts.KindVolume,
		Severity: severity,
		Subject:  a.MarketID,
		Title:    fmt.Sprintf("Trailing 24h volume %s baseline for %q", direction, a.Question),
		Score:    a.Result.ZScore,
		Reasons: []string{fmt.Sprintf("observed %.2f outside [%.2f, %.2f]",
			a.Result.Observed, a.Result.Thresholds.Low, a.Result.Thresholds.High)},
		Details: map[string]any{
			"window":   a.Result.Window,
			"maturity": a.Maturity,
			"z_score":  a.Result.ZScore,
		},
		Timestamp: now,
	}
}

func buildSnapshots(
	fundingResults []*funding.FundingPatternResult,
	batch *cluster.BatchClusteringResult,
	baselines []*baseline.MarketVolumeBaseline,
	now time.Time,
) storage.Snapshots {
	var s storage.Snapshots
	ts := now.Unix()

	for _, r := range fundingResults {
		s.Funding = append(s.Funding, storage.FundingSnapshot{
			WalletAddress:   r.Address,
			TimingCategory:  string(r.TimingCategory),
			PatternType:     string(r.PatternType),
			SuspicionScore:  r.SuspicionScore,
			ElapsedSeconds:  r.ElapsedSeconds,
			DepositCount:    r.DepositCount,
			TotalDepositUSD: r.TotalDepositUSD,
			AnalyzedTS:      ts,
		})
	}

	sources := make(map[string]*cluster.FundingSourceCluster, len(batch.FundingSourceClusters))
	for _, fc := range batch.FundingSourceClusters {
		sources[fc.ID] = fc
	}
	for _, c := range batch.Clusters {
		row := storage.ClusterSnapshot{
			ClusterID:       c.ID,
			ClusterType:     string(c.Type),
			MemberCount:     c.Size(),
			Members:         strings.Join(c.Members, ","),
			Confidence:      c.Confidence,
			ConfidenceLevel: string(c.ConfidenceLevel),
			Severity:        string(c.Severity),
			DetectedTS:      c.DetectedAt.Unix(),
			UpdatedTS:       ts,
		}
		if fc, ok := sources[c.ID]; ok {
			row.FundingSource = fc.SourceAddress
			if fc.TotalAmount != nil {
				row.TotalAmountRaw = fc.TotalAmount.String()
			}
		}
		s.Clusters = append(s.Clusters, row)
	}

	for _, r := range batch.Results {
		s.Coordination = append(s.Coordination, storage.WalletCoordination{
			WalletAddress:     r.Address,
			CoordinationScore: r.CoordinationScore,
			Severity:          string(r.Severity),
			OverallConfidence: r.OverallClusterConfidence,
			ClusterIDs:        strings.Join(r.ClusterIDs, ","),
			AnalyzedTS:        ts,
		})
	}

	for _, b := range baselines {
		row := storage.BaselineSnapshot{
			ConditionID:       b.MarketID,
			Maturity:          string(b.Maturity),
			HasSufficientData: b.HasSufficientData,
			CalculatedTS:      b.CalculatedAt.Unix(),
		}
		if daily, ok := b.Stats(baseline.WindowDaily); ok {
			row.DailyAverage = daily.AverageVolume
			row.DailyStdDev = daily.StdDev
		}
		if payload, err := json.Marshal(b.Windows); err == nil {
			row.Payload = string(payload)
		}
		s.Baselines = append(s.Baselines, row)
	}

	return s
}
