package baseline

import (
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
)

// Window is a baseline aggregation granularity
type Window string

const (
	WindowHourly   Window = "HOURLY"
	WindowFourHour Window = "FOUR_HOUR"
	WindowDaily    Window = "DAILY"
	WindowWeekly   Window = "WEEKLY"
	WindowMonthly  Window = "MONTHLY"
)

// AllWindows lists every window from finest to coarsest
var AllWindows = []Window{WindowHourly, WindowFourHour, WindowDaily, WindowWeekly, WindowMonthly}

// Duration returns the bucket length of the window. Months are 30 days.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowHourly:
		return time.Hour
	case WindowFourHour:
		return 4 * time.Hour
	case WindowDaily:
		return 24 * time.Hour
	case WindowWeekly:
		return 7 * 24 * time.Hour
	case WindowMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether w is a known window
func (w Window) Valid() bool { return w.Duration() > 0 }

// Maturity classifies a market by age
type Maturity string

const (
	MaturityVeryNew     Maturity = "VERY_NEW"
	MaturityNew         Maturity = "NEW"
	MaturityYoung       Maturity = "YOUNG"
	MaturityEstablished Maturity = "ESTABLISHED"
	MaturityMature      Maturity = "MATURE"
)

// Market carries the identity and current snapshot of a market
type Market struct {
	ID               string
	Question         string
	Slug             string
	Category         string
	CreatedAt        time.Time
	CurrentVolume    float64
	CurrentLiquidity float64
}

// WindowVolumeStats is one window's volume distribution for a market
type WindowVolumeStats struct {
	Window                 Window  `json:"window"`
	AverageVolume          float64 `json:"averageVolume"`
	MedianVolume           float64 `json:"medianVolume"`
	StdDev                 float64 `json:"stdDev"`
	MinVolume              float64 `json:"minVolume"`
	MaxVolume              float64 `json:"maxVolume"`
	TotalVolume            float64 `json:"totalVolume"`
	SampleCount            int     `json:"sampleCount"`
	P25                    float64 `json:"p25"`
	P75                    float64 `json:"p75"`
	P95                    float64 `json:"p95"`
	AverageTradeCount      float64 `json:"averageTradeCount"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
}

// MarketVolumeBaseline is the full baseline of one market
type MarketVolumeBaseline struct {
	MarketID          string                       `json:"marketId"`
	Question          string                       `json:"question"`
	Slug              string                       `json:"slug"`
	Category          string                       `json:"category"`
	CreatedAt         time.Time                    `json:"createdAt"`
	AgeDays           float64                      `json:"ageDays"`
	Maturity          Maturity                     `json:"maturity"`
	Windows           map[Window]WindowVolumeStats `json:"windows"`
	CurrentVolume     float64                      `json:"currentVolume"`
	CurrentLiquidity  float64                      `json:"currentLiquidity"`
	RangeStart        time.Time                    `json:"rangeStart"`
	RangeEnd          time.Time                    `json:"rangeEnd"`
	HasSufficientData bool                         `json:"hasSufficientData"`
	CalculatedAt      time.Time                    `json:"calculatedAt"`
	ExpiresAt         time.Time                    `json:"expiresAt"`
	FromCache         bool                         `json:"fromCache"`
}

// Stats returns the stats of a window and whether they were computed
func (b *MarketVolumeBaseline) Stats(w Window) (WindowVolumeStats, bool) {
	if b == nil {
		return WindowVolumeStats{}, false
	}
	s, ok := b.Windows[w]
	return s, ok
}

// AnomalyThresholds are the volume bounds outside which a value is anomalous
type AnomalyThresholds struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// AnomalyResult is the outcome of an anomaly check
type AnomalyResult struct {
	Window      Window            `json:"window"`
	Observed    float64           `json:"observed"`
	IsAnomalous bool              `json:"isAnomalous"`
	IsHigh      bool              `json:"isHigh"`
	IsLow       bool              `json:"isLow"`
	ZScore      float64           `json:"zScore"`
	Thresholds  AnomalyThresholds `json:"thresholds"`
}

// AnomalyOptions tunes an anomaly check; zero values use DAILY and the
// configured multiplier
type AnomalyOptions struct {
	Window           Window
	StdDevMultiplier float64
}

// MarketVolume is a compact market reference used in summaries
type MarketVolume struct {
	MarketID      string  `json:"marketId"`
	Question      string  `json:"question"`
	CurrentVolume float64 `json:"currentVolume"`
}

// Summary aggregates a set of baselines
type Summary struct {
	TotalMarkets       int              `json:"totalMarkets"`
	ByMaturity         map[Maturity]int `json:"byMaturity"`
	AverageDailyVolume *float64         `json:"averageDailyVolume"`
	TotalCurrentVolume float64          `json:"totalCurrentVolume"`
	FromCacheCount     int              `json:"fromCacheCount"`
	TopMarketsByVolume []MarketVolume   `json:"topMarketsByVolume"`
}

// Options selects windows and cache behavior for a calculation
type Options struct {
	Windows     []Window
	BypassCache bool
}

// Input is one market of a batch calculation
type Input struct {
	Market  Market
	Samples []activity.VolumeSample
	Options Options
}
