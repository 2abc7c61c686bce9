// Package thresholds holds the numeric detection policy of every analyzer and
// merges partial overrides onto the documented defaults.
package thresholds

import (
	"fmt"
)

// FundingThresholds drives funding-pattern classification
type FundingThresholds struct {
	// Timing bucket upper bounds, in seconds between funding and first trade
	FlashTimingSeconds    int64
	VeryFastTimingSeconds int64
	FastTimingSeconds     int64
	ModerateTimingSeconds int64

	// Points awarded per timing bucket; slower buckets score nothing
	FlashTimingScore    float64
	VeryFastTimingScore float64
	FastTimingScore     float64
	ModerateTimingScore float64

	SanctionedSourceScore float64
	MixerSourceScore      float64

	LargeDepositUSD   float64
	LargeDepositScore float64

	QuickDepositWindowSeconds int64
	QuickDepositMinCount      int
	QuickDepositScore         float64

	// Pattern classification cut points on the total score
	QuickThreshold      float64
	ImmediateThreshold  float64
	SuspiciousThreshold float64
}

// FundingOverrides is a partial FundingThresholds; nil fields keep defaults
type FundingOverrides struct {
	FlashTimingSeconds        *int64
	VeryFastTimingSeconds     *int64
	FastTimingSeconds         *int64
	ModerateTimingSeconds     *int64
	FlashTimingScore          *float64
	VeryFastTimingScore       *float64
	FastTimingScore           *float64
	ModerateTimingScore       *float64
	SanctionedSourceScore     *float64
	MixerSourceScore          *float64
	LargeDepositUSD           *float64
	LargeDepositScore         *float64
	QuickDepositWindowSeconds *int64
	QuickDepositMinCount      *int
	QuickDepositScore         *float64
	QuickThreshold            *float64
	ImmediateThreshold        *float64
	SuspiciousThreshold       *float64
}

// DefaultFundingThresholds returns the stock funding policy
func DefaultFundingThresholds() FundingThresholds {
	return FundingThresholds{
		FlashTimingSeconds:        300,
		VeryFastTimingSeconds:     3600,
		FastTimingSeconds:         86400,
		ModerateTimingSeconds:     604800,
		FlashTimingScore:          40,
		VeryFastTimingScore:       30,
		FastTimingScore:           15,
		ModerateTimingScore:       5,
		SanctionedSourceScore:     50,
		MixerSourceScore:          35,
		LargeDepositUSD:           10000,
		LargeDepositScore:         15,
		QuickDepositWindowSeconds: 3600,
		QuickDepositMinCount:      2,
		QuickDepositScore:         10,
		QuickThreshold:            20,
		ImmediateThreshold:        40,
		SuspiciousThreshold:       60,
	}
}

// Merge returns t with every non-nil override applied
func (t FundingThresholds) Merge(o FundingOverrides) FundingThresholds {
	setInt64(&t.FlashTimingSeconds, o.FlashTimingSeconds)
	setInt64(&t.VeryFastTimingSeconds, o.VeryFastTimingSeconds)
	setInt64(&t.FastTimingSeconds, o.FastTimingSeconds)
	setInt64(&t.ModerateTimingSeconds, o.ModerateTimingSeconds)
	setFloat(&t.FlashTimingScore, o.FlashTimingScore)
	setFloat(&t.VeryFastTimingScore, o.VeryFastTimingScore)
	setFloat(&t.FastTimingScore, o.FastTimingScore)
	setFloat(&t.ModerateTimingScore, o.ModerateTimingScore)
	setFloat(&t.SanctionedSourceScore, o.SanctionedSourceScore)
	setFloat(&t.MixerSourceScore, o.MixerSourceScore)
	setFloat(&t.LargeDepositUSD, o.LargeDepositUSD)
	setFloat(&t.LargeDepositScore, o.LargeDepositScore)
	setInt64(&t.QuickDepositWindowSeconds, o.QuickDepositWindowSeconds)
	setInt(&t.QuickDepositMinCount, o.QuickDepositMinCount)
	setFloat(&t.QuickDepositScore, o.QuickDepositScore)
	setFloat(&t.QuickThreshold, o.QuickThreshold)
	setFloat(&t.ImmediateThreshold, o.ImmediateThreshold)
	setFloat(&t.SuspiciousThreshold, o.SuspiciousThreshold)
	return t
}

// Validate checks the ordering the classifier relies on
func (t FundingThresholds) Validate() error {
	if t.FlashTimingSeconds <= 0 {
		return fmt.Errorf("flash timing seconds must be positive, got %d", t.FlashTimingSeconds)
	}
	if !(t.FlashTimingSeconds < t.VeryFastTimingSeconds &&
		t.VeryFastTimingSeconds < t.FastTimingSeconds &&
		t.FastTimingSeconds < t.ModerateTimingSeconds) {
		return fmt.Errorf("timing boundaries must ascend: flash=%d very_fast=%d fast=%d moderate=%d",
			t.FlashTimingSeconds, t.VeryFastTimingSeconds, t.FastTimingSeconds, t.ModerateTimingSeconds)
	}
	if !(t.FlashTimingScore > t.VeryFastTimingScore && t.VeryFastTimingScore > t.FastTimingScore) {
		return fmt.Errorf("timing scores must descend: flash=%.1f very_fast=%.1f fast=%.1f",
			t.FlashTimingScore, t.VeryFastTimingScore, t.FastTimingScore)
	}
	if t.FastTimingScore < t.ModerateTimingScore || t.ModerateTimingScore < 0 {
		return fmt.Errorf("moderate timing score must be within [0, fast], got %.1f", t.ModerateTimingScore)
	}
	if t.SanctionedSourceScore < t.MixerSourceScore {
		return fmt.Errorf("sanctioned source score %.1f below mixer source score %.1f",
			t.SanctionedSourceScore, t.MixerSourceScore)
	}
	if !(t.QuickThreshold < t.ImmediateThreshold && t.ImmediateThreshold < t.SuspiciousThreshold) {
		return fmt.Errorf("pattern thresholds must ascend: quick=%.1f immediate=%.1f suspicious=%.1f",
			t.QuickThreshold, t.ImmediateThreshold, t.SuspiciousThreshold)
	}
	if t.QuickDepositMinCount < 2 {
		return fmt.Errorf("quick deposit min count must be at least 2, got %d", t.QuickDepositMinCount)
	}
	if t.QuickDepositWindowSeconds <= 0 {
		return fmt.Errorf("quick deposit window must be positive, got %d", t.QuickDepositWindowSeconds)
	}
	return nil
}

// ClusteringThresholds drives fresh-wallet clustering and coordination scoring
type ClusteringThresholds struct {
	MinClusterSize             int
	TemporalWindowHours        float64
	MinConfidence              float64
	FundingSimilarityThreshold float64
	TradingSimilarityThreshold float64
	MinSharedMarkets           int

	SharedFundingSourcePoints float64
	TemporalProximityPoints   float64
	TradingPatternPoints      float64
	SharedMarketPoints        float64

	MediumCoordinationThreshold   float64
	HighCoordinationThreshold     float64
	CriticalCoordinationThreshold float64
}

// ClusteringOverrides is a partial ClusteringThresholds; nil fields keep defaults
type ClusteringOverrides struct {
	MinClusterSize                *int
	TemporalWindowHours           *float64
	MinConfidence                 *float64
	FundingSimilarityThreshold    *float64
	TradingSimilarityThreshold    *float64
	MinSharedMarkets              *int
	SharedFundingSourcePoints     *float64
	TemporalProximityPoints       *float64
	TradingPatternPoints          *float64
	SharedMarketPoints            *float64
	MediumCoordinationThreshold   *float64
	HighCoordinationThreshold     *float64
	CriticalCoordinationThreshold *float64
}

// DefaultClusteringThresholds returns the stock clustering policy
func DefaultClusteringThresholds() ClusteringThresholds {
	return ClusteringThresholds{
		MinClusterSize:                2,
		TemporalWindowHours:           24,
		MinConfidence:                 30,
		FundingSimilarityThreshold:    0.7,
		TradingSimilarityThreshold:    0.7,
		MinSharedMarkets:              2,
		SharedFundingSourcePoints:     30,
		TemporalProximityPoints:       25,
		TradingPatternPoints:          25,
		SharedMarketPoints:            10,
		MediumCoordinationThreshold:   30,
		HighCoordinationThreshold:     60,
		CriticalCoordinationThreshold: 80,
	}
}

// Merge returns t with every non-nil override applied
func (t ClusteringThresholds) Merge(o ClusteringOverrides) ClusteringThresholds {
	setInt(&t.MinClusterSize, o.MinClusterSize)
	setFloat(&t.TemporalWindowHours, o.TemporalWindowHours)
	setFloat(&t.MinConfidence, o.MinConfidence)
	setFloat(&t.FundingSimilarityThreshold, o.FundingSimilarityThreshold)
	setFloat(&t.TradingSimilarityThreshold, o.TradingSimilarityThreshold)
	setInt(&t.MinSharedMarkets, o.MinSharedMarkets)
	setFloat(&t.SharedFundingSourcePoints, o.SharedFundingSourcePoints)
	setFloat(&t.TemporalProximityPoints, o.TemporalProximityPoints)
	setFloat(&t.TradingPatternPoints, o.TradingPatternPoints)
	setFloat(&t.SharedMarketPoints, o.SharedMarketPoints)
	setFloat(&t.MediumCoordinationThreshold, o.MediumCoordinationThreshold)
	setFloat(&t.HighCoordinationThreshold, o.HighCoordinationThreshold)
	setFloat(&t.CriticalCoordinationThreshold, o.CriticalCoordinationThreshold)
	return t
}

// Validate checks ranges and the coordination band ordering
func (t ClusteringThresholds) Validate() error {
	if t.MinClusterSize < 2 {
		return fmt.Errorf("min cluster size must be at least 2, got %d", t.MinClusterSize)
	}
	if t.TemporalWindowHours <= 0 {
		return fmt.Errorf("temporal window must be positive, got %.2f", t.TemporalWindowHours)
	}
	if t.MinConfidence < 0 || t.MinConfidence > 100 {
		return fmt.Errorf("min confidence must be within [0,100], got %.1f", t.MinConfidence)
	}
	if !unit(t.FundingSimilarityThreshold) || !unit(t.TradingSimilarityThreshold) {
		return fmt.Errorf("similarity thresholds must be within [0,1]: funding=%.2f trading=%.2f",
			t.FundingSimilarityThreshold, t.TradingSimilarityThreshold)
	}
	if t.MinSharedMarkets < 0 {
		return fmt.Errorf("min shared markets must not be negative, got %d", t.MinSharedMarkets)
	}
	for name, v := range map[string]float64{
		"shared_funding_source": t.SharedFundingSourcePoints,
		"temporal_proximity":    t.TemporalProximityPoints,
		"trading_pattern":       t.TradingPatternPoints,
		"shared_market":         t.SharedMarketPoints,
	} {
		if v < 0 {
			return fmt.Errorf("%s points must not be negative, got %.1f", name, v)
		}
	}
	if !(t.MediumCoordinationThreshold < t.HighCoordinationThreshold &&
		t.HighCoordinationThreshold < t.CriticalCoordinationThreshold) {
		return fmt.Errorf("coordination thresholds must ascend: medium=%.1f high=%.1f critical=%.1f",
			t.MediumCoordinationThreshold, t.HighCoordinationThreshold, t.CriticalCoordinationThreshold)
	}
	return nil
}

// VolumeThresholds drives baseline computation and anomaly checks
type VolumeThresholds struct {
	// Market age boundaries in days
	VeryNewMaxDays     float64
	NewMaxDays         float64
	YoungMaxDays       float64
	EstablishedMaxDays float64

	// Number of buckets looked back per window
	HourlyLookback   int
	FourHourLookback int
	DailyLookback    int
	WeeklyLookback   int
	MonthlyLookback  int

	MinDataPoints           int
	AnomalyStdDevMultiplier float64
	SummaryTopN             int
}

// VolumeOverrides is a partial VolumeThresholds; nil fields keep defaults
type VolumeOverrides struct {
	VeryNewMaxDays          *float64
	NewMaxDays              *float64
	YoungMaxDays            *float64
	EstablishedMaxDays      *float64
	HourlyLookback          *int
	FourHourLookback        *int
	DailyLookback           *int
	WeeklyLookback          *int
	MonthlyLookback         *int
	MinDataPoints           *int
	AnomalyStdDevMultiplier *float64
	SummaryTopN             *int
}

// DefaultVolumeThresholds returns the stock baseline policy
func DefaultVolumeThresholds() VolumeThresholds {
	return VolumeThresholds{
		VeryNewMaxDays:          1,
		NewMaxDays:              7,
		YoungMaxDays:            30,
		EstablishedMaxDays:      90,
		HourlyLookback:          168,
		FourHourLookback:        180,
		DailyLookback:           30,
		WeeklyLookback:          12,
		MonthlyLookback:         6,
		MinDataPoints:           3,
		AnomalyStdDevMultiplier: 2,
		SummaryTopN:             10,
	}
}

// Merge returns t with every non-nil override applied
func (t VolumeThresholds) Merge(o VolumeOverrides) VolumeThresholds {
	setFloat(&t.VeryNewMaxDays, o.VeryNewMaxDays)
	setFloat(&t.NewMaxDays, o.NewMaxDays)
	setFloat(&t.YoungMaxDays, o.YoungMaxDays)
	setFloat(&t.EstablishedMaxDays, o.EstablishedMaxDays)
	setInt(&t.HourlyLookback, o.HourlyLookback)
	setInt(&t.FourHourLookback, o.FourHourLookback)
	setInt(&t.DailyLookback, o.DailyLookback)
	setInt(&t.WeeklyLookback, o.WeeklyLookback)
	setInt(&t.MonthlyLookback, o.MonthlyLookback)
	setInt(&t.MinDataPoints, o.MinDataPoints)
	setFloat(&t.AnomalyStdDevMultiplier, o.AnomalyStdDevMultiplier)
	setInt(&t.SummaryTopN, o.SummaryTopN)
	return t
}

// Validate checks maturity ordering and positive lookbacks
func (t VolumeThresholds) Validate() error {
	if !(0 < t.VeryNewMaxDays && t.VeryNewMaxDays < t.NewMaxDays &&
		t.NewMaxDays < t.YoungMaxDays && t.YoungMaxDays < t.EstablishedMaxDays) {
		return fmt.Errorf("maturity boundaries must ascend: very_new=%.1f new=%.1f young=%.1f established=%.1f",
			t.VeryNewMaxDays, t.NewMaxDays, t.YoungMaxDays, t.EstablishedMaxDays)
	}
	for name, v := range map[string]int{
		"hourly":    t.HourlyLookback,
		"four_hour": t.FourHourLookback,
		"daily":     t.DailyLookback,
		"weekly":    t.WeeklyLookback,
		"monthly":   t.MonthlyLookback,
	} {
		if v <= 0 {
			return fmt.Errorf("%s lookback must be positive, got %d", name, v)
		}
	}
	if t.AnomalyStdDevMultiplier <= 0 {
		return fmt.Errorf("anomaly stddev multiplier must be positive, got %.2f", t.AnomalyStdDevMultiplier)
	}
	if t.SummaryTopN < 0 || t.MinDataPoints < 0 {
		return fmt.Errorf("summary top-n and min data points must not be negative")
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
