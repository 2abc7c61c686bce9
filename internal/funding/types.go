package funding

import (
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
)

// TimingCategory buckets the delay between funding and first trade
type TimingCategory string

const (
	TimingFlash     TimingCategory = "FLASH"
	TimingVeryFast  TimingCategory = "VERY_FAST"
	TimingFast      TimingCategory = "FAST"
	TimingModerate  TimingCategory = "MODERATE"
	TimingSlow      TimingCategory = "SLOW"
	TimingNoTrades  TimingCategory = "NO_TRADES"
	TimingNoFunding TimingCategory = "NO_FUNDING"
)

// PatternType is the overall funding classification derived from the score
type PatternType string

const (
	PatternNormal     PatternType = "NORMAL"
	PatternQuick      PatternType = "QUICK"
	PatternImmediate  PatternType = "IMMEDIATE"
	PatternSuspicious PatternType = "SUSPICIOUS"
)

// SignalBreakdown itemizes the sub-scores that make up a suspicion score
type SignalBreakdown struct {
	TimingScore           float64 `json:"timingScore"`
	SanctionedSourceScore float64 `json:"sanctionedSourceScore"`
	MixerSourceScore      float64 `json:"mixerSourceScore"`
	LargeDepositScore     float64 `json:"largeDepositScore"`
	QuickDepositsScore    float64 `json:"quickDepositsScore"`
}

// Total is the unclamped sum of every sub-score
func (s SignalBreakdown) Total() float64 {
	return s.TimingScore + s.SanctionedSourceScore + s.MixerSourceScore + s.LargeDepositScore + s.QuickDepositsScore
}

// FundingPatternResult describes how a wallet was funded relative to its first trade
type FundingPatternResult struct {
	Address           string          `json:"address"`
	ElapsedSeconds    *int64          `json:"elapsedSeconds"`
	TimingCategory    TimingCategory  `json:"timingCategory"`
	PatternType       PatternType     `json:"patternType"`
	SuspicionScore    float64         `json:"suspicionScore"`
	Signals           SignalBreakdown `json:"signals"`
	FlagReasons       []string        `json:"flagReasons"`
	DepositCount      int             `json:"depositCount"`
	TotalDepositUSD   float64         `json:"totalDepositUsd"`
	LargestDepositUSD float64         `json:"largestDepositUsd"`
	QuickDepositCount int             `json:"quickDepositCount"`
	SanctionedSources []string        `json:"sanctionedSources,omitempty"`
	MixerSources      []string        `json:"mixerSources,omitempty"`
	FirstFundingAt    *time.Time      `json:"firstFundingAt"`
	FirstTradeAt      *time.Time      `json:"firstTradeAt"`
	FromCache         bool            `json:"fromCache"`
	AnalyzedAt        time.Time       `json:"analyzedAt"`
}

// HasRiskySource reports whether any deposit came from a sanctioned or mixer source
func (r *FundingPatternResult) HasRiskySource() bool {
	if r == nil {
		return false
	}
	return r.Signals.SanctionedSourceScore > 0 || r.Signals.MixerSourceScore > 0
}

// IsSuspicious reports whether the wallet was classified SUSPICIOUS
func (r *FundingPatternResult) IsSuspicious() bool {
	return r != nil && r.PatternType == PatternSuspicious
}

// Summary aggregates a set of funding results. Averages are nil when no
// result contributes a value.
type Summary struct {
	TotalWallets          int                    `json:"totalWallets"`
	SuspiciousCount       int                    `json:"suspiciousCount"`
	SuspiciousPercentage  float64                `json:"suspiciousPercentage"`
	FlashCount            int                    `json:"flashCount"`
	FlashPercentage       float64                `json:"flashPercentage"`
	AverageElapsedSeconds *float64               `json:"averageElapsedSeconds"`
	MedianElapsedSeconds  *float64               `json:"medianElapsedSeconds"`
	AverageSuspicionScore *float64               `json:"averageSuspicionScore"`
	ByPattern             map[PatternType]int    `json:"byPattern"`
	ByTiming              map[TimingCategory]int `json:"byTiming"`
}

// Input is one wallet of a batch analysis
type Input struct {
	Address      string
	Deposits     []activity.Deposit
	FirstTradeAt *time.Time
	BypassCache  bool
}
