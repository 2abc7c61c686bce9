package cluster

import (
	"math/big"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/funding"
)

// Type is the family of evidence a cluster was built from
type Type string

const (
	TypeFundingSource  Type = "FUNDING_SOURCE"
	TypeTemporal       Type = "TEMPORAL"
	TypeTradingPattern Type = "TRADING_PATTERN"
	TypeMultiFactor    Type = "MULTI_FACTOR"
)

// ConfidenceLevel buckets a 0-100 confidence score
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "VERY_LOW"
	ConfidenceLow      ConfidenceLevel = "LOW"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceVeryHigh ConfidenceLevel = "VERY_HIGH"
)

// Severity ranks clusters and wallets for alerting
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Characteristic is one piece of evidence shared by a cluster's members
type Characteristic struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Value       string  `json:"value"`
	Strength    float64 `json:"strength"` // 0-1
}

// Cluster is a group of wallets linked by one or more signals
type Cluster struct {
	ID              string           `json:"id"`
	Type            Type             `json:"type"`
	Members         []string         `json:"members"`
	Characteristics []Characteristic `json:"characteristics"`
	Strength        float64          `json:"strength"`
	Confidence      float64          `json:"confidence"`
	ConfidenceLevel ConfidenceLevel  `json:"confidenceLevel"`
	Severity        Severity         `json:"severity"`
	DetectedAt      time.Time        `json:"detectedAt"`
	FlagReasons     []string         `json:"flagReasons"`
}

// Size is the number of member wallets
func (c *Cluster) Size() int { return len(c.Members) }

// HasMember reports whether addr belongs to the cluster
func (c *Cluster) HasMember(addr string) bool {
	for _, m := range c.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// FundedWallet is one member of a funding-source cluster
type FundedWallet struct {
	Address         string    `json:"address"`
	Amount          *big.Int  `json:"amount"`
	FormattedAmount string    `json:"formattedAmount"`
	Concentration   float64   `json:"concentration"` // share of the wallet's inflow from the source
	FirstFundedAt   time.Time `json:"firstFundedAt"`
}

// FundingSourceCluster groups wallets funded by the same address
type FundingSourceCluster struct {
	Cluster
	SourceAddress        string         `json:"sourceAddress"`
	FundedWallets        []FundedWallet `json:"fundedWallets"`
	TotalAmount          *big.Int       `json:"totalAmount"`
	FormattedTotalAmount string         `json:"formattedTotalAmount"`
	FundingConcentration float64        `json:"fundingConcentration"`
	IsSuspiciousSource   bool           `json:"isSuspiciousSource"`
	IsHighRiskSource     bool           `json:"isHighRiskSource"`
}

// TemporalCluster groups wallets whose first trades fall in one window
type TemporalCluster struct {
	Cluster
	WindowStart            time.Time `json:"windowStart"`
	WindowEnd              time.Time `json:"windowEnd"`
	AverageIntervalSeconds float64   `json:"averageIntervalSeconds"`
	TimingSuspicion        float64   `json:"timingSuspicion"` // 0-100
}

// Fingerprint summarizes how a wallet trades
type Fingerprint struct {
	Markets      []string `json:"markets"`
	TradeCount   int      `json:"tradeCount"`
	TradesPerDay float64  `json:"tradesPerDay"`
	AverageSize  float64  `json:"averageSize"`
}

// TradingPatternCluster groups wallets with near-identical trading fingerprints
type TradingPatternCluster struct {
	Cluster
	CommonMarkets     []string `json:"commonMarkets"`
	AverageSimilarity float64  `json:"averageSimilarity"`
	LinkedPairs       int      `json:"linkedPairs"`
}

// MultiFactorCluster is the overlap of clusters from different families
type MultiFactorCluster struct {
	Cluster
	Factors          []Type   `json:"factors"`
	SourceClusterIDs []string `json:"sourceClusterIds"`
}

// Membership is a compact reference to a cluster a wallet belongs to
type Membership struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Confidence float64         `json:"confidence"`
	Level      ConfidenceLevel `json:"level"`
	Size       int             `json:"size"`
	Severity   Severity        `json:"severity"`
}

// WalletClusteringResult is the per-wallet view of a clustering run
type WalletClusteringResult struct {
	Address                  string                 `json:"address"`
	ClusterIDs               []string               `json:"clusterIds"`
	ClusterConfidences       map[string]float64     `json:"clusterConfidences"`
	Memberships              []Membership           `json:"memberships"`
	FundingSourceCluster     *FundingSourceCluster  `json:"fundingSourceCluster,omitempty"`
	TemporalCluster          *TemporalCluster       `json:"temporalCluster,omitempty"`
	TradingPatternCluster    *TradingPatternCluster `json:"tradingPatternCluster,omitempty"`
	OverallClusterConfidence float64                `json:"overallClusterConfidence"`
	ConfidenceLevel          ConfidenceLevel        `json:"confidenceLevel"`
	CoordinationScore        float64                `json:"coordinationScore"`
	Severity                 Severity               `json:"severity"`
	FlagReasons              []string               `json:"flagReasons"`
	FromCache                bool                   `json:"fromCache"`
	AnalyzedAt               time.Time              `json:"analyzedAt"`
}

// Summary aggregates wallet clustering results. Averages are nil when
// nothing contributes a value.
type Summary struct {
	TotalWallets             int                     `json:"totalWallets"`
	ClusteredWallets         int                     `json:"clusteredWallets"`
	ClusteredPercentage      float64                 `json:"clusteredPercentage"`
	TotalClusters            int                     `json:"totalClusters"`
	ClustersByType           map[Type]int            `json:"clustersByType"`
	ClustersByConfidence     map[ConfidenceLevel]int `json:"clustersByConfidence"`
	AverageClusterSize       *float64                `json:"averageClusterSize"`
	LargestClusterSize       int                     `json:"largestClusterSize"`
	AverageCoordinationScore *float64                `json:"averageCoordinationScore"`
	HighSeverityClusters     int                     `json:"highSeverityClusters"`
}

// BatchClusteringResult is the outcome of clustering one cohort
type BatchClusteringResult struct {
	Results                []*WalletClusteringResult `json:"results"`
	Clusters               []Cluster                 `json:"clusters"`
	FundingSourceClusters  []*FundingSourceCluster   `json:"fundingSourceClusters"`
	TemporalClusters       []*TemporalCluster        `json:"temporalClusters"`
	TradingPatternClusters []*TradingPatternCluster  `json:"tradingPatternClusters"`
	MultiFactorClusters    []*MultiFactorCluster     `json:"multiFactorClusters"`
	TotalWallets           int                       `json:"totalWallets"`
	ClusteredWallets       int                       `json:"clusteredWallets"`
	TotalClusters          int                       `json:"totalClusters"`
	Summary                Summary                   `json:"summary"`
	AnalyzedAt             time.Time                 `json:"analyzedAt"`
}

// WalletInput is one wallet of a cohort
type WalletInput struct {
	Address       string
	Deposits      []activity.Deposit
	Trades        []activity.Trade
	FundingResult *funding.FundingPatternResult
}

// Options tunes a batch run
type Options struct {
	// Concurrency bounds the per-wallet scoring step; values below 1 run serially
	Concurrency int
}
