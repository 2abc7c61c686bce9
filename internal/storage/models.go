package storage

import (
	"math/big"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// Wallet is a wallet record written by ingestion
type Wallet struct {
	WalletAddress  string `gorm:"primaryKey;size:64"`
	FirstSeenTS    int64  `gorm:"not null;index"`
	IsContract     bool   `gorm:"not null;default:false"`
	IsProxy        bool   `gorm:"not null;default:false"`
	TotalTrades    int    `gorm:"not null;default:0"`
	LastActivityTS int64  `gorm:"not null;index"`
	UpdatedTS      int64  `gorm:"not null"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// ToActivity converts the row into the analyzer representation
func (w Wallet) ToActivity() activity.Wallet {
	return activity.Wallet{
		Address:     w.WalletAddress,
		FirstSeenAt: time.Unix(w.FirstSeenTS, 0).UTC(),
		IsContract:  w.IsContract,
		IsProxy:     w.IsProxy,
		TotalTrades: w.TotalTrades,
	}
}

// Trade is a fill attributed to a wallet
type Trade struct {
	TradeHash     string  `gorm:"primaryKey;size:128"`
	WalletAddress string  `gorm:"size:64;not null;index"`
	ConditionID   string  `gorm:"size:128;not null;index"`
	Side          string  `gorm:"size:10;not null"`
	Outcome       string  `gorm:"size:255;not null"`
	NotionalUSD   float64 `gorm:"type:decimal(20,6);not null"`
	Price         float64 `gorm:"type:decimal(10,6);not null"`
	TimestampSec  int64   `gorm:"not null;index"`
	CreatedTS     int64   `gorm:"not null"`
}

func (Trade) TableName() string {
	return "trades"
}

// ToActivity converts the row into the analyzer representation
func (t Trade) ToActivity() activity.Trade {
	return activity.Trade{
		ID:        t.TradeHash,
		Wallet:    t.WalletAddress,
		MarketID:  t.ConditionID,
		Side:      t.Side,
		Outcome:   t.Outcome,
		Size:      t.NotionalUSD,
		Price:     t.Price,
		Timestamp: time.Unix(t.TimestampSec, 0).UTC(),
	}
}

// Deposit is a funding transfer into a tracked wallet. AmountRaw holds the
// base-unit integer as a decimal string so no precision is lost.
type Deposit struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	TxHash       string  `gorm:"size:128;not null;uniqueIndex:idx_deposit_tx_to"`
	ToAddress    string  `gorm:"size:64;not null;uniqueIndex:idx_deposit_tx_to;index"`
	FromAddress  string  `gorm:"size:64;not null;index"`
	AmountRaw    string  `gorm:"size:78;not null"`
	AmountUSD    float64 `gorm:"type:decimal(20,6);not null;default:0"`
	TimestampSec int64   `gorm:"not null;index"`
	IsSanctioned bool    `gorm:"not null;default:false"`
	IsMixer      bool    `gorm:"not null;default:false"`
	CreatedTS    int64   `gorm:"not null"`
}

func (Deposit) TableName() string {
	return "deposits"
}

// ToActivity converts the row into the analyzer representation. A malformed
// raw amount is treated as absent.
func (d Deposit) ToActivity() activity.Deposit {
	out := activity.Deposit{
		TxHash:       d.TxHash,
		From:         d.FromAddress,
		To:           d.ToAddress,
		AmountUSD:    d.AmountUSD,
		Timestamp:    time.Unix(d.TimestampSec, 0).UTC(),
		IsSanctioned: d.IsSanctioned,
		IsMixer:      d.IsMixer,
	}
	if amount, ok := new(big.Int).SetString(d.AmountRaw, 10); ok {
		out.Amount = amount
	}
	return out
}

// Market is the market metadata snapshot
type Market struct {
	ConditionID  string  `gorm:"primaryKey;size:128"`
	Question     string  `gorm:"size:512"`
	MarketSlug   string  `gorm:"size:255;index"`
	Category     string  `gorm:"size:128"`
	CreatedTS    int64   `gorm:"default:0"`
	VolumeNum    float64 `gorm:"type:decimal(20,6)"`
	LiquidityNum float64 `gorm:"type:decimal(20,6)"`
	IsActive     bool    `gorm:"default:true"`
	UpdatedTS    int64   `gorm:"not null;index"`
}

func (Market) TableName() string {
	return "markets"
}

// MarketVolumeSample is one volume observation for a market
type MarketVolumeSample struct {
	ConditionID string  `gorm:"primaryKey;size:128"`
	BucketTS    int64   `gorm:"primaryKey"`
	VolumeUSD   float64 `gorm:"type:decimal(20,6);not null"`
	TradeCount  int     `gorm:"not null;default:0"`
}

func (MarketVolumeSample) TableName() string {
	return "market_volume_samples"
}

// Alert stores generated alerts
type Alert struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	AlertType string  `gorm:"size:32;not null;index:idx_alert_subject"`
	Subject   string  `gorm:"size:128;not null;index:idx_alert_subject"`
	Severity  string  `gorm:"size:16;not null;index"`
	Title     string  `gorm:"size:512"`
	Score     float64 `gorm:"type:decimal(10,2);not null"`
	Reasons   string  `gorm:"type:text"`
	Payload   string  `gorm:"type:text"`
	CreatedTS int64   `gorm:"not null;index"`
}

func (Alert) TableName() string {
	return "alerts"
}

// FundingSnapshot is the latest funding classification of a wallet
type FundingSnapshot struct {
	WalletAddress   string  `gorm:"primaryKey;size:64"`
	TimingCategory  string  `gorm:"size:16;not null;index"`
	PatternType     string  `gorm:"size:16;not null;index"`
	SuspicionScore  float64 `gorm:"type:decimal(10,2);not null;index"`
	ElapsedSeconds  *int64
	DepositCount    int     `gorm:"not null"`
	TotalDepositUSD float64 `gorm:"type:decimal(20,6);not null"`
	AnalyzedTS      int64   `gorm:"not null;index"`
}

func (FundingSnapshot) TableName() string {
	return "funding_snapshots"
}

// ClusterSnapshot records a detected wallet cluster
type ClusterSnapshot struct {
	ClusterID       string  `gorm:"primaryKey;size:64"`
	ClusterType     string  `gorm:"size:32;not null;index"`
	MemberCount     int     `gorm:"not null"`
	Members         string  `gorm:"type:text;not null"`
	FundingSource   string  `gorm:"size:64;index"`
	TotalAmountRaw  string  `gorm:"size:78"`
	Confidence      float64 `gorm:"type:decimal(10,2);not null;index"`
	ConfidenceLevel string  `gorm:"size:16;not null"`
	Severity        string  `gorm:"size:16;not null"`
	DetectedTS      int64   `gorm:"not null"`
	UpdatedTS       int64   `gorm:"not null;index"`
}

func (ClusterSnapshot) TableName() string {
	return "cluster_snapshots"
}

// WalletCoordination is the latest coordination score of a wallet
type WalletCoordination struct {
	WalletAddress     string  `gorm:"primaryKey;size:64"`
	CoordinationScore float64 `gorm:"type:decimal(10,2);not null;index"`
	Severity          string  `gorm:"size:16;not null"`
	OverallConfidence float64 `gorm:"type:decimal(10,2);not null"`
	ClusterIDs        string  `gorm:"type:text"`
	AnalyzedTS        int64   `gorm:"not null;index"`
}

func (WalletCoordination) TableName() string {
	return "wallet_coordination"
}

// BaselineSnapshot is the latest volume baseline of a market
type BaselineSnapshot struct {
	ConditionID       string  `gorm:"primaryKey;size:128"`
	Maturity          string  `gorm:"size:16;not null"`
	DailyAverage      float64 `gorm:"type:decimal(20,6);not null"`
	DailyStdDev       float64 `gorm:"type:decimal(20,6);not null"`
	HasSufficientData bool    `gorm:"not null"`
	Payload           string  `gorm:"type:text"`
	CalculatedTS      int64   `gorm:"not null;index"`
}

func (BaselineSnapshot) TableName() string {
	return "baseline_snapshots"
}

// Snapshots is one cycle's worth of analyzer output to persist
type Snapshots struct {
	Funding      []FundingSnapshot
	Clusters     []ClusterSnapshot
	Coordination []WalletCoordination
	Baselines    []BaselineSnapshot
}

// BeforeCreate hook for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedTS == 0 {
		a.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (c *ClusterSnapshot) BeforeCreate(tx *gorm.DB) error {
	if c.UpdatedTS == 0 {
		c.UpdatedTS = time.Now().Unix()
	}
	return nil
}
