package activity

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimals of the collateral token on Polygon
const USDCDecimals = 6

// ErrInvalidAddress is returned when a wallet address is not a 0x-prefixed 20-byte hex string
var ErrInvalidAddress = errors.New("invalid wallet address")

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Wallet is a wallet record as persisted by ingestion
type Wallet struct {
	Address     string
	FirstSeenAt time.Time
	IsContract  bool
	IsProxy     bool
	TotalTrades int
}

// Trade is a single fill attributed to a wallet
type Trade struct {
	ID        string
	Wallet    string
	MarketID  string
	Side      string // BUY, SELL
	Outcome   string
	Size      float64 // notional in USD
	Price     float64
	Timestamp time.Time
}

// Deposit is a funding transfer into a wallet
type Deposit struct {
	TxHash       string
	From         string
	To           string
	Amount       *big.Int // base units (USDCDecimals)
	AmountUSD    float64  // optional; derived from Amount when zero
	Timestamp    time.Time
	IsSanctioned bool
	IsMixer      bool
}

// USD returns the deposit value in dollars
func (d Deposit) USD() float64 {
	if d.AmountUSD > 0 {
		return d.AmountUSD
	}
	if d.Amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(d.Amount, -USDCDecimals).InexactFloat64()
}

// BaseUnits returns the deposit amount in token base units, deriving it from
// AmountUSD when no raw amount was recorded
func (d Deposit) BaseUnits() *big.Int {
	if d.Amount != nil {
		return new(big.Int).Set(d.Amount)
	}
	if d.AmountUSD <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromFloat(d.AmountUSD).Shift(USDCDecimals).Truncate(0).BigInt()
}

// VolumeSample is a point-in-time volume observation for a market
type VolumeSample struct {
	Timestamp  time.Time
	Volume     float64
	TradeCount int
}

// IsValidAddress reports whether addr looks like an EVM address
func IsValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// NormalizeAddress validates and lowercases an address
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !IsValidAddress(addr) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(addr), nil
}

// FormatUSDC renders base units as a fixed two-decimal dollar amount
func FormatUSDC(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(amount, -USDCDecimals).StringFixed(2)
}

// Ratio returns part/total as a float clamped to [0,1]
func Ratio(part, total *big.Int) float64 {
	if part == nil || total == nil || total.Sign() <= 0 || part.Sign() <= 0 {
		return 0
	}
	r := decimal.NewFromBigInt(part, 0).Div(decimal.NewFromBigInt(total, 0)).InexactFloat64()
	if r > 1 {
		return 1
	}
	return r
}

// ShortenAddress renders 0x1234...abcd for display
func ShortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
