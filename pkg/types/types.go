// Package types provides the shared domain value types for the paper
// trading orchestrator: stock profiles, screener recommendations,
// routing decisions, positions, orders, and trade records.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification buckets a symbol by price tier / float / instrument type.
type Classification string

const (
	ClassPennyStock Classification = "penny_stock"
	ClassSmallCap   Classification = "small_cap"
	ClassMidCap     Classification = "mid_cap"
	ClassLargeCap   Classification = "large_cap"
	ClassETF        Classification = "etf"
	ClassUnknown    Classification = "unknown"
)

// StrategyName identifies one of the built-in strategy engines.
type StrategyName string

const (
	StrategyRSIMeanReversion  StrategyName = "rsi_mean_reversion"
	StrategyMomentumBreakout  StrategyName = "momentum_breakout"
	StrategyBollingerReversion StrategyName = "bollinger_mean_reversion"
)

// ConfidenceLevel is the screener's categorical confidence rating.
type ConfidenceLevel int

const (
	ConfidenceLow ConfidenceLevel = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseConfidenceLevel accepts the canonical spellings produced by the
// screener parser. Unknown strings map to ConfidenceLow.
func ParseConfidenceLevel(s string) ConfidenceLevel {
	switch s {
	case "HIGH", "high", "High":
		return ConfidenceHigh
	case "MEDIUM", "medium", "Medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ConfidenceFromScore maps a 1-10 numeric screener score to a category.
func ConfidenceFromScore(score float64) ConfidenceLevel {
	switch {
	case score >= 8:
		return ConfidenceHigh
	case score >= 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// OrderSide is BUY or SELL on the ledger.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// TradeAction is what a strategy engine decided to do.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// StockProfile is a derived, non-persisted view of a symbol used for routing.
type StockProfile struct {
	Symbol               string
	Price                decimal.Decimal
	VolatilityAnnualized decimal.Decimal
	MarketCap            decimal.Decimal
	Sector               string
	IsETF                bool
	AvgVolume            decimal.Decimal
	Classification       Classification
	Warning              string
}

// Recommendation is the normalized screener output for one symbol.
type Recommendation struct {
	Symbol          string
	EntryLow        decimal.Decimal
	EntryHigh       decimal.Decimal
	Target          decimal.Decimal
	Stop            decimal.Decimal
	ConfidenceLevel ConfidenceLevel
	IssuedAt        time.Time
}

// Age reports how long ago the recommendation was issued.
func (r Recommendation) Age(asOf time.Time) time.Duration {
	return asOf.Sub(r.IssuedAt)
}

// RoutingDecision is persisted for every call to the router.
type RoutingDecision struct {
	DecisionID     string
	Symbol         string
	Strategy       StrategyName
	Classification Classification
	Confidence     decimal.Decimal
	Reason         string
	Alternatives   []StrategyScore
	IssuedAt       time.Time
}

// StrategyScore pairs a candidate strategy with its routing score.
type StrategyScore struct {
	Strategy StrategyName
	Score    decimal.Decimal
}

// Position is one open, long-only holding managed by exactly one strategy.
type Position struct {
	Symbol       string
	Strategy     StrategyName
	Quantity     int64
	EntryPrice   decimal.Decimal
	EntryTime    time.Time
	StopLoss     decimal.Decimal
	ProfitTarget decimal.Decimal
	LastUpdated  time.Time

	// MaxSeen and EffectiveStop carry trailing-stop state for engines
	// (e.g. momentum breakout) that ratchet the stop on each tick.
	MaxSeen       decimal.Decimal
	EffectiveStop decimal.Decimal
}

// HoldDays returns the whole days the position has been open as of t.
func (p Position) HoldDays(t time.Time) int {
	return int(t.Sub(p.EntryTime).Hours() / 24)
}

// Order is an append-only ledger row; it is never mutated after insert.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Quantity  int64
	Price     decimal.Decimal
	Timestamp time.Time
	Strategy  StrategyName
	Reason    string
}

// Account is the ledger's singleton cash row.
type Account struct {
	Cash        decimal.Decimal
	LastUpdated time.Time
}

// TradeRecord tracks one logical trade from entry through exit.
type TradeRecord struct {
	TradeID            string
	Symbol             string
	Strategy           StrategyName
	Classification     Classification
	DecisionID         string
	EntryTime          time.Time
	EntryPrice         decimal.Decimal
	Quantity           int64
	RoutingConfidence  decimal.Decimal
	ExitTime           *time.Time
	ExitPrice          decimal.Decimal
	ExitReason         string
	PnL                decimal.Decimal
	PnLPct             decimal.Decimal
	HoldDays           int
	WasProfitable      bool
}

// IsOpen reports whether the trade has not yet closed.
func (t TradeRecord) IsOpen() bool { return t.ExitTime == nil }

// StrategyMetric is the rolling aggregate keyed by (strategy, class, window).
type StrategyMetric struct {
	Strategy           StrategyName
	StockClass         Classification
	PeriodStart        time.Time
	PeriodEnd          time.Time
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            decimal.Decimal
	AvgProfitPct       decimal.Decimal
	AvgWinnerPct       decimal.Decimal
	AvgLoserPct        decimal.Decimal
	TotalReturnPct     decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	AvgHoldDays        decimal.Decimal
	Sharpe             decimal.Decimal
	ConfidenceAccuracy decimal.Decimal
	UpdatedAt          time.Time
}

// TradeSignal is what a strategy engine emits for a symbol.
type TradeSignal struct {
	Action       TradeAction
	Symbol       string
	Quantity     int64
	Price        decimal.Decimal
	StopLoss     decimal.Decimal
	ProfitTarget decimal.Decimal
	Confidence   decimal.Decimal
	Reason       string
	Indicators   map[string]decimal.Decimal
}

// Valid reports whether a BUY signal carries the fields the executor requires.
func (s TradeSignal) Valid() bool {
	if s.Action != ActionBuy {
		return true
	}
	return s.Quantity > 0 && !s.StopLoss.IsZero()
}

// OHLCV is a single candlestick bar.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Quote is a point-in-time market snapshot returned by a MarketDataSource.
type Quote struct {
	Symbol          string
	Closes          []decimal.Decimal
	Volumes         []decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentVolume   decimal.Decimal
	Source          string
	FetchedAt       time.Time
}

// Outcome is the structured, non-exceptional result of any public
// executor or validator operation that can skip or fail.
type Outcome struct {
	Symbol    string
	Step      string
	Decision  string // "executed", "skipped", "waiting", "error"
	Reason    string
	TradeID   string
	OrderID   string
	Timestamp time.Time

	// TargetRangeLow/TargetRangeHigh carry WaitForBetterEntry's
	// suggested re-entry window when Decision is "waiting"; zero
	// otherwise.
	TargetRangeLow  decimal.Decimal
	TargetRangeHigh decimal.Decimal
}
