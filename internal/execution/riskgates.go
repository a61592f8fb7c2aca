// Package execution runs the candidate-to-order pipeline and the
// open-position monitor loop, gated by the circuit breaker.
package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// GateResult is the outcome of a risk-gate evaluation.
type GateResult struct {
	Approved bool
	Reason   string
}

func approved() GateResult { return GateResult{Approved: true} }
func rejected(reason string) GateResult { return GateResult{Approved: false, Reason: reason} }

// CircuitBreaker tracks the rolling state the four circuit breakers
// in the specification's risk section key off: daily P&L, consecutive
// losses, and manually-or-automatically disabled strategies.
type CircuitBreaker struct {
	logger *zap.Logger
	cfg    config.ExecutionConfig

	mu                 sync.Mutex
	tradingDay         time.Time
	dailyStartEquity   decimal.Decimal
	dailyPnL           decimal.Decimal
	consecutiveLosses  int
	pausedUntil        time.Time
	disabledStrategies map[types.StrategyName]bool
}

// NewCircuitBreaker constructs a CircuitBreaker seeded with today's starting equity.
func NewCircuitBreaker(logger *zap.Logger, cfg config.ExecutionConfig, startingEquity decimal.Decimal) *CircuitBreaker {
	return &CircuitBreaker{
		logger:             logger.Named("circuit-breaker"),
		cfg:                cfg,
		tradingDay:         dayOf(time.Now()),
		dailyStartEquity:   startingEquity,
		disabledStrategies: make(map[types.StrategyName]bool),
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rollDay resets the daily P&L counter when the calendar day advances,
// using the equity snapshot as the new day's starting point.
func (cb *CircuitBreaker) rollDay(asOf time.Time, currentEquity decimal.Decimal) {
	today := dayOf(asOf)
	if today.After(cb.tradingDay) {
		cb.tradingDay = today
		cb.dailyStartEquity = currentEquity
		cb.dailyPnL = decimal.Zero
	}
}

// RecordUnrealizedEquity folds the day's running P&L from a fresh
// equity mark (cash + mark-to-market of open positions).
func (cb *CircuitBreaker) RecordUnrealizedEquity(asOf time.Time, currentEquity decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDay(asOf, currentEquity)
	if !cb.dailyStartEquity.IsZero() {
		cb.dailyPnL = currentEquity.Sub(cb.dailyStartEquity)
	}
}

// RecordTradeResult folds a closed trade into the consecutive-loss
// counter, pausing new BUYs for cfg.CircuitPauseDuration after
// cfg.CircuitConsecutiveLoss losses in a row.
func (cb *CircuitBreaker) RecordTradeResult(asOf time.Time, profitable bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if profitable {
		cb.consecutiveLosses = 0
		return
	}
	cb.consecutiveLosses++
	if cb.consecutiveLosses >= cb.cfg.CircuitConsecutiveLoss {
		cb.pausedUntil = asOf.Add(cb.cfg.CircuitPauseDuration)
		cb.logger.Warn("consecutive loss limit reached, pausing entries",
			zap.Int("consecutive_losses", cb.consecutiveLosses),
			zap.Time("paused_until", cb.pausedUntil))
	}
}

// DisableStrategy manually or automatically disables a strategy until re-enabled.
func (cb *CircuitBreaker) DisableStrategy(name types.StrategyName) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.disabledStrategies[name] = true
}

// EnableStrategy re-enables a previously disabled strategy.
func (cb *CircuitBreaker) EnableStrategy(name types.StrategyName) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.disabledStrategies, name)
}

// Check evaluates the entry-blocking circuit breakers (daily loss,
// consecutive-loss pause, disabled strategy) for a BUY in strategy at
// asOf. The position-drawdown breaker is PositionDrawdownBreached.
func (cb *CircuitBreaker) Check(asOf time.Time, strategy types.StrategyName) GateResult {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.dailyStartEquity.IsZero() {
		lossFraction := cb.dailyPnL.Neg().Div(cb.dailyStartEquity)
		if lossFraction.GreaterThanOrEqual(cb.cfg.CircuitDailyLoss) {
			return rejected("daily loss limit exceeded")
		}
	}
	if asOf.Before(cb.pausedUntil) {
		return rejected("paused after consecutive losses")
	}
	if cb.disabledStrategies[strategy] {
		return rejected("strategy disabled by win-rate circuit breaker")
	}
	return approved()
}

// PositionDrawdownBreached reports whether an open position has
// fallen more than PositionDrawdownForceExit below its entry price,
// which forces a SELL on the next monitor tick regardless of signal.
func (cb *CircuitBreaker) PositionDrawdownBreached(position types.Position, currentPrice decimal.Decimal) bool {
	if position.EntryPrice.IsZero() {
		return false
	}
	drawdown := position.EntryPrice.Sub(currentPrice).Div(position.EntryPrice)
	return drawdown.GreaterThan(cb.cfg.PositionDrawdownForceExit)
}

// Gatekeeper evaluates the executor-level risk gates in §4.6.1,
// reading ledger state directly so every gate sees the same snapshot
// a commit would observe.
type Gatekeeper struct {
	cfg     config.ExecutionConfig
	ledger  *ledger.Ledger
	breaker *CircuitBreaker
}

// NewGatekeeper constructs a Gatekeeper.
func NewGatekeeper(cfg config.ExecutionConfig, led *ledger.Ledger, breaker *CircuitBreaker) *Gatekeeper {
	return &Gatekeeper{cfg: cfg, ledger: led, breaker: breaker}
}

// CheckBuy evaluates every BUY-side gate before a commit is attempted.
func (g *Gatekeeper) CheckBuy(symbol string, strategy types.StrategyName, quantity int64, price decimal.Decimal, asOf time.Time) GateResult {
	account := g.ledger.Account()
	cost := decimal.NewFromInt(quantity).Mul(price)
	if account.Cash.LessThan(cost) {
		return rejected("insufficient cash")
	}

	if _, exists := g.ledger.Position(symbol); exists {
		return rejected("position already open for symbol")
	}

	positions := g.ledger.OpenPositions()
	if len(positions) >= g.cfg.MaxPositions {
		return rejected("max open positions reached")
	}

	equity := equityOf(account, positions, price, symbol)
	strategyAllocation := decimal.Zero
	for _, p := range positions {
		if p.Strategy == strategy {
			strategyAllocation = strategyAllocation.Add(decimal.NewFromInt(p.Quantity).Mul(p.EntryPrice))
		}
	}
	strategyAllocation = strategyAllocation.Add(cost)
	if !equity.IsZero() && strategyAllocation.Div(equity).GreaterThanOrEqual(g.cfg.MaxStrategyAllocation) {
		return rejected("max strategy allocation reached")
	}

	if len(g.ledger.OrdersToday(asOf)) >= g.cfg.MaxDailyTrades {
		return rejected("max daily trades reached")
	}

	return g.breaker.Check(asOf, strategy)
}

// equityOf approximates account equity as cash plus the
// entry-price-marked value of open positions. The candidate is not
// added: it is not yet committed, so its cost is still in cash.
func equityOf(account types.Account, positions []types.Position, candidatePrice decimal.Decimal, candidateSymbol string) decimal.Decimal {
	equity := account.Cash
	for _, p := range positions {
		equity = equity.Add(decimal.NewFromInt(p.Quantity).Mul(p.EntryPrice))
	}
	return equity
}
