// Package learning tracks strategy performance by (strategy,
// classification) pair and feeds a confidence multiplier back to the
// router, the way the teacher's feedback engine folds trade outcomes
// back into pattern performance.
package learning

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// minTradesForAdjustment is the sample floor below which the tracker
// declines to deviate from a neutral 1.0 multiplier.
const minTradesForAdjustment = 3

// lookbackWindow bounds how far back AdjustedConfidence looks when
// counting recent trades for a (strategy, class) pair.
const lookbackWindow = 30 * 24 * time.Hour

// Tracker aggregates routing decisions and trade outcomes into the
// per-(strategy, classification) statistics the router consults.
// It implements router.FeedbackSource.
type Tracker struct {
	logger *zap.Logger
	ledger *ledger.Ledger

	mu       sync.RWMutex
	decisions []types.RoutingDecision
}

// NewTracker constructs a Tracker backed by the shared ledger, which
// owns durable storage for trades, routing decisions, and metrics.
func NewTracker(logger *zap.Logger, led *ledger.Ledger) *Tracker {
	return &Tracker{logger: logger.Named("learning"), ledger: led}
}

// LogRouting records a routing decision for later routing-accuracy analysis.
func (t *Tracker) LogRouting(decision types.RoutingDecision) {
	if err := t.ledger.LogRoutingDecision(decision); err != nil {
		t.logger.Warn("failed to persist routing decision", zap.Error(err), zap.String("symbol", decision.Symbol))
	}
	t.mu.Lock()
	t.decisions = append(t.decisions, decision)
	t.mu.Unlock()
}

// LogTradeEntry opens a trade record. Idempotent by trade_id.
func (t *Tracker) LogTradeEntry(trade types.TradeRecord) error {
	if existing, ok := t.ledger.Trade(trade.TradeID); ok && !existing.IsOpen() {
		return nil
	}
	return t.ledger.UpsertTrade(trade)
}

// LogTradeExit closes a trade record with exit fields and recomputes
// the rolling strategy metric for its (strategy, classification) pair.
// Idempotent: calling it twice for an already-closed trade is a no-op.
func (t *Tracker) LogTradeExit(tradeID string, exitTime time.Time, exitPrice decimal.Decimal, reason string) error {
	trade, ok := t.ledger.Trade(tradeID)
	if !ok {
		return nil
	}
	if !trade.IsOpen() {
		return nil
	}

	trade.ExitTime = &exitTime
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	trade.PnL = exitPrice.Sub(trade.EntryPrice).Mul(decimal.NewFromInt(trade.Quantity))
	if !trade.EntryPrice.IsZero() {
		trade.PnLPct = exitPrice.Sub(trade.EntryPrice).Div(trade.EntryPrice)
	}
	trade.HoldDays = int(exitTime.Sub(trade.EntryTime).Hours() / 24)
	trade.WasProfitable = trade.PnL.GreaterThan(decimal.Zero)

	if err := t.ledger.UpsertTrade(trade); err != nil {
		return err
	}
	return t.recomputeMetric(trade.Strategy, trade.Classification)
}

// AdjustedConfidence returns the multiplier the router applies to a
// (strategy, classification) pair's rule-table score. Pairs with
// fewer than minTradesForAdjustment closed trades in the lookback
// window are neutral (1.0): there isn't enough signal to move from
// the rule table's prior.
func (t *Tracker) AdjustedConfidence(strategy types.StrategyName, class types.Classification) decimal.Decimal {
	trades := t.closedTrades(strategy, class, time.Now())
	if len(trades) < minTradesForAdjustment {
		return decimal.NewFromInt(1)
	}

	winRate := winRate(trades)
	avgPct := avgProfitPct(trades)

	multiplier := decimal.NewFromInt(1)
	switch {
	case winRate.GreaterThan(decimal.NewFromFloat(0.80)):
		multiplier = decimal.NewFromFloat(1.10)
	case winRate.GreaterThan(decimal.NewFromFloat(0.70)):
		multiplier = decimal.NewFromFloat(1.05)
	case winRate.LessThan(decimal.NewFromFloat(0.40)):
		multiplier = decimal.NewFromFloat(0.70)
	case winRate.LessThan(decimal.NewFromFloat(0.50)):
		multiplier = decimal.NewFromFloat(0.85)
	}

	if avgPct.GreaterThan(decimal.NewFromFloat(0.05)) {
		multiplier = multiplier.Mul(decimal.NewFromFloat(1.05))
	} else if avgPct.LessThan(decimal.Zero) {
		multiplier = multiplier.Mul(decimal.NewFromFloat(0.90))
	}

	if multiplier.GreaterThan(decimal.NewFromFloat(1.15)) {
		multiplier = decimal.NewFromFloat(1.15)
	}
	if multiplier.LessThan(decimal.NewFromFloat(0.5)) {
		multiplier = decimal.NewFromFloat(0.5)
	}
	return multiplier
}

func (t *Tracker) closedTrades(strategy types.StrategyName, class types.Classification, asOf time.Time) []types.TradeRecord {
	cutoff := asOf.Add(-lookbackWindow)
	var out []types.TradeRecord
	for _, tr := range t.ledger.AllTrades() {
		if tr.Strategy != strategy || tr.Classification != class {
			continue
		}
		if tr.IsOpen() || tr.ExitTime.Before(cutoff) {
			continue
		}
		out = append(out, tr)
	}
	return out
}

func winRate(trades []types.TradeRecord) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, tr := range trades {
		if tr.WasProfitable {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trades))))
}

func avgProfitPct(trades []types.TradeRecord) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, tr := range trades {
		sum = sum.Add(tr.PnLPct)
	}
	return sum.Div(decimal.NewFromInt(int64(len(trades))))
}

// recomputeMetric rebuilds the StrategyMetric row for a (strategy,
// classification) pair from every closed trade on record.
func (t *Tracker) recomputeMetric(strategy types.StrategyName, class types.Classification) error {
	var trades []types.TradeRecord
	for _, tr := range t.ledger.AllTrades() {
		if tr.Strategy == strategy && tr.Classification == class && !tr.IsOpen() {
			trades = append(trades, tr)
		}
	}
	if len(trades) == 0 {
		return nil
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExitTime.Before(*trades[j].ExitTime) })

	metric := types.StrategyMetric{
		Strategy:    strategy,
		StockClass:  class,
		PeriodStart: trades[0].EntryTime,
		PeriodEnd:   *trades[len(trades)-1].ExitTime,
		TotalTrades: len(trades),
		UpdatedAt:   time.Now(),
	}

	wins, losses := 0, 0
	winSum, loseSum, holdSum := decimal.Zero, decimal.Zero, 0
	for _, tr := range trades {
		if tr.WasProfitable {
			wins++
			winSum = winSum.Add(tr.PnLPct)
		} else {
			losses++
			loseSum = loseSum.Add(tr.PnLPct)
		}
		holdSum += tr.HoldDays
	}
	metric.WinningTrades = wins
	metric.LosingTrades = losses
	metric.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trades))))
	if wins > 0 {
		metric.AvgWinnerPct = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		metric.AvgLoserPct = loseSum.Div(decimal.NewFromInt(int64(losses)))
	}
	metric.AvgProfitPct = avgProfitPct(trades)
	metric.AvgHoldDays = decimal.NewFromInt(int64(holdSum)).Div(decimal.NewFromInt(int64(len(trades))))

	returns := make([]decimal.Decimal, len(trades))
	for i, tr := range trades {
		returns[i] = tr.PnLPct
	}
	metric.Sharpe = sharpe(returns)
	metric.MaxDrawdownPct = maxDrawdown(returns)
	metric.TotalReturnPct = sumDecimal(returns)
	metric.ConfidenceAccuracy = confidenceAccuracy(trades)

	return t.ledger.UpsertMetric(string(strategy)+"|"+string(class), metric)
}

// sharpe is the mean return over sample stdev (n-1), zero if stdev is
// zero or fewer than two observations exist. Not annualized: this
// operates on per-trade percentage returns, not daily bars.
func sharpe(returns []decimal.Decimal) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}
	avg := sumDecimal(returns).Div(decimal.NewFromInt(int64(len(returns))))
	sumSq := decimal.Zero
	for _, r := range returns {
		diff := r.Sub(avg)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(returns) - 1)))
	stdev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if stdev.IsZero() {
		return decimal.Zero
	}
	return avg.Div(stdev)
}

// maxDrawdown walks cumulative return peak-to-trough.
func maxDrawdown(returns []decimal.Decimal) decimal.Decimal {
	cumulative := decimal.Zero
	peak := decimal.Zero
	maxDD := decimal.Zero
	for _, r := range returns {
		cumulative = cumulative.Add(r)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		dd := peak.Sub(cumulative)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func sumDecimal(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}

// confidenceAccuracy pools high-confidence decisions (>= 0.80) that
// closed profitable with low-confidence decisions (< 0.50) that
// closed unprofitable, over the combined total of both buckets.
// Mid-range confidence (0.50-0.80) does not participate.
func confidenceAccuracy(trades []types.TradeRecord) decimal.Decimal {
	var correct, total int64
	for _, tr := range trades {
		switch {
		case tr.RoutingConfidence.GreaterThanOrEqual(decimal.NewFromFloat(0.80)):
			total++
			if tr.WasProfitable {
				correct++
			}
		case tr.RoutingConfidence.LessThan(decimal.NewFromFloat(0.50)):
			total++
			if !tr.WasProfitable {
				correct++
			}
		}
	}
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(correct).Div(decimal.NewFromInt(total))
}

// Report is a point-in-time summary across all tracked strategies.
type Report struct {
	Metrics         []types.StrategyMetric
	TopPerformers   []types.StrategyMetric
	RoutingAccuracy decimal.Decimal
	GeneratedAt     time.Time
}

// GetReport returns every strategy metric plus routing accuracy.
func (t *Tracker) GetReport() Report {
	report := Report{GeneratedAt: time.Now()}

	metrics := t.collectMetrics()
	report.Metrics = metrics
	report.TopPerformers = t.TopPerformers(metrics, 3)
	report.RoutingAccuracy = t.RoutingAccuracy()
	return report
}

// collectMetrics recomputes every (strategy, classification) pair
// with at least one closed trade, then returns the refreshed rows.
func (t *Tracker) collectMetrics() []types.StrategyMetric {
	pairs := map[string]bool{}
	for _, tr := range t.ledger.AllTrades() {
		if tr.IsOpen() {
			continue
		}
		pairs[string(tr.Strategy)+"|"+string(tr.Classification)] = true
	}
	for key := range pairs {
		for i := 0; i < len(key); i++ {
			if key[i] == '|' {
				t.recomputeMetric(types.StrategyName(key[:i]), types.Classification(key[i+1:]))
				break
			}
		}
	}

	all := t.ledger.AllMetrics()
	out := make([]types.StrategyMetric, 0, len(all))
	for _, m := range all {
		out = append(out, m)
	}
	return out
}

// TopPerformers sorts metrics by win rate descending and returns the top n.
func (t *Tracker) TopPerformers(metrics []types.StrategyMetric, n int) []types.StrategyMetric {
	sorted := append([]types.StrategyMetric{}, metrics...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WinRate.GreaterThan(sorted[j].WinRate) })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// RoutingAccuracy is the fraction of routing decisions whose winning
// strategy ultimately produced a profitable closed trade.
func (t *Tracker) RoutingAccuracy() decimal.Decimal {
	trades := t.ledger.AllTrades()
	closed := 0
	correct := 0
	byDecision := map[string]types.TradeRecord{}
	for _, tr := range trades {
		if tr.IsOpen() {
			continue
		}
		byDecision[tr.DecisionID] = tr
	}

	t.mu.RLock()
	decisions := append([]types.RoutingDecision{}, t.decisions...)
	t.mu.RUnlock()

	for _, d := range decisions {
		tr, ok := byDecision[d.DecisionID]
		if !ok {
			continue
		}
		closed++
		if tr.WasProfitable {
			correct++
		}
	}
	if closed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(correct)).Div(decimal.NewFromInt(int64(closed)))
}
