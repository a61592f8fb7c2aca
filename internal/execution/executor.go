package execution

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/classifier"
	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/internal/data"
	"github.com/atlas-desktop/paper-orchestrator/internal/events"
	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/internal/learning"
	"github.com/atlas-desktop/paper-orchestrator/internal/router"
	"github.com/atlas-desktop/paper-orchestrator/internal/screener"
	"github.com/atlas-desktop/paper-orchestrator/internal/strategy"
	"github.com/atlas-desktop/paper-orchestrator/internal/validator"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

const minHistoryCloses = 20

// Executor is the single writer to the ledger: it routes a candidate
// through classification, validation, and signal generation, commits
// the resulting order, and separately monitors open positions for
// exit conditions. Candidate processing may run concurrently across
// symbols; every ledger mutation funnels through the ledger's own
// single-writer command channel.
type Executor struct {
	logger *zap.Logger
	cfg    config.ExecutionConfig

	source     data.MarketDataSource
	classifier *classifier.Classifier
	router     *router.Router
	validator  *validator.Validator
	registry   *strategy.Registry
	recStore   *screener.Store
	ledger     *ledger.Ledger
	tracker    *learning.Tracker
	breaker    *CircuitBreaker
	gate       *Gatekeeper
	bus        *events.Bus

	screenerEnabled bool
	monitoring      atomic.Bool
}

// Deps bundles the Executor's collaborators.
type Deps struct {
	Source     data.MarketDataSource
	Classifier *classifier.Classifier
	Router     *router.Router
	Validator  *validator.Validator
	Registry   *strategy.Registry
	RecStore   *screener.Store
	Ledger     *ledger.Ledger
	Tracker    *learning.Tracker
	Breaker    *CircuitBreaker
	Bus        *events.Bus

	// ScreenerEnabled toggles step 3's "no entry without
	// recommendation" policy. When false, every candidate is treated
	// as pre-approved for signal generation.
	ScreenerEnabled bool
}

// New constructs an Executor.
func New(logger *zap.Logger, cfg config.ExecutionConfig, deps Deps) *Executor {
	return &Executor{
		logger:          logger.Named("executor"),
		cfg:             cfg,
		source:          deps.Source,
		classifier:      deps.Classifier,
		router:          deps.Router,
		validator:       deps.Validator,
		registry:        deps.Registry,
		recStore:        deps.RecStore,
		ledger:          deps.Ledger,
		tracker:         deps.Tracker,
		breaker:         deps.Breaker,
		gate:            NewGatekeeper(cfg, deps.Ledger, deps.Breaker),
		bus:             deps.Bus,
		screenerEnabled: deps.ScreenerEnabled,
	}
}

func outcome(symbol, step, decision, reason string) types.Outcome {
	return types.Outcome{Symbol: symbol, Step: step, Decision: decision, Reason: reason, Timestamp: time.Now()}
}

// isCircuitRejection reports whether a gate rejection reason came from
// one of the circuit breakers rather than a position/allocation limit,
// so callers can surface it as a CircuitTrippedEvent.
func isCircuitRejection(reason string) bool {
	switch reason {
	case "daily loss limit exceeded", "paused after consecutive losses", "strategy disabled by win-rate circuit breaker":
		return true
	default:
		return false
	}
}

// ProcessCandidate runs the strictly-ordered candidate pipeline
// described in §4.6: route, fetch, look up recommendation, validate,
// generate signal, gate and commit.
func (e *Executor) ProcessCandidate(ctx context.Context, symbol string) types.Outcome {
	e.breaker.RecordUnrealizedEquity(time.Now(), e.markToMarketEquity(ctx))

	profile, err := e.classifier.Classify(ctx, symbol)
	if err != nil {
		return outcome(symbol, "classify", "error", err.Error())
	}

	decision := e.router.Route(profile)

	quote, err := e.source.Fetch(ctx, symbol)
	if err != nil {
		return outcome(symbol, "fetch", "error", err.Error())
	}
	if len(quote.Closes) < minHistoryCloses || quote.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return outcome(symbol, "fetch", "skipped", "insufficient history or non-positive price")
	}

	var rec types.Recommendation
	if e.screenerEnabled {
		var ok bool
		rec, ok = e.recStore.Get(symbol)
		if !ok {
			return outcome(symbol, "recommendation", "skipped", "no current recommendation for symbol")
		}

		result := e.validator.Validate(quote.CurrentPrice, rec.Stop, rec, time.Now())
		if !result.Valid {
			if shouldWait, waitReason, targetLow, targetHigh := e.validator.WaitForBetterEntry(quote.CurrentPrice, rec); shouldWait {
				o := outcome(symbol, "validate", "waiting", waitReason)
				o.TargetRangeLow = targetLow
				o.TargetRangeHigh = targetHigh
				return o
			}
			return outcome(symbol, "validate", "skipped", result.Reason)
		}
	}

	engine, err := e.registry.Get(decision.Strategy)
	if err != nil {
		return outcome(symbol, "strategy", "error", err.Error())
	}

	account := strategy.Account{Cash: e.ledger.Account().Cash}
	md := strategy.MarketData{
		Closes:  quote.Closes,
		Volumes: quote.Volumes,
		Price:   quote.CurrentPrice,
		Volume:  quote.CurrentVolume,
	}
	signal := engine.GenerateSignal(symbol, md, account)

	if e.bus != nil {
		e.bus.Publish(events.NewTradeSignalEvent(symbol, string(signal.Action), signal.Reason))
	}

	if signal.Action != types.ActionBuy {
		return outcome(symbol, "signal", "skipped", signal.Reason)
	}
	if !signal.Valid() {
		return outcome(symbol, "signal", "error", "buy signal missing quantity or stop")
	}

	gateResult := e.gate.CheckBuy(symbol, decision.Strategy, signal.Quantity, signal.Price, time.Now())
	if !gateResult.Approved {
		if isCircuitRejection(gateResult.Reason) {
			e.bus.Publish(events.NewCircuitTrippedEvent(string(decision.Strategy), gateResult.Reason))
		}
		return outcome(symbol, "risk_gate", "skipped", gateResult.Reason)
	}

	order := types.Order{
		Symbol:   symbol,
		Side:     types.OrderSideBuy,
		Quantity: signal.Quantity,
		Price:    signal.Price,
		Strategy: decision.Strategy,
		Reason:   signal.Reason,
	}
	position := types.Position{
		Symbol:        symbol,
		Strategy:      decision.Strategy,
		Quantity:      signal.Quantity,
		EntryPrice:    signal.Price,
		EntryTime:     time.Now(),
		StopLoss:      signal.StopLoss,
		ProfitTarget:  signal.ProfitTarget,
		LastUpdated:   time.Now(),
		MaxSeen:       signal.Price,
		EffectiveStop: signal.StopLoss,
	}

	committed, err := e.ledger.CommitBuy(order, position)
	if err != nil {
		return outcome(symbol, "commit", "error", err.Error())
	}

	tradeID := uuid.NewString()
	trade := types.TradeRecord{
		TradeID:           tradeID,
		Symbol:            symbol,
		Strategy:          decision.Strategy,
		Classification:    profile.Classification,
		DecisionID:        decision.DecisionID,
		EntryTime:         committed.Timestamp,
		EntryPrice:        committed.Price,
		Quantity:          committed.Quantity,
		RoutingConfidence: decision.Confidence,
	}
	if err := e.tracker.LogTradeEntry(trade); err != nil {
		e.logger.Warn("failed to log trade entry", zap.Error(err), zap.String("symbol", symbol))
	}

	if e.bus != nil {
		e.bus.Publish(events.NewOrderCommittedEvent(committed.ID, symbol, string(committed.Side), committed.Quantity, committed.Price))
	}

	return types.Outcome{Symbol: symbol, Step: "commit", Decision: "executed", Reason: signal.Reason, TradeID: tradeID, OrderID: committed.ID, Timestamp: time.Now()}
}

// markToMarketEquity marks every open position at its latest fetched
// price and adds it to cash, giving the circuit breaker a current
// equity snapshot. A position whose quote can't be fetched is marked
// at its entry price rather than dropped, so a single bad fetch can't
// understate equity and mask a real daily-loss breach.
func (e *Executor) markToMarketEquity(ctx context.Context) decimal.Decimal {
	positions := e.ledger.OpenPositions()
	equity := e.ledger.Account().Cash
	for _, p := range positions {
		price := p.EntryPrice
		if quote, err := e.source.Fetch(ctx, p.Symbol); err == nil {
			price = quote.CurrentPrice
		}
		equity = equity.Add(decimal.NewFromInt(p.Quantity).Mul(price))
	}
	return equity
}

// MonitorPositions checks every open position for an exit condition.
func (e *Executor) MonitorPositions(ctx context.Context) []types.Outcome {
	positions := e.ledger.OpenPositions()
	outcomes := make([]types.Outcome, 0, len(positions))

	e.breaker.RecordUnrealizedEquity(time.Now(), e.markToMarketEquity(ctx))

	for _, p := range positions {
		outcomes = append(outcomes, e.monitorOne(ctx, p))
	}
	return outcomes
}

func (e *Executor) monitorOne(ctx context.Context, position types.Position) types.Outcome {
	quote, err := e.source.Fetch(ctx, position.Symbol)
	if err != nil {
		return outcome(position.Symbol, "monitor_fetch", "error", err.Error())
	}
	currentPrice := quote.CurrentPrice

	engine, err := e.registry.Get(position.Strategy)
	if err != nil {
		return outcome(position.Symbol, "monitor_strategy", "error", err.Error())
	}

	asOf := time.Now()
	var signal types.TradeSignal
	forced := e.breaker.PositionDrawdownBreached(position, currentPrice)
	switch eng := engine.(type) {
	case *strategy.RSIEngine:
		signal = eng.MonitorPositionWithHistory(position, quote.Closes, currentPrice, asOf)
	case *strategy.MomentumEngine:
		signal = eng.MonitorPositionWithHistory(position, quote.Closes, currentPrice, asOf)
		if signal.Action != types.ActionSell {
			e.ratchetMomentumStop(position, signal)
		}
	case *strategy.BollingerEngine:
		signal = eng.MonitorPositionWithHistory(position, currentPrice, asOf)
	default:
		signal = engine.MonitorPosition(position, currentPrice, asOf)
	}

	if forced && signal.Action != types.ActionSell {
		signal = types.TradeSignal{Action: types.ActionSell, Symbol: position.Symbol, Quantity: position.Quantity, Price: currentPrice, Reason: "position drawdown circuit breaker"}
	}

	if signal.Action != types.ActionSell {
		return outcome(position.Symbol, "monitor", "held", "no exit condition met")
	}

	order := types.Order{Symbol: position.Symbol, Side: types.OrderSideSell, Price: signal.Price, Strategy: position.Strategy, Reason: signal.Reason}
	committed, err := e.ledger.CommitSell(order)
	if err != nil {
		return outcome(position.Symbol, "commit_sell", "error", err.Error())
	}

	trades := e.ledger.TradesForSymbol(position.Symbol)
	tradeID := ""
	for _, tr := range trades {
		if tr.IsOpen() && tr.Strategy == position.Strategy {
			tradeID = tr.TradeID
			break
		}
	}
	if tradeID != "" {
		if err := e.tracker.LogTradeExit(tradeID, committed.Timestamp, committed.Price, signal.Reason); err != nil {
			e.logger.Warn("failed to log trade exit", zap.Error(err), zap.String("symbol", position.Symbol))
		}
		if trade, ok := e.ledger.Trade(tradeID); ok {
			e.breaker.RecordTradeResult(asOf, trade.WasProfitable)
			if e.bus != nil {
				e.bus.Publish(events.NewPositionClosedEvent(position.Symbol, trade.PnL, signal.Reason))
			}
			e.checkStrategyWinRate(position.Strategy)
		}
	}

	return types.Outcome{Symbol: position.Symbol, Step: "commit_sell", Decision: "executed", Reason: signal.Reason, OrderID: committed.ID, TradeID: tradeID, Timestamp: time.Now()}
}

// ratchetMomentumStop persists the trailing-stop state the momentum
// engine computed back onto the position, since MonitorPosition
// reports max_seen/effective_stop via Indicators rather than mutating
// the position itself.
func (e *Executor) ratchetMomentumStop(position types.Position, signal types.TradeSignal) {
	maxSeen, hasMax := signal.Indicators["max_seen"]
	effectiveStop, hasStop := signal.Indicators["effective_stop"]
	if !hasMax || !hasStop {
		return
	}
	if maxSeen.Equal(position.MaxSeen) && effectiveStop.Equal(position.EffectiveStop) {
		return
	}
	position.MaxSeen = maxSeen
	position.EffectiveStop = effectiveStop
	if err := e.ledger.UpdatePosition(position); err != nil {
		e.logger.Warn("failed to persist trailing stop", zap.Error(err), zap.String("symbol", position.Symbol))
	}
}

// checkStrategyWinRate disables a strategy once its win rate over the
// most recent StrategyWinRateLookback closed trades falls below
// StrategyWinRateFloor. Strategies stay disabled until manually
// re-enabled through the circuit breaker.
func (e *Executor) checkStrategyWinRate(strategyName types.StrategyName) {
	closed := make([]types.TradeRecord, 0)
	for _, tr := range e.ledger.AllTrades() {
		if tr.Strategy == strategyName && !tr.IsOpen() {
			closed = append(closed, tr)
		}
	}
	if len(closed) < e.cfg.StrategyWinRateLookback {
		return
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ExitTime.After(*closed[j].ExitTime) })
	window := closed[:e.cfg.StrategyWinRateLookback]

	wins := 0
	for _, tr := range window {
		if tr.WasProfitable {
			wins++
		}
	}
	winRate := decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(window))))
	if winRate.LessThan(e.cfg.StrategyWinRateFloor) {
		e.breaker.DisableStrategy(strategyName)
		e.logger.Warn("strategy disabled by win-rate circuit breaker",
			zap.String("strategy", string(strategyName)), zap.String("win_rate", winRate.String()))
		if e.bus != nil {
			e.bus.Publish(events.NewCircuitTrippedEvent(string(strategyName), "strategy win rate below floor"))
		}
	}
}

// RunMonitoringLoop invokes MonitorPositions at fixed intervals until
// ctx is cancelled, skipping a tick if the previous one is still running.
func (e *Executor) RunMonitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.monitoring.CompareAndSwap(false, true) {
				e.logger.Debug("skipping monitor tick, previous tick still running")
				continue
			}
			outcomes := e.MonitorPositions(ctx)
			for _, o := range outcomes {
				if o.Decision == "error" {
					e.logger.Warn("monitor tick error", zap.String("symbol", o.Symbol), zap.String("reason", o.Reason))
				}
			}
			e.monitoring.Store(false)
		}
	}
}
