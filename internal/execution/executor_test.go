package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/classifier"
	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/internal/events"
	"github.com/atlas-desktop/paper-orchestrator/internal/execution"
	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/internal/learning"
	"github.com/atlas-desktop/paper-orchestrator/internal/router"
	"github.com/atlas-desktop/paper-orchestrator/internal/screener"
	"github.com/atlas-desktop/paper-orchestrator/internal/strategy"
	"github.com/atlas-desktop/paper-orchestrator/internal/validator"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

type stubSource struct {
	quotes map[string]types.Quote
}

func (s *stubSource) Fetch(_ context.Context, symbol string) (types.Quote, error) {
	q, ok := s.quotes[symbol]
	if !ok {
		return types.Quote{}, types.NewDispositionError(types.ErrKindDataUnavailable, symbol, "no quote", nil)
	}
	return q, nil
}

type neutralFeedback struct{}

func (neutralFeedback) AdjustedConfidence(types.StrategyName, types.Classification) decimal.Decimal {
	return decimal.NewFromInt(1)
}
func (neutralFeedback) LogRouting(types.RoutingDecision) {}

func decliningQuote(symbol string, n int, start float64) types.Quote {
	closes := make([]decimal.Decimal, n)
	volumes := make([]decimal.Decimal, n)
	price := start
	for i := 0; i < n; i++ {
		closes[i] = decimal.NewFromFloat(price)
		volumes[i] = decimal.NewFromInt(1000)
		price -= 1
	}
	return types.Quote{
		Symbol:        symbol,
		Closes:        closes,
		Volumes:       volumes,
		CurrentPrice:  closes[n-1],
		CurrentVolume: decimal.NewFromInt(1000),
		FetchedAt:     time.Now(),
	}
}

type testEnv struct {
	executor *execution.Executor
	led      *ledger.Ledger
	recStore *screener.Store
	bus      *events.Bus
}

func newTestEnv(t *testing.T, source *stubSource) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	routingCfg := config.RoutingConfig{
		PennyThreshold:    decimal.NewFromFloat(5),
		HighVolThreshold:  decimal.NewFromFloat(0.40),
		LargeCapThreshold: decimal.NewFromFloat(200e9),
		MinStopBuffer:     decimal.NewFromFloat(0.02),
		ETFSymbols:        map[string]bool{},
		MomentumSectors:   map[string]bool{},
	}
	classif := classifier.New(source, routingCfg, nil, nil)
	r := router.New(neutralFeedback{}, map[string]bool{}, decimal.NewFromFloat(0.40))
	v := validator.New(decimal.NewFromFloat(0.02), types.ConfidenceMedium, time.Hour, decimal.NewFromFloat(0.01))
	registry := strategy.NewRegistry(config.EnginesConfig{
		RSI: config.RSIEngineConfig{
			Oversold:      decimal.NewFromFloat(45),
			Overbought:    decimal.NewFromFloat(55),
			PositionFrac:  decimal.NewFromFloat(0.25),
			MinStopBuffer: decimal.NewFromFloat(0.05),
			ProfitTarget:  decimal.NewFromFloat(0.025),
			MaxHoldDays:   12,
		},
		Momentum: config.MomentumEngineConfig{
			BreakoutPeriod: 20,
			BreakoutBuffer: decimal.NewFromFloat(0.001),
			VolumeMultiple: decimal.NewFromFloat(1.5),
			PositionFrac:   decimal.NewFromFloat(0.20),
			StopLoss:       decimal.NewFromFloat(0.08),
			TrailingStop:   decimal.NewFromFloat(0.10),
			ProfitTarget:   decimal.NewFromFloat(0.08),
			MaxHoldDays:    20,
		},
		Bollinger: config.BollingerEngineConfig{
			Period:       20,
			StdevMult:    decimal.NewFromFloat(2.0),
			PositionFrac: decimal.NewFromFloat(0.25),
			StopLoss:     decimal.NewFromFloat(0.03),
			ProfitTarget: decimal.NewFromFloat(0.04),
			ExitAtMiddle: true,
			MaxHoldDays:  15,
		},
	})
	recStore := screener.NewStore()

	led, err := ledger.New(logger, t.TempDir(), decimal.NewFromInt(100000))
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	t.Cleanup(led.Close)

	tracker := learning.NewTracker(logger, led)
	execCfg := testExecutionConfig()
	breaker := execution.NewCircuitBreaker(logger, execCfg, led.Account().Cash)
	bus := events.New(logger, events.DefaultConfig())
	t.Cleanup(bus.Stop)

	exec := execution.New(logger, execCfg, execution.Deps{
		Source:          source,
		Classifier:      classif,
		Router:          r,
		Validator:       v,
		Registry:        registry,
		RecStore:        recStore,
		Ledger:          led,
		Tracker:         tracker,
		Breaker:         breaker,
		Bus:             bus,
		ScreenerEnabled: true,
	})

	return &testEnv{executor: exec, led: led, recStore: recStore, bus: bus}
}

func TestProcessCandidateExecutesOnValidatedOversoldSignal(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{
		"AAA": decliningQuote("AAA", 25, 100),
	}}
	env := newTestEnv(t, source)
	quote := source.quotes["AAA"]

	env.recStore.Upsert(types.Recommendation{
		Symbol:          "AAA",
		EntryLow:        quote.CurrentPrice.Sub(decimal.NewFromInt(2)),
		EntryHigh:       quote.CurrentPrice.Add(decimal.NewFromInt(2)),
		Target:          quote.CurrentPrice.Add(decimal.NewFromInt(10)),
		Stop:            quote.CurrentPrice.Sub(decimal.NewFromInt(6)),
		ConfidenceLevel: types.ConfidenceHigh,
		IssuedAt:        time.Now(),
	})

	outcome := env.executor.ProcessCandidate(context.Background(), "AAA")
	if outcome.Decision != "executed" {
		t.Fatalf("expected executed outcome, got %s at step %s: %s", outcome.Decision, outcome.Step, outcome.Reason)
	}
	if outcome.TradeID == "" || outcome.OrderID == "" {
		t.Error("expected TradeID and OrderID to be set on an executed outcome")
	}
}

func TestProcessCandidateSkipsWithoutRecommendation(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{
		"AAA": decliningQuote("AAA", 25, 100),
	}}
	env := newTestEnv(t, source)

	outcome := env.executor.ProcessCandidate(context.Background(), "AAA")
	if outcome.Decision != "skipped" || outcome.Step != "recommendation" {
		t.Fatalf("expected a recommendation-step skip, got decision=%s step=%s", outcome.Decision, outcome.Step)
	}
}

func TestProcessCandidateSkipsOnInsufficientHistory(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{
		"AAA": decliningQuote("AAA", 5, 100),
	}}
	env := newTestEnv(t, source)

	outcome := env.executor.ProcessCandidate(context.Background(), "AAA")
	if outcome.Decision != "skipped" || outcome.Step != "fetch" {
		t.Fatalf("expected a fetch-step skip for thin history, got decision=%s step=%s", outcome.Decision, outcome.Step)
	}
}

func TestProcessCandidateWaitsWhenPriceJustBelowEntryRange(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{
		"AAA": decliningQuote("AAA", 25, 100),
	}}
	env := newTestEnv(t, source)
	quote := source.quotes["AAA"]

	// entry_low sits 0.5% above current price, within the 1% wait tolerance.
	entryLow := quote.CurrentPrice.Mul(decimal.NewFromFloat(1.005))
	entryHigh := quote.CurrentPrice.Mul(decimal.NewFromFloat(1.03))
	env.recStore.Upsert(types.Recommendation{
		Symbol:          "AAA",
		EntryLow:        entryLow,
		EntryHigh:       entryHigh,
		Target:          entryHigh.Add(decimal.NewFromInt(5)),
		Stop:            quote.CurrentPrice.Sub(decimal.NewFromInt(6)),
		ConfidenceLevel: types.ConfidenceHigh,
		IssuedAt:        time.Now(),
	})

	outcome := env.executor.ProcessCandidate(context.Background(), "AAA")
	if outcome.Decision != "waiting" {
		t.Fatalf("expected a waiting outcome, got decision=%s step=%s reason=%s", outcome.Decision, outcome.Step, outcome.Reason)
	}
	if !outcome.TargetRangeLow.Equal(entryLow) || !outcome.TargetRangeHigh.Equal(entryHigh) {
		t.Errorf("expected target range %s-%s, got %s-%s", entryLow, entryHigh, outcome.TargetRangeLow, outcome.TargetRangeHigh)
	}
}

func TestProcessCandidateGatesOnFreshEquityMarkWithoutAMonitorTick(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{
		"AAA": decliningQuote("AAA", 25, 100),
		"BBB": decliningQuote("BBB", 25, 100),
	}}
	env := newTestEnv(t, source)

	// An existing open position, committed directly (not through the
	// pipeline) at an entry price of 100 against the 100000 starting
	// cash the circuit breaker was seeded with.
	openOrder := types.Order{Symbol: "AAA", Side: types.OrderSideBuy, Quantity: 300, Price: decimal.NewFromInt(100)}
	openPosition := types.Position{Symbol: "AAA", Quantity: 300, EntryPrice: decimal.NewFromInt(100)}
	if _, err := env.led.CommitBuy(openOrder, openPosition); err != nil {
		t.Fatalf("CommitBuy returned error: %v", err)
	}

	// AAA's price has since collapsed well past the 3% daily-loss
	// threshold; no monitor tick has run yet to record this.
	source.quotes["AAA"] = types.Quote{Symbol: "AAA", CurrentPrice: decimal.NewFromInt(50), Closes: source.quotes["AAA"].Closes}

	quote := source.quotes["BBB"]
	env.recStore.Upsert(types.Recommendation{
		Symbol:          "BBB",
		EntryLow:        quote.CurrentPrice.Sub(decimal.NewFromInt(2)),
		EntryHigh:       quote.CurrentPrice.Add(decimal.NewFromInt(2)),
		Target:          quote.CurrentPrice.Add(decimal.NewFromInt(10)),
		Stop:            quote.CurrentPrice.Sub(decimal.NewFromInt(6)),
		ConfidenceLevel: types.ConfidenceHigh,
		IssuedAt:        time.Now(),
	})

	outcome := env.executor.ProcessCandidate(context.Background(), "BBB")
	if outcome.Decision != "skipped" || outcome.Step != "risk_gate" {
		t.Fatalf("expected a risk_gate skip from the daily-loss breaker, got decision=%s step=%s reason=%s", outcome.Decision, outcome.Step, outcome.Reason)
	}
	if outcome.Reason != "daily loss limit exceeded" {
		t.Errorf("expected daily loss limit reason, got %s", outcome.Reason)
	}
}

func TestProcessCandidateErrorsOnUnknownSymbol(t *testing.T) {
	source := &stubSource{quotes: map[string]types.Quote{}}
	env := newTestEnv(t, source)

	outcome := env.executor.ProcessCandidate(context.Background(), "MISSING")
	if outcome.Decision != "error" {
		t.Fatalf("expected an error outcome for an unfetchable symbol, got %s", outcome.Decision)
	}
}
