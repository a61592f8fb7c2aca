package router_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/internal/router"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// stubFeedback is a fixed-multiplier FeedbackSource, letting each test
// isolate the rule table from the learning feedback loop.
type stubFeedback struct {
	multiplier decimal.Decimal
	logged     []types.RoutingDecision
}

func (s *stubFeedback) AdjustedConfidence(types.StrategyName, types.Classification) decimal.Decimal {
	return s.multiplier
}

func (s *stubFeedback) LogRouting(decision types.RoutingDecision) {
	s.logged = append(s.logged, decision)
}

func neutralFeedback() *stubFeedback {
	return &stubFeedback{multiplier: decimal.NewFromInt(1)}
}

func TestRouteETFPrefersMeanReversion(t *testing.T) {
	feedback := neutralFeedback()
	r := router.New(feedback, map[string]bool{}, decimal.NewFromFloat(0.30))

	decision := r.Route(types.StockProfile{Symbol: "SPY", IsETF: true, Classification: types.ClassETF})
	if decision.Strategy != types.StrategyRSIMeanReversion {
		t.Fatalf("expected rsi_mean_reversion for an ETF, got %s", decision.Strategy)
	}
	if len(feedback.logged) != 1 {
		t.Errorf("expected LogRouting to be called once, got %d", len(feedback.logged))
	}
}

func TestRoutePennyStockPrefersMomentum(t *testing.T) {
	feedback := neutralFeedback()
	r := router.New(feedback, map[string]bool{}, decimal.NewFromFloat(0.30))

	decision := r.Route(types.StockProfile{Symbol: "PENNY", Classification: types.ClassPennyStock})
	if decision.Strategy != types.StrategyMomentumBreakout {
		t.Fatalf("expected momentum_breakout for a penny stock, got %s", decision.Strategy)
	}
}

func TestRouteHighVolatilityPrefersMomentum(t *testing.T) {
	feedback := neutralFeedback()
	r := router.New(feedback, map[string]bool{}, decimal.NewFromFloat(0.30))

	decision := r.Route(types.StockProfile{
		Symbol:               "VOL",
		Classification:       types.ClassMidCap,
		VolatilityAnnualized: decimal.NewFromFloat(0.50),
	})
	if decision.Strategy != types.StrategyMomentumBreakout {
		t.Fatalf("expected momentum_breakout for high volatility, got %s", decision.Strategy)
	}
}

func TestRouteDefaultsToMeanReversion(t *testing.T) {
	feedback := neutralFeedback()
	r := router.New(feedback, map[string]bool{}, decimal.NewFromFloat(0.30))

	decision := r.Route(types.StockProfile{
		Symbol:               "PLAIN",
		Classification:       types.ClassMidCap,
		VolatilityAnnualized: decimal.NewFromFloat(0.15),
	})
	if decision.Strategy != types.StrategyRSIMeanReversion {
		t.Fatalf("expected default rsi_mean_reversion, got %s", decision.Strategy)
	}
}

func TestRouteNeverSelectsBollinger(t *testing.T) {
	// No rule in the table ever awards bollinger_mean_reversion the
	// winning score; it is reachable only through MonitorPositions on
	// an already-open position, not through routing.
	feedback := neutralFeedback()
	r := router.New(feedback, map[string]bool{"Semiconductors": true}, decimal.NewFromFloat(0.30))

	profiles := []types.StockProfile{
		{Symbol: "A", IsETF: true},
		{Symbol: "B", Classification: types.ClassPennyStock},
		{Symbol: "C", VolatilityAnnualized: decimal.NewFromFloat(0.9)},
		{Symbol: "D", Classification: types.ClassLargeCap, VolatilityAnnualized: decimal.NewFromFloat(0.1)},
		{Symbol: "E", Sector: "Semiconductors"},
		{Symbol: "F"},
	}
	for _, p := range profiles {
		decision := r.Route(p)
		if decision.Strategy == types.StrategyBollingerReversion {
			t.Errorf("router selected bollinger_mean_reversion for profile %+v, which the rule table never awards", p)
		}
	}
}

func TestRouteFallsBackWhenFeedbackDisablesEverything(t *testing.T) {
	// A multiplier below the 0.30 viability floor disables every
	// strategy; the router must still return a usable decision.
	feedback := &stubFeedback{multiplier: decimal.NewFromFloat(0.1)}
	r := router.New(feedback, map[string]bool{}, decimal.NewFromFloat(0.30))

	decision := r.Route(types.StockProfile{Symbol: "DEAD", Classification: types.ClassMidCap})
	if decision.Strategy != types.StrategyRSIMeanReversion {
		t.Fatalf("expected fallback to rsi_mean_reversion, got %s", decision.Strategy)
	}
}
