// Package router selects a strategy engine for a classified symbol.
package router

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// FeedbackSource supplies the confidence multiplier the performance
// tracker has learned for a (strategy, classification) pair, and
// records the decisions the router makes.
type FeedbackSource interface {
	AdjustedConfidence(strategy types.StrategyName, class types.Classification) decimal.Decimal
	LogRouting(decision types.RoutingDecision)
}

// Router maps a StockProfile to a RoutingDecision.
type Router struct {
	feedback        FeedbackSource
	momentumSectors map[string]bool
	highVol         decimal.Decimal
}

// New constructs a Router. momentumSectors and highVolThreshold come
// from the routing configuration table.
func New(feedback FeedbackSource, momentumSectors map[string]bool, highVolThreshold decimal.Decimal) *Router {
	return &Router{feedback: feedback, momentumSectors: momentumSectors, highVol: highVolThreshold}
}

const minViableScore = 0.30

// Route scores every known strategy for profile, applies the
// performance tracker's feedback multiplier, and returns the winner
// plus the remaining candidates sorted by score descending.
func (r *Router) Route(profile types.StockProfile) types.RoutingDecision {
	raw := r.rawScores(profile)

	type scored struct {
		strategy types.StrategyName
		score    decimal.Decimal
		reason   string
	}
	scores := make([]scored, 0, len(raw))
	for strategy, rs := range raw {
		multiplier := r.feedback.AdjustedConfidence(strategy, profile.Classification)
		adjusted := rs.score.Mul(multiplier)
		if adjusted.GreaterThan(decimal.NewFromInt(1)) {
			adjusted = decimal.NewFromInt(1)
		}
		if adjusted.LessThan(decimal.NewFromFloat(minViableScore)) {
			continue // disabled for this classification
		}
		scores = append(scores, scored{strategy: strategy, score: adjusted, reason: rs.reason})
	}

	if len(scores) == 0 {
		// Every strategy disabled by feedback; fall back to the
		// unmodulated default so the executor always has a candidate.
		scores = append(scores, scored{
			strategy: types.StrategyRSIMeanReversion,
			score:    decimal.NewFromFloat(0.50),
			reason:   "default (all strategies disabled by feedback)",
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score.GreaterThan(scores[j].score) })

	winner := scores[0]
	alternatives := make([]types.StrategyScore, 0, len(scores)-1)
	for _, s := range scores[1:] {
		alternatives = append(alternatives, types.StrategyScore{Strategy: s.strategy, Score: s.score})
	}

	decision := types.RoutingDecision{
		DecisionID:     uuid.NewString(),
		Symbol:         profile.Symbol,
		Strategy:       winner.strategy,
		Classification: profile.Classification,
		Confidence:     winner.score,
		Reason:         winner.reason,
		Alternatives:   alternatives,
		IssuedAt:       time.Now(),
	}
	r.feedback.LogRouting(decision)
	return decision
}

type ruleScore struct {
	score  decimal.Decimal
	reason string
}

// rawScores evaluates the rule table from the highest-priority row
// down, accumulating score per strategy (capped at 1) the way the
// rule table describes: each matching row adds its score to that
// strategy's running total.
func (r *Router) rawScores(p types.StockProfile) map[types.StrategyName]ruleScore {
	totals := map[types.StrategyName]decimal.Decimal{}
	reasons := map[types.StrategyName]string{}

	add := func(strategy types.StrategyName, score float64, reason string) {
		totals[strategy] = totals[strategy].Add(decimal.NewFromFloat(score))
		if reasons[strategy] == "" {
			reasons[strategy] = reason
		}
	}

	matched := false
	if p.IsETF {
		add(types.StrategyRSIMeanReversion, 0.95, "ETF favors mean reversion")
		matched = true
	}
	if p.Classification == types.ClassPennyStock {
		add(types.StrategyMomentumBreakout, 0.90, "penny stock favors momentum")
		matched = true
	}
	if p.VolatilityAnnualized.GreaterThan(r.highVol) {
		add(types.StrategyMomentumBreakout, 0.85, "high volatility favors momentum")
		matched = true
	}
	if p.Classification == types.ClassLargeCap && p.VolatilityAnnualized.LessThan(decimal.NewFromFloat(0.25)) {
		add(types.StrategyRSIMeanReversion, 0.85, "low-volatility large cap favors mean reversion")
		matched = true
	}
	if r.momentumSectors[p.Sector] {
		add(types.StrategyMomentumBreakout, 0.80, "sector favors momentum")
		matched = true
	}
	if !matched {
		add(types.StrategyRSIMeanReversion, 0.50, "default mean reversion")
	}

	// Every known strategy must have an entry so it can be considered
	// (and disabled by feedback) even when it never matched a row.
	for _, s := range []types.StrategyName{
		types.StrategyRSIMeanReversion,
		types.StrategyMomentumBreakout,
		types.StrategyBollingerReversion,
	} {
		if _, ok := totals[s]; !ok {
			totals[s] = decimal.Zero
			reasons[s] = "no matching rule"
		}
	}

	out := make(map[types.StrategyName]ruleScore, len(totals))
	for strategy, total := range totals {
		if total.GreaterThan(decimal.NewFromInt(1)) {
			total = decimal.NewFromInt(1)
		}
		out[strategy] = ruleScore{score: total, reason: reasons[strategy]}
	}
	return out
}
