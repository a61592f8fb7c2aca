// Package validator gates a proposed entry against screener guidance
// and risk rules.
package validator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// Check is one independently evaluated validation rule.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Result is the outcome of Validate.
type Result struct {
	Valid          bool
	Reason         string
	Checks         []Check
	RecommendedStop decimal.Decimal
}

// Validator answers "is this a valid entry right now?".
type Validator struct {
	minStopBuffer decimal.Decimal
	minConfidence types.ConfidenceLevel
	maxDataAge    time.Duration
	waitTolerance decimal.Decimal
}

// New constructs a Validator from the configured thresholds.
func New(minStopBuffer decimal.Decimal, minConfidence types.ConfidenceLevel, maxDataAge time.Duration, waitTolerance decimal.Decimal) *Validator {
	return &Validator{
		minStopBuffer: minStopBuffer,
		minConfidence: minConfidence,
		maxDataAge:    maxDataAge,
		waitTolerance: waitTolerance,
	}
}

// Validate runs all four checks and reports validity plus per-check detail.
func (v *Validator) Validate(currentPrice, proposedStop decimal.Decimal, rec types.Recommendation, asOf time.Time) Result {
	checks := make([]Check, 0, 4)
	allPassed := true
	var firstFailReason string

	priceOK := !currentPrice.LessThan(rec.EntryLow) && !currentPrice.GreaterThan(rec.EntryHigh)
	checks = append(checks, Check{Name: "price_range", Passed: priceOK, Detail: "current price within recommended entry range"})
	if !priceOK {
		allPassed = false
		firstFailReason = firstNonEmpty(firstFailReason, "price outside recommended entry range")
	}

	recommendedStop := v.RecommendedStop(currentPrice, proposedStop, rec)
	bufferOK := true
	if !currentPrice.IsZero() {
		buffer := currentPrice.Sub(proposedStop).Div(currentPrice)
		bufferOK = buffer.GreaterThanOrEqual(v.minStopBuffer)
	}
	checks = append(checks, Check{Name: "stop_buffer", Passed: bufferOK, Detail: "stop loss maintains minimum buffer from current price"})
	if !bufferOK {
		allPassed = false
		firstFailReason = firstNonEmpty(firstFailReason, "stop loss too close to current price")
	}

	confidenceOK := rec.ConfidenceLevel >= v.minConfidence
	checks = append(checks, Check{Name: "confidence_floor", Passed: confidenceOK, Detail: "recommendation confidence meets configured minimum"})
	if !confidenceOK {
		allPassed = false
		firstFailReason = firstNonEmpty(firstFailReason, "recommendation confidence below floor")
	}

	fresh := rec.Age(asOf) <= v.maxDataAge
	checks = append(checks, Check{Name: "freshness", Passed: fresh, Detail: "recommendation issued within the freshness window"})
	if !fresh {
		allPassed = false
		firstFailReason = firstNonEmpty(firstFailReason, "recommendation is stale")
	}

	reason := "all checks passed"
	if !allPassed {
		reason = firstFailReason
	}

	return Result{Valid: allPassed, Reason: reason, Checks: checks, RecommendedStop: recommendedStop}
}

// RecommendedStop returns proposedStop, shifted away
// from current price if it would otherwise violate the minimum
// buffer.
func (v *Validator) RecommendedStop(currentPrice, proposedStop decimal.Decimal, rec types.Recommendation) decimal.Decimal {
	if currentPrice.IsZero() {
		return proposedStop
	}
	buffer := currentPrice.Sub(proposedStop).Div(currentPrice)
	if buffer.GreaterThanOrEqual(v.minStopBuffer) {
		return proposedStop
	}
	return currentPrice.Mul(decimal.NewFromInt(1).Sub(v.minStopBuffer))
}

// WaitForBetterEntry signals a defer (rather than a hard reject) when
// price sits just below entry_low, within tolerance.
func (v *Validator) WaitForBetterEntry(currentPrice decimal.Decimal, rec types.Recommendation) (shouldWait bool, reason string, targetLow, targetHigh decimal.Decimal) {
	if currentPrice.GreaterThanOrEqual(rec.EntryLow) {
		return false, "", decimal.Zero, decimal.Zero
	}
	gap := rec.EntryLow.Sub(currentPrice).Div(rec.EntryLow)
	if gap.LessThan(v.waitTolerance) {
		return true, "price is just below the recommended entry range; wait for pullback into range", rec.EntryLow, rec.EntryHigh
	}
	return false, "price is too far below entry range to wait", decimal.Zero, decimal.Zero
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
