package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// MomentumEngine is the breakout-by-momentum strategy: buys a
// resistance breakout confirmed by volume and a fast/slow MA
// crossover, then trails its stop upward as price advances.
type MomentumEngine struct {
	cfg config.MomentumEngineConfig
}

// NewMomentumEngine constructs the engine from its configured parameters.
func NewMomentumEngine(cfg config.MomentumEngineConfig) *MomentumEngine {
	return &MomentumEngine{cfg: cfg}
}

func (e *MomentumEngine) Name() types.StrategyName { return types.StrategyMomentumBreakout }

func (e *MomentumEngine) RequiredHistory() int { return e.cfg.BreakoutPeriod }

func (e *MomentumEngine) GenerateSignal(symbol string, md MarketData, account Account) types.TradeSignal {
	if len(md.Closes) < e.RequiredHistory() || len(md.Volumes) < e.RequiredHistory() {
		return holdInsufficientData(symbol)
	}

	window := md.Closes[len(md.Closes)-e.cfg.BreakoutPeriod : len(md.Closes)-1]
	volWindow := md.Volumes[len(md.Volumes)-e.cfg.BreakoutPeriod : len(md.Volumes)-1]
	resistance := maxOf(window)
	avgVolume := mean(volWindow)

	fastWindow := tail(md.Closes, 5)
	slowWindow := tail(md.Closes, 20)
	maFast := mean(fastWindow)
	maSlow := mean(slowWindow)

	price := md.Price
	breakoutLevel := resistance.Mul(decimal.NewFromInt(1).Add(e.cfg.BreakoutBuffer))
	volumeLevel := avgVolume.Mul(e.cfg.VolumeMultiple)

	indicators := map[string]decimal.Decimal{
		"resistance":  resistance,
		"avg_volume":  avgVolume,
		"ma_fast":     maFast,
		"ma_slow":     maSlow,
	}

	if !price.GreaterThan(breakoutLevel) {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "no breakout", Indicators: indicators}
	}
	if md.Volume.LessThan(volumeLevel) {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "volume confirmation missing", Indicators: indicators}
	}
	if !maFast.GreaterThan(maSlow) {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "momentum not confirmed by moving averages", Indicators: indicators}
	}

	qty := e.PositionSize(account, price, e.cfg.PositionFrac)
	if qty <= 0 {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "insufficient cash for position size", Indicators: indicators}
	}

	stopLoss := price.Mul(decimal.NewFromInt(1).Sub(e.cfg.StopLoss))
	trailingStop := price.Mul(decimal.NewFromInt(1).Sub(e.cfg.TrailingStop))
	stop := decimal.Max(stopLoss, trailingStop) // tighter of the two, i.e. the higher floor

	target := price.Mul(decimal.NewFromInt(1).Add(e.cfg.ProfitTarget))

	return types.TradeSignal{
		Action:       types.ActionBuy,
		Symbol:       symbol,
		Quantity:     qty,
		Price:        price,
		StopLoss:     stop,
		ProfitTarget: target,
		Confidence:   decimal.NewFromFloat(0.85),
		Reason:       "resistance breakout confirmed by volume and moving averages",
		Indicators:   indicators,
	}
}

// MonitorPosition implements the trailing-stop ratchet: max_seen and
// effective_stop on the position are updated in place by the caller
// using the returned Indicators before persisting.
func (e *MomentumEngine) MonitorPosition(position types.Position, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	maxSeen := position.MaxSeen
	effectiveStop := position.EffectiveStop
	if effectiveStop.IsZero() {
		effectiveStop = position.StopLoss
	}
	if maxSeen.IsZero() {
		maxSeen = position.EntryPrice
	}

	if currentPrice.GreaterThan(maxSeen) {
		maxSeen = currentPrice
		trailed := maxSeen.Mul(decimal.NewFromInt(1).Sub(e.cfg.TrailingStop))
		if trailed.GreaterThan(effectiveStop) {
			effectiveStop = trailed
		}
	}

	indicators := map[string]decimal.Decimal{"max_seen": maxSeen, "effective_stop": effectiveStop}

	if currentPrice.LessThanOrEqual(effectiveStop) {
		return sellSignal(position, currentPrice, "trailing stop hit", indicators)
	}
	if currentPrice.GreaterThanOrEqual(position.ProfitTarget) {
		return sellSignal(position, currentPrice, "profit target reached", indicators)
	}
	if position.HoldDays(asOf) >= e.cfg.MaxHoldDays {
		return sellSignal(position, currentPrice, "max hold days reached", indicators)
	}

	return types.TradeSignal{Action: types.ActionHold, Symbol: position.Symbol, Price: currentPrice, Indicators: indicators}
}

// MonitorPositionWithHistory adds the ma_fast < ma_slow exit trigger,
// which requires trailing closes the bare MonitorPosition signature
// does not carry.
func (e *MomentumEngine) MonitorPositionWithHistory(position types.Position, closes []decimal.Decimal, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	base := e.MonitorPosition(position, currentPrice, asOf)
	if base.Action == types.ActionSell {
		return base
	}
	if len(closes) >= 20 {
		maFast := mean(tail(closes, 5))
		maSlow := mean(tail(closes, 20))
		if maFast.LessThan(maSlow) {
			return sellSignal(position, currentPrice, "momentum lost", base.Indicators)
		}
	}
	return base
}

func (e *MomentumEngine) PositionSize(account Account, price decimal.Decimal, capFraction decimal.Decimal) int64 {
	return positionSize(account, price, capFraction)
}

func sellSignal(position types.Position, price decimal.Decimal, reason string, indicators map[string]decimal.Decimal) types.TradeSignal {
	return types.TradeSignal{
		Action:     types.ActionSell,
		Symbol:     position.Symbol,
		Quantity:   position.Quantity,
		Price:      price,
		Reason:     reason,
		Indicators: indicators,
	}
}

func tail(values []decimal.Decimal, n int) []decimal.Decimal {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
