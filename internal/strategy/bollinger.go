package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// BollingerEngine is the mean-reversion-by-bands strategy: buys a
// touch of the lower band and exits at the middle (or upper) band,
// profit target, stop, or max hold days.
type BollingerEngine struct {
	cfg config.BollingerEngineConfig
}

// NewBollingerEngine constructs the engine from its configured parameters.
func NewBollingerEngine(cfg config.BollingerEngineConfig) *BollingerEngine {
	return &BollingerEngine{cfg: cfg}
}

func (e *BollingerEngine) Name() types.StrategyName { return types.StrategyBollingerReversion }

func (e *BollingerEngine) RequiredHistory() int { return e.cfg.Period }

// bands returns middle, upper, lower for the trailing Period closes.
func (e *BollingerEngine) bands(closes []decimal.Decimal) (middle, upper, lower decimal.Decimal) {
	window := tail(closes, e.cfg.Period)
	middle = mean(window)
	stdev := populationStdev(window, middle)
	spread := stdev.Mul(e.cfg.StdevMult)
	upper = middle.Add(spread)
	lower = middle.Sub(spread)
	return
}

func (e *BollingerEngine) GenerateSignal(symbol string, md MarketData, account Account) types.TradeSignal {
	if len(md.Closes) < e.RequiredHistory() {
		return holdInsufficientData(symbol)
	}

	middle, upper, lower := e.bands(md.Closes)
	price := md.Price
	indicators := map[string]decimal.Decimal{"middle": middle, "upper": upper, "lower": lower}

	if price.GreaterThan(lower) {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "price above lower band", Indicators: indicators}
	}

	qty := e.PositionSize(account, price, e.cfg.PositionFrac)
	if qty <= 0 {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "insufficient cash for position size", Indicators: indicators}
	}

	stop := price.Mul(decimal.NewFromFloat(0.97))
	target := middle
	if !e.cfg.ExitAtMiddle {
		target = upper
	}

	return types.TradeSignal{
		Action:       types.ActionBuy,
		Symbol:       symbol,
		Quantity:     qty,
		Price:        price,
		StopLoss:     stop,
		ProfitTarget: target,
		Confidence:   decimal.NewFromFloat(0.80),
		Reason:       "price touched lower Bollinger band",
		Indicators:   indicators,
	}
}

func (e *BollingerEngine) MonitorPosition(position types.Position, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	switch {
	case currentPrice.LessThanOrEqual(position.StopLoss):
		return sellSignal(position, currentPrice, "stop loss hit", nil)
	case currentPrice.GreaterThanOrEqual(position.ProfitTarget):
		return sellSignal(position, currentPrice, "exit band/profit target reached", nil)
	case position.HoldDays(asOf) >= e.cfg.MaxHoldDays:
		return sellSignal(position, currentPrice, "max hold days reached", nil)
	default:
		return types.TradeSignal{Action: types.ActionHold, Symbol: position.Symbol, Price: currentPrice}
	}
}

// MonitorPositionWithHistory also checks the profit_target percentage
// exit trigger independently of the band-based target, matching
// §4.5.3's "any of" exit list.
func (e *BollingerEngine) MonitorPositionWithHistory(position types.Position, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	base := e.MonitorPosition(position, currentPrice, asOf)
	if base.Action == types.ActionSell {
		return base
	}
	pctGain := currentPrice.Sub(position.EntryPrice).Div(position.EntryPrice)
	if pctGain.GreaterThanOrEqual(e.cfg.ProfitTarget) {
		return sellSignal(position, currentPrice, "profit target percentage reached", nil)
	}
	return base
}

func (e *BollingerEngine) PositionSize(account Account, price decimal.Decimal, capFraction decimal.Decimal) int64 {
	return positionSize(account, price, capFraction)
}
