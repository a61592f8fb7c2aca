package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

const rsiPeriod = 14

// RSIEngine is the mean-reversion-by-RSI strategy: buys oversold
// conditions and exits on overbought, target, stop, or max hold days.
type RSIEngine struct {
	cfg config.RSIEngineConfig
}

// NewRSIEngine constructs the engine from its configured parameters.
func NewRSIEngine(cfg config.RSIEngineConfig) *RSIEngine {
	return &RSIEngine{cfg: cfg}
}

func (e *RSIEngine) Name() types.StrategyName { return types.StrategyRSIMeanReversion }

func (e *RSIEngine) RequiredHistory() int { return rsiPeriod + 6 }

func (e *RSIEngine) GenerateSignal(symbol string, md MarketData, account Account) types.TradeSignal {
	if len(md.Closes) < e.RequiredHistory() {
		return holdInsufficientData(symbol)
	}

	rsi := wilderRSI(md.Closes, rsiPeriod)
	if !rsi.LessThan(e.cfg.Oversold) {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "RSI not oversold", Indicators: map[string]decimal.Decimal{"rsi": rsi}}
	}

	price := md.Price
	buffer := decimal.Max(e.cfg.MinStopBuffer, decimal.NewFromFloat(0.05))
	stop := price.Mul(decimal.NewFromInt(1).Sub(buffer))
	target := price.Mul(decimal.NewFromInt(1).Add(e.cfg.ProfitTarget))
	qty := e.PositionSize(account, price, e.cfg.PositionFrac)
	if qty <= 0 {
		return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "insufficient cash for position size", Indicators: map[string]decimal.Decimal{"rsi": rsi}}
	}

	return types.TradeSignal{
		Action:       types.ActionBuy,
		Symbol:       symbol,
		Quantity:     qty,
		Price:        price,
		StopLoss:     stop,
		ProfitTarget: target,
		Confidence:   decimal.NewFromFloat(0.80),
		Reason:       "RSI below oversold threshold",
		Indicators:   map[string]decimal.Decimal{"rsi": rsi},
	}
}

func (e *RSIEngine) MonitorPosition(position types.Position, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	reasons := []string{}

	if position.HoldDays(asOf) >= e.cfg.MaxHoldDays {
		reasons = append(reasons, "max hold days reached")
	}
	if !currentPrice.GreaterThan(position.StopLoss) {
		reasons = append(reasons, "stop loss hit")
	}
	if currentPrice.GreaterThanOrEqual(position.ProfitTarget) {
		reasons = append(reasons, "profit target reached")
	}

	sell := len(reasons) > 0
	if !sell {
		// RSI-based exit also needs overbought detection, but the
		// engine only receives a single current price here; the
		// overbought check lives in MonitorPositionWithHistory, which
		// the executor calls with trailing closes. Without history,
		// fall through to HOLD.
		return types.TradeSignal{Action: types.ActionHold, Symbol: position.Symbol, Price: currentPrice}
	}

	return types.TradeSignal{
		Action: types.ActionSell,
		Symbol: position.Symbol,
		Quantity: position.Quantity,
		Price:  currentPrice,
		Reason: reasons[0],
	}
}

// MonitorPositionWithHistory is the richer monitor entrypoint the
// executor calls when it has trailing closes available, so the
// RSI-overbought exit condition (one of §4.5.1's four exit triggers)
// can be evaluated alongside stop/target/hold-days.
func (e *RSIEngine) MonitorPositionWithHistory(position types.Position, closes []decimal.Decimal, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal {
	base := e.MonitorPosition(position, currentPrice, asOf)
	if base.Action == types.ActionSell {
		return base
	}
	if len(closes) >= rsiPeriod+1 {
		rsi := wilderRSI(closes, rsiPeriod)
		if rsi.GreaterThan(e.cfg.Overbought) {
			return types.TradeSignal{
				Action:   types.ActionSell,
				Symbol:   position.Symbol,
				Quantity: position.Quantity,
				Price:    currentPrice,
				Reason:   "RSI overbought",
				Indicators: map[string]decimal.Decimal{"rsi": rsi},
			}
		}
	}
	return base
}

func (e *RSIEngine) PositionSize(account Account, price decimal.Decimal, capFraction decimal.Decimal) int64 {
	return positionSize(account, price, capFraction)
}
