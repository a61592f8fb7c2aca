// Package strategy implements the trade signal engines: RSI mean
// reversion, momentum breakout, and Bollinger mean reversion. Each
// engine is stateless between calls; any state that must survive
// across ticks lives on the Position row passed back in.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// MarketData is the slice of a Quote an engine needs to generate or
// monitor a signal.
type MarketData struct {
	Closes  []decimal.Decimal
	Volumes []decimal.Decimal
	Price   decimal.Decimal
	Volume  decimal.Decimal
}

// Account is the slice of ledger state an engine needs to size a position.
type Account struct {
	Cash decimal.Decimal
}

// Engine is the common contract every strategy implements.
type Engine interface {
	Name() types.StrategyName
	RequiredHistory() int
	GenerateSignal(symbol string, md MarketData, account Account) types.TradeSignal
	MonitorPosition(position types.Position, currentPrice decimal.Decimal, asOf time.Time) types.TradeSignal
	PositionSize(account Account, price decimal.Decimal, capFraction decimal.Decimal) int64
}

func holdInsufficientData(symbol string) types.TradeSignal {
	return types.TradeSignal{Action: types.ActionHold, Symbol: symbol, Reason: "insufficient data"}
}

// positionSize floors the cap-fraction-of-cash allocation to whole shares.
func positionSize(account Account, price, capFraction decimal.Decimal) int64 {
	if price.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	budget := account.Cash.Mul(capFraction)
	shares := budget.Div(price).Floor()
	qty := shares.IntPart()
	if qty < 0 {
		return 0
	}
	return qty
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func maxOf(values []decimal.Decimal) decimal.Decimal {
	m := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

func populationStdev(values []decimal.Decimal, avg decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sumSq := decimal.Zero
	for _, v := range values {
		d := v.Sub(avg)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(values))))
	return decimalSqrt(variance)
}

// decimalSqrt computes an approximate square root via float64
// round-trip; acceptable here because Bollinger bandwidth is a
// display/threshold quantity, not a ledger amount.
func decimalSqrt(d decimal.Decimal) decimal.Decimal {
	f, _ := d.Float64()
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sqrtFloat(f))
}

func sqrtFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	x := f
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

// wilderRSI computes the 14-period Wilder-smoothed RSI on closes,
// seeding with a simple average of the first `period` gains/losses.
func wilderRSI(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) < period+1 {
		return decimal.Zero
	}

	gains := make([]decimal.Decimal, 0, len(closes)-1)
	losses := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		change := closes[i].Sub(closes[i-1])
		if change.GreaterThan(decimal.Zero) {
			gains = append(gains, change)
			losses = append(losses, decimal.Zero)
		} else {
			gains = append(gains, decimal.Zero)
			losses = append(losses, change.Abs())
		}
	}

	periodDec := decimal.NewFromInt(int64(period))
	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])

	for i := period; i < len(gains); i++ {
		avgGain = avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gains[i]).Div(periodDec)
		avgLoss = avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(losses[i]).Div(periodDec)
	}

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	return decimal.NewFromInt(100).Sub(decimal.NewFromInt(100).Div(decimal.NewFromInt(1).Add(rs)))
}
