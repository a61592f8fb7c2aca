// Package classifier derives a StockProfile from a symbol and recent
// market data.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/internal/data"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

const minCloses = 20

// Classifier builds a StockProfile from a MarketDataSource.
type Classifier struct {
	source     data.MarketDataSource
	cfg        config.RoutingConfig
	sectors    map[string]string
	marketCaps map[string]decimal.Decimal
}

// New constructs a Classifier. sectors and marketCaps are optional,
// externally supplied reference lookups (the screener feed's own
// sector/market-cap tagging, when present); symbols absent from them
// classify with sector "UNKNOWN" and market cap 0 (unknown).
func New(source data.MarketDataSource, cfg config.RoutingConfig, sectors map[string]string, marketCaps map[string]decimal.Decimal) *Classifier {
	if sectors == nil {
		sectors = map[string]string{}
	}
	if marketCaps == nil {
		marketCaps = map[string]decimal.Decimal{}
	}
	return &Classifier{source: source, cfg: cfg, sectors: sectors, marketCaps: marketCaps}
}

// Classify derives a StockProfile for symbol.
func (c *Classifier) Classify(ctx context.Context, symbol string) (types.StockProfile, error) {
	if symbol == "" {
		return types.StockProfile{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "empty symbol", nil)
	}

	quote, err := c.source.Fetch(ctx, symbol)
	if err != nil {
		return types.StockProfile{}, fmt.Errorf("classify %s: %w", symbol, err)
	}

	profile := types.StockProfile{
		Symbol:    symbol,
		Price:     quote.CurrentPrice,
		AvgVolume: averageVolume(quote.Volumes),
		Sector:    c.sectorFor(symbol),
		IsETF:     c.cfg.ETFSymbols[symbol],
		MarketCap: c.marketCaps[symbol],
	}

	profile.VolatilityAnnualized = annualizedVolatility(quote.Closes)

	if profile.Price.IsZero() && profile.VolatilityAnnualized.IsZero() {
		profile.Classification = types.ClassUnknown
		profile.Warning = "insufficient market data"
		return profile, nil
	}
	if len(quote.Closes) < minCloses {
		profile.Warning = "fewer than 20 closes available; volatility may be unreliable"
	}

	profile.Classification = c.classify(profile)
	return profile, nil
}

func (c *Classifier) classify(p types.StockProfile) types.Classification {
	switch {
	case p.IsETF:
		return types.ClassETF
	case p.Price.LessThan(c.cfg.PennyThreshold):
		return types.ClassPennyStock
	case p.MarketCap.GreaterThan(c.cfg.LargeCapThreshold):
		return types.ClassLargeCap
	case p.MarketCap.GreaterThan(decimal.NewFromFloat(10e9)):
		return types.ClassMidCap
	case p.MarketCap.GreaterThan(decimal.Zero):
		return types.ClassSmallCap
	default:
		return types.ClassUnknown
	}
}

func (c *Classifier) sectorFor(symbol string) string {
	if s, ok := c.sectors[symbol]; ok && s != "" {
		return s
	}
	return "UNKNOWN"
}

// annualizedVolatility computes the stdev of daily log returns over
// the trailing 30 closes (or whatever is available, floor 5),
// scaled by sqrt(252). Fewer than 5 usable returns yields zero.
func annualizedVolatility(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) > 31 {
		closes = closes[len(closes)-31:]
	}
	if len(closes) < 6 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, _ := closes[i-1].Float64()
		cur, _ := closes[i].Float64()
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 5 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	stdev := math.Sqrt(variance) * math.Sqrt(252)
	return decimal.NewFromFloat(stdev)
}

func averageVolume(volumes []decimal.Decimal) decimal.Decimal {
	if len(volumes) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range volumes {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(volumes))))
}
