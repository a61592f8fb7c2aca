// Package data provides MarketDataSource implementations: a JSON-file
// backed historical store and a live streaming feed.
package data

import (
	"context"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// MarketDataSource is the single capability the classifier, strategy
// engines, and executor depend on to read prices.
type MarketDataSource interface {
	Fetch(ctx context.Context, symbol string) (types.Quote, error)
}
