package data_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/data"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

func TestStoreFetchGeneratesSampleDataForUnknownSymbol(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	quote, err := store.Fetch(context.Background(), "FRESH")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(quote.Closes) != 60 {
		t.Errorf("expected 60 synthesized bars, got %d", len(quote.Closes))
	}
	if quote.CurrentPrice.IsZero() {
		t.Error("expected a non-zero current price")
	}
}

func TestStoreFetchIsCachedAcrossCalls(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	first, err := store.Fetch(context.Background(), "AAA")
	if err != nil {
		t.Fatalf("first Fetch returned error: %v", err)
	}
	second, err := store.Fetch(context.Background(), "AAA")
	if err != nil {
		t.Fatalf("second Fetch returned error: %v", err)
	}
	if !first.CurrentPrice.Equal(second.CurrentPrice) {
		t.Error("expected repeated fetches of the same symbol to return cached, identical bars")
	}
}

func TestStoreSaveOHLCVPersistsAndOverridesSynthesis(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	bars := []types.OHLCV{
		{
			Open:   decimal.NewFromFloat(10),
			High:   decimal.NewFromFloat(11),
			Low:    decimal.NewFromFloat(9),
			Close:  decimal.NewFromFloat(10.5),
			Volume: decimal.NewFromFloat(1000),
		},
	}
	if err := store.SaveOHLCV("SAVED", bars); err != nil {
		t.Fatalf("SaveOHLCV returned error: %v", err)
	}

	quote, err := store.Fetch(context.Background(), "SAVED")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(quote.Closes) != 1 {
		t.Fatalf("expected the persisted single bar, got %d", len(quote.Closes))
	}
	if !quote.CurrentPrice.Equal(decimal.NewFromFloat(10.5)) {
		t.Errorf("expected current price 10.5, got %s", quote.CurrentPrice)
	}

	symbols := store.GetAvailableSymbols()
	if len(symbols) != 1 || symbols[0] != "SAVED" {
		t.Errorf("expected GetAvailableSymbols to report [SAVED], got %v", symbols)
	}
}

func TestStoreClearCacheForcesReload(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	if _, err := store.Fetch(context.Background(), "AAA"); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	store.ClearCache()
	if _, err := store.Fetch(context.Background(), "AAA"); err != nil {
		t.Fatalf("Fetch after ClearCache returned error: %v", err)
	}
}
