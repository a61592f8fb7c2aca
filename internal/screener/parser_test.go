package screener_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/screener"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

func TestParseEntryRangeString(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	raw := map[string]any{
		"symbol":            "ABC",
		"entry_price_range": "$10.00 - $12.00",
		"target":            15.0,
		"stop":              9.0,
		"confidence":        "HIGH",
	}

	rec, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if rec.Symbol != "ABC" {
		t.Errorf("expected symbol ABC, got %s", rec.Symbol)
	}
	if !rec.EntryLow.Equal(decimal.NewFromFloat(10.0)) {
		t.Errorf("expected entry low 10.0, got %s", rec.EntryLow)
	}
	if !rec.EntryHigh.Equal(decimal.NewFromFloat(12.0)) {
		t.Errorf("expected entry high 12.0, got %s", rec.EntryHigh)
	}
	if rec.ConfidenceLevel != types.ConfidenceHigh {
		t.Errorf("expected HIGH confidence, got %v", rec.ConfidenceLevel)
	}
}

func TestParseRejectsTargetBelowEntryHigh(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	raw := map[string]any{
		"symbol":     "XYZ",
		"entry_low":  10.0,
		"entry_high": 12.0,
		"target":     11.0, // must exceed entry_high
		"stop":       9.0,
	}
	if _, err := p.Parse(raw); err == nil {
		t.Fatal("expected error for target below entry_high, got nil")
	}
}

func TestParseRejectsStopAboveEntryLow(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	raw := map[string]any{
		"symbol":     "XYZ",
		"entry_low":  10.0,
		"entry_high": 12.0,
		"target":     15.0,
		"stop":       10.5, // must be below entry_low
	}
	if _, err := p.Parse(raw); err == nil {
		t.Fatal("expected error for stop above entry_low, got nil")
	}
}

func TestParseFileObjectWithStocksKey(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	raw := []byte(`{"stocks":[{"symbol":"AAA","entry_low":5,"entry_high":6,"target":8,"stop":4,"confidence":"MEDIUM"}]}`)

	recs, err := p.ParseFile(raw)
	if err != nil {
		t.Fatalf("ParseFile returned error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if recs[0].Symbol != "AAA" {
		t.Errorf("expected symbol AAA, got %s", recs[0].Symbol)
	}
}

func TestParseFileSkipsUnparseableEntries(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	raw := []byte(`[{"symbol":"GOOD","entry_low":5,"entry_high":6,"target":8,"stop":4},{"entry_low":5,"entry_high":6,"target":8,"stop":4}]`)

	recs, err := p.ParseFile(raw)
	if err != nil {
		t.Fatalf("ParseFile returned error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 surviving recommendation, got %d", len(recs))
	}
}

func TestParseFileRejectsUnknownShape(t *testing.T) {
	p := screener.NewParser(zap.NewNop())
	if _, err := p.ParseFile([]byte(`{"unexpected":true}`)); err == nil {
		t.Fatal("expected error for object without stocks/recommendations key")
	}
}

