// Package screener normalizes heterogeneous upstream recommendation
// records into canonical Recommendation values.
package screener

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// Parser accepts multiple key spellings for the same logical field,
// the way upstream screener feeds vary their schema between runs.
type Parser struct {
	logger *zap.Logger
}

// NewParser constructs a Parser.
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{logger: logger.Named("screener-parser")}
}

var rangePattern = regexp.MustCompile(`\$?([0-9]+(?:\.[0-9]+)?)\s*-\s*\$?([0-9]+(?:\.[0-9]+)?)`)

// Parse normalizes a single raw recommendation record (already
// decoded from the screener file's top-level array/object) into a
// Recommendation.
func (p *Parser) Parse(raw map[string]any) (types.Recommendation, error) {
	symbol := firstString(raw, "symbol", "ticker", "Symbol", "Ticker")
	if symbol == "" {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, "", "recommendation missing symbol", nil)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	entryLow, entryHigh, err := parseEntryRange(raw)
	if err != nil {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, err.Error(), nil)
	}

	target, ok := firstNumber(raw, "target", "target_price", "Target", "TargetPrice")
	if !ok {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "missing target price", nil)
	}
	stop, ok := firstNumber(raw, "stop", "stop_loss", "Stop_loss", "StopLoss", "Stop")
	if !ok {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "missing stop loss", nil)
	}

	confidence := parseConfidence(raw)

	issuedAt := time.Now().UTC()
	if ts := firstString(raw, "issued_at", "timestamp", "IssuedAt", "Timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			issuedAt = parsed.UTC()
		}
	}

	entryLowD := decimal.NewFromFloat(entryLow)
	entryHighD := decimal.NewFromFloat(entryHigh)
	targetD := decimal.NewFromFloat(target)
	stopD := decimal.NewFromFloat(stop)

	if entryLowD.GreaterThan(entryHighD) {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "entry_low exceeds entry_high", nil)
	}
	if !targetD.GreaterThan(entryHighD) {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "target must exceed entry_high", nil)
	}
	if !stopD.LessThan(entryLowD) {
		return types.Recommendation{}, types.NewDispositionError(types.ErrKindValidationFailed, symbol, "stop must be below entry_low", nil)
	}

	return types.Recommendation{
		Symbol:          symbol,
		EntryLow:        entryLowD,
		EntryHigh:       entryHighD,
		Target:          targetD,
		Stop:            stopD,
		ConfidenceLevel: confidence,
		IssuedAt:        issuedAt,
	}, nil
}

// ParseFile normalizes an entire screener JSON document, which may be
// a bare array or an object carrying a "stocks"/"recommendations"
// array.
func (p *Parser) ParseFile(raw []byte) ([]types.Recommendation, error) {
	var asArray []map[string]any
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return p.parseAll(asArray)
	}

	var asObject map[string]any
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, types.NewDispositionError(types.ErrKindValidationFailed, "", "screener file is neither array nor object", err)
	}

	for _, key := range []string{"stocks", "recommendations"} {
		list, ok := asObject[key].([]any)
		if !ok {
			continue
		}
		entries := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
		return p.parseAll(entries)
	}
	return nil, types.NewDispositionError(types.ErrKindValidationFailed, "", "screener file has no stocks/recommendations array", nil)
}

func (p *Parser) parseAll(entries []map[string]any) ([]types.Recommendation, error) {
	out := make([]types.Recommendation, 0, len(entries))
	for _, e := range entries {
		rec, err := p.Parse(e)
		if err != nil {
			p.logger.Warn("skipping unparseable recommendation", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseEntryRange(raw map[string]any) (low, high float64, err error) {
	if v := firstString(raw, "entry_price_range", "entry_range", "entry"); v != "" {
		m := rangePattern.FindStringSubmatch(v)
		if m != nil {
			lowVal, _ := strconv.ParseFloat(m[1], 64)
			highVal, _ := strconv.ParseFloat(m[2], 64)
			return lowVal, highVal, nil
		}
		single, perr := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64)
		if perr == nil {
			return single, single, nil
		}
		return 0, 0, fmt.Errorf("could not parse entry range %q", v)
	}

	entryLow, lowOK := firstNumber(raw, "entry_low", "EntryLow")
	entryHigh, highOK := firstNumber(raw, "entry_high", "EntryHigh")
	if lowOK && highOK {
		return entryLow, entryHigh, nil
	}
	return 0, 0, fmt.Errorf("missing entry price range")
}

func parseConfidence(raw map[string]any) types.ConfidenceLevel {
	for _, key := range []string{"confidence", "confidence_score", "confidence_level", "Confidence"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				return types.ConfidenceFromScore(n)
			}
			return types.ParseConfidenceLevel(val)
		case float64:
			return types.ConfidenceFromScore(val)
		}
	}
	return types.ConfidenceLow
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(raw map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val, true
		case string:
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
