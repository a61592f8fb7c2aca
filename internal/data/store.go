package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// Store is a JSON-file backed historical MarketDataSource. It caches
// loaded bars in memory and synthesizes a deterministic-looking
// random walk for symbols it has never seen, so a fresh data
// directory is immediately usable.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.OHLCV
	metadata map[string]*SymbolMetadata
	rng      *rand.Rand
}

// SymbolMetadata records the span of bars on disk for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// NewStore opens (creating if absent) a JSON data directory.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	s := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.OHLCV),
		metadata: make(map[string]*SymbolMetadata),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := s.loadMetadata(); err != nil {
		logger.Warn("failed to load symbol metadata", zap.Error(err))
	}
	return s, nil
}

// Fetch implements MarketDataSource by returning every stored daily
// bar for the symbol, synthesizing 60 bars when none are on disk.
func (s *Store) Fetch(ctx context.Context, symbol string) (types.Quote, error) {
	bars, err := s.loadOHLCV(symbol)
	if err != nil {
		return types.Quote{}, types.NewDispositionError(types.ErrKindDataUnavailable, symbol, "historical store fetch failed", err)
	}
	if len(bars) == 0 {
		return types.Quote{}, types.NewDispositionError(types.ErrKindDataUnavailable, symbol, "no bars available", nil)
	}

	closes := make([]decimal.Decimal, len(bars))
	volumes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	last := bars[len(bars)-1]
	return types.Quote{
		Symbol:        symbol,
		Closes:        closes,
		Volumes:       volumes,
		CurrentPrice:  last.Close,
		CurrentVolume: last.Volume,
		Source:        "historical_store",
		FetchedAt:     time.Now(),
	}, nil
}

func (s *Store) loadOHLCV(symbol string) ([]types.OHLCV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[symbol]; ok {
		return cached, nil
	}

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", symbol))
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("generating sample bars", zap.String("symbol", symbol))
			bars := s.generateSampleData(symbol, 60)
			s.cache[symbol] = bars
			return bars, nil
		}
		return nil, fmt.Errorf("read data file: %w", err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("parse data file: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	s.cache[symbol] = bars
	return bars, nil
}

// SaveOHLCV persists bars for a symbol and refreshes its metadata.
func (s *Store) SaveOHLCV(symbol string, bars []types.OHLCV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s.json", symbol))
	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	s.cache[symbol] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
		}
	}
	return s.saveMetadata()
}

func (s *Store) generateSampleData(symbol string, n int) []types.OHLCV {
	bars := make([]types.OHLCV, 0, n)
	price := startingPrice(symbol)
	start := time.Now().AddDate(0, 0, -n)

	for i := 0; i < n; i++ {
		change := (s.rng.Float64() - 0.5) * 0.02 * price
		open := decimal.NewFromFloat(price)
		price += change
		if price < 0.01 {
			price = 0.01
		}
		closeP := decimal.NewFromFloat(price)
		high := decimal.Max(open, closeP).Mul(decimal.NewFromFloat(1 + s.rng.Float64()*0.005))
		low := decimal.Min(open, closeP).Mul(decimal.NewFromFloat(1 - s.rng.Float64()*0.005))
		volume := decimal.NewFromFloat(100000 + s.rng.Float64()*900000)

		bars = append(bars, types.OHLCV{
			Timestamp: start.AddDate(0, 0, i),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
		})
	}
	return bars
}

func startingPrice(symbol string) float64 {
	switch symbol {
	case "SPY":
		return 450.0
	case "QQQ":
		return 380.0
	case "IWM":
		return 200.0
	case "DIA":
		return 340.0
	default:
		return 50.0
	}
}

func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	s.metadata = metadata
	return nil
}

func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

// ClearCache drops all in-memory cached bars.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.OHLCV)
}

// GetAvailableSymbols returns symbols with persisted metadata.
func (s *Store) GetAvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metadata))
	for sym := range s.metadata {
		out = append(out, sym)
	}
	return out
}
