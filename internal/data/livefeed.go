package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// LiveFeedConfig configures the websocket-backed quote stream.
type LiveFeedConfig struct {
	StreamURL    string
	Symbols      []string
	BufferSize   int
	ReconnectGap time.Duration
}

// DefaultLiveFeedConfig mirrors the shape of a typical retail quote
// stream endpoint; the URL is expected to be overridden per deployment.
func DefaultLiveFeedConfig() LiveFeedConfig {
	return LiveFeedConfig{
		StreamURL:    "wss://stream.example-broker.com/v2/quotes",
		Symbols:      []string{"SPY", "QQQ", "IWM", "DIA"},
		BufferSize:   120,
		ReconnectGap: 5 * time.Second,
	}
}

// tick is the minimal wire shape this feed expects: {"symbol","price","volume","ts"}.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  string  `json:"price"`
	Volume string  `json:"volume"`
	Ts     int64   `json:"ts"`
}

// LiveFeed streams current price/volume over a websocket and answers
// Fetch by combining the live tip with trailing closes from a
// historical Store, satisfying MarketDataSource without needing the
// stream itself to replay history.
type LiveFeed struct {
	logger  *zap.Logger
	config  LiveFeedConfig
	history MarketDataSource

	mu      sync.RWMutex
	conn    *websocket.Conn
	running bool
	subs    map[string]bool

	priceMu sync.RWMutex
	prices  map[string]tick

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLiveFeed constructs a feed that falls back to history for
// trailing closes; history is typically a *Store.
func NewLiveFeed(logger *zap.Logger, config LiveFeedConfig, history MarketDataSource) *LiveFeed {
	return &LiveFeed{
		logger:  logger,
		config:  config,
		history: history,
		subs:    make(map[string]bool),
		prices:  make(map[string]tick),
	}
}

// Start dials the stream and subscribes to the configured symbols.
func (f *LiveFeed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.running = true

	if err := f.connect(); err != nil {
		return fmt.Errorf("connect live feed: %w", err)
	}
	for _, symbol := range f.config.Symbols {
		if err := f.Subscribe(symbol); err != nil {
			f.logger.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	go f.readLoop()
	go f.reconnectMonitor()

	f.logger.Info("live feed started", zap.Int("symbols", len(f.config.Symbols)))
	return nil
}

// Stop tears down the websocket connection.
func (f *LiveFeed) Stop() error {
	f.running = false
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
	return nil
}

func (f *LiveFeed) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, err := url.Parse(f.config.StreamURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	f.conn = conn
	return nil
}

// Subscribe adds a symbol to the live stream.
func (f *LiveFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	f.subs[symbol] = true
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	msg := map[string]any{
		"action":  "subscribe",
		"symbols": []string{strings.ToUpper(symbol)},
	}
	return conn.WriteJSON(msg)
}

func (f *LiveFeed) readLoop() {
	for f.running {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.running {
				f.logger.Error("live feed read error", zap.Error(err))
			}
			continue
		}
		f.handleMessage(message)
	}
}

func (f *LiveFeed) handleMessage(raw []byte) {
	var t tick
	if err := json.Unmarshal(raw, &t); err != nil {
		return
	}
	if t.Symbol == "" {
		return
	}
	f.priceMu.Lock()
	f.prices[strings.ToUpper(t.Symbol)] = t
	f.priceMu.Unlock()
}

func (f *LiveFeed) reconnectMonitor() {
	ticker := time.NewTicker(f.config.ReconnectGap)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()
			if conn != nil || !f.running {
				continue
			}
			f.logger.Info("attempting live feed reconnect")
			if err := f.connect(); err != nil {
				f.logger.Error("live feed reconnect failed", zap.Error(err))
				continue
			}
			f.mu.RLock()
			symbols := make([]string, 0, len(f.subs))
			for s := range f.subs {
				symbols = append(symbols, s)
			}
			f.mu.RUnlock()
			for _, s := range symbols {
				f.Subscribe(s)
			}
		}
	}
}

// Fetch returns the live current price/volume with trailing closes
// sourced from history, tagging the quote's source as "live_feed".
// Without a parseable live tick for the symbol it returns the history
// quote unchanged.
func (f *LiveFeed) Fetch(ctx context.Context, symbol string) (types.Quote, error) {
	symbol = strings.ToUpper(symbol)
	quote, err := f.history.Fetch(ctx, symbol)
	if err != nil {
		return types.Quote{}, err
	}

	f.priceMu.RLock()
	t, ok := f.prices[symbol]
	f.priceMu.RUnlock()
	if !ok {
		return quote, nil
	}

	price, perr := decimal.NewFromString(t.Price)
	volume, verr := decimal.NewFromString(t.Volume)
	if perr != nil || verr != nil {
		return quote, nil
	}

	quote.CurrentPrice = price
	quote.CurrentVolume = volume
	quote.Source = "live_feed"
	quote.FetchedAt = time.Now()
	return quote, nil
}
