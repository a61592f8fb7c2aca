// Package ledger is the single-writer, JSON-file-durable persistence
// layer backing the account, positions, orders, routing decisions,
// trade tracking, and strategy metrics tables.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// command is a single mutation submitted to the writer goroutine.
// Every command runs to completion before the next is dequeued,
// which is this ledger's transaction boundary.
type command struct {
	run  func() (any, error)
	resp chan result
}

type result struct {
	value any
	err   error
}

// Ledger owns the account, positions, orders, and trade tables. All
// mutations are serialized through a single writer goroutine reading
// from a command channel; reads take a read lock directly since they
// don't need FIFO ordering against each other.
type Ledger struct {
	logger  *zap.Logger
	dataDir string

	mu        sync.RWMutex
	account   types.Account
	positions map[string]types.Position // keyed by symbol
	orders    []types.Order
	trades    map[string]types.TradeRecord // keyed by trade_id
	metrics   map[string]types.StrategyMetric

	commands chan command
	done     chan struct{}
}

// New opens (creating if absent) a JSON ledger directory, seeding the
// account with startingCash if no account file exists yet.
func New(logger *zap.Logger, dataDir string, startingCash decimal.Decimal) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	l := &Ledger{
		logger:    logger.Named("ledger"),
		dataDir:   dataDir,
		positions: make(map[string]types.Position),
		trades:    make(map[string]types.TradeRecord),
		metrics:   make(map[string]types.StrategyMetric),
		commands:  make(chan command, 256),
		done:      make(chan struct{}),
	}

	if err := l.load(startingCash); err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}

	go l.writer()
	return l, nil
}

// Close stops the writer goroutine once all queued commands drain.
func (l *Ledger) Close() {
	close(l.commands)
	<-l.done
}

func (l *Ledger) writer() {
	defer close(l.done)
	for cmd := range l.commands {
		value, err := cmd.run()
		cmd.resp <- result{value: value, err: err}
	}
}

// submit enqueues fn and blocks for its result, giving callers a
// simple synchronous API over the single-writer discipline.
func (l *Ledger) submit(fn func() (any, error)) (any, error) {
	resp := make(chan result, 1)
	l.commands <- command{run: fn, resp: resp}
	r := <-resp
	return r.value, r.err
}

// CommitBuy atomically inserts a BUY order, upserts the position, and
// decrements cash. Rejects negative resulting cash.
func (l *Ledger) CommitBuy(order types.Order, position types.Position) (types.Order, error) {
	v, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		cost := decimal.NewFromInt(order.Quantity).Mul(order.Price)
		if l.account.Cash.LessThan(cost) {
			return nil, types.NewDispositionError(types.ErrKindRiskRejected, order.Symbol, "insufficient cash", nil)
		}
		if _, exists := l.positions[order.Symbol]; exists {
			return nil, types.NewDispositionError(types.ErrKindRiskRejected, order.Symbol, "position already open", nil)
		}

		order.ID = uuid.NewString()
		order.Timestamp = time.Now()
		l.orders = append(l.orders, order)
		l.positions[order.Symbol] = position
		l.account.Cash = l.account.Cash.Sub(cost)
		l.account.LastUpdated = order.Timestamp

		if err := l.persistAll(); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		return types.Order{}, err
	}
	return v.(types.Order), nil
}

// CommitSell atomically inserts a SELL order, deletes the position,
// and credits cash.
func (l *Ledger) CommitSell(order types.Order) (types.Order, error) {
	v, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		pos, exists := l.positions[order.Symbol]
		if !exists {
			return nil, types.NewDispositionError(types.ErrKindTransactionFailed, order.Symbol, "no open position to sell", nil)
		}
		order.ID = uuid.NewString()
		order.Timestamp = time.Now()
		order.Quantity = pos.Quantity
		l.orders = append(l.orders, order)
		delete(l.positions, order.Symbol)

		proceeds := decimal.NewFromInt(order.Quantity).Mul(order.Price)
		l.account.Cash = l.account.Cash.Add(proceeds)
		l.account.LastUpdated = order.Timestamp

		if err := l.persistAll(); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		return types.Order{}, err
	}
	return v.(types.Order), nil
}

// UpdatePosition persists a monitor-loop mutation to an open position
// (trailing stop state, last_updated) without touching cash or orders.
func (l *Ledger) UpdatePosition(position types.Position) error {
	_, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, exists := l.positions[position.Symbol]; !exists {
			return nil, fmt.Errorf("no open position for %s", position.Symbol)
		}
		position.LastUpdated = time.Now()
		l.positions[position.Symbol] = position
		return nil, l.persistPositions()
	})
	return err
}

// LogRoutingDecision appends a routing decision row (idempotent by decision_id).
func (l *Ledger) LogRoutingDecision(decision types.RoutingDecision) error {
	_, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		return nil, l.appendRoutingDecision(decision)
	})
	return err
}

// UpsertTrade inserts or updates a trade record, idempotent by trade_id.
func (l *Ledger) UpsertTrade(trade types.TradeRecord) error {
	_, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.trades[trade.TradeID] = trade
		return nil, l.persistTrades()
	})
	return err
}

// UpsertMetric inserts or updates a strategy metric row.
func (l *Ledger) UpsertMetric(key string, metric types.StrategyMetric) error {
	_, err := l.submit(func() (any, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.metrics[key] = metric
		return nil, l.persistMetrics()
	})
	return err
}

// --- read accessors (direct RLock, no writer-queue needed) ---

// Account returns the current account snapshot.
func (l *Ledger) Account() types.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}

// Position looks up an open position by symbol.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// OpenPositions returns all currently open positions.
func (l *Ledger) OpenPositions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// OrdersToday returns orders whose timestamp falls on the same
// calendar day as asOf (UTC), for the daily-trade-count risk gate.
func (l *Ledger) OrdersToday(asOf time.Time) []types.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	y, m, d := asOf.UTC().Date()
	out := make([]types.Order, 0)
	for _, o := range l.orders {
		oy, om, od := o.Timestamp.UTC().Date()
		if oy == y && om == m && od == d {
			out = append(out, o)
		}
	}
	return out
}

// Trade returns a trade record by ID.
func (l *Ledger) Trade(tradeID string) (types.TradeRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trades[tradeID]
	return t, ok
}

// TradesForSymbol returns all trade records for a symbol, ordered by entry time.
func (l *Ledger) TradesForSymbol(symbol string) []types.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.TradeRecord, 0)
	for _, t := range l.trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// AllTrades returns every trade record, closed and open.
func (l *Ledger) AllTrades() []types.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.TradeRecord, 0, len(l.trades))
	for _, t := range l.trades {
		out = append(out, t)
	}
	return out
}

// AllMetrics returns every strategy metric row keyed by "strategy|class".
func (l *Ledger) AllMetrics() map[string]types.StrategyMetric {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]types.StrategyMetric, len(l.metrics))
	for k, v := range l.metrics {
		out[k] = v
	}
	return out
}

// --- persistence (caller must hold l.mu) ---

func (l *Ledger) persistAll() error {
	if err := l.persistAccount(); err != nil {
		return err
	}
	if err := l.persistPositions(); err != nil {
		return err
	}
	return l.persistOrders()
}

func (l *Ledger) persistAccount() error {
	return writeJSON(filepath.Join(l.dataDir, "account.json"), l.account)
}

func (l *Ledger) persistPositions() error {
	return writeJSON(filepath.Join(l.dataDir, "positions.json"), l.positions)
}

func (l *Ledger) persistOrders() error {
	return writeJSON(filepath.Join(l.dataDir, "orders.json"), l.orders)
}

func (l *Ledger) persistTrades() error {
	return writeJSON(filepath.Join(l.dataDir, "trade_tracking.json"), l.trades)
}

func (l *Ledger) persistMetrics() error {
	return writeJSON(filepath.Join(l.dataDir, "strategy_metrics.json"), l.metrics)
}

func (l *Ledger) appendRoutingDecision(decision types.RoutingDecision) error {
	path := filepath.Join(l.dataDir, "routing_decisions.json")
	var decisions []types.RoutingDecision
	if raw, err := os.ReadFile(path); err == nil {
		json.Unmarshal(raw, &decisions)
	}
	for _, d := range decisions {
		if d.DecisionID == decision.DecisionID {
			return nil // idempotent
		}
	}
	decisions = append(decisions, decision)
	return writeJSON(path, decisions)
}

func (l *Ledger) load(startingCash decimal.Decimal) error {
	if err := readJSON(filepath.Join(l.dataDir, "account.json"), &l.account); err != nil {
		return err
	}
	if l.account.LastUpdated.IsZero() {
		l.account = types.Account{Cash: startingCash, LastUpdated: time.Now()}
	}

	positions := map[string]types.Position{}
	if err := readJSON(filepath.Join(l.dataDir, "positions.json"), &positions); err != nil {
		return err
	}
	l.positions = positions

	var orders []types.Order
	if err := readJSON(filepath.Join(l.dataDir, "orders.json"), &orders); err != nil {
		return err
	}
	l.orders = orders

	trades := map[string]types.TradeRecord{}
	if err := readJSON(filepath.Join(l.dataDir, "trade_tracking.json"), &trades); err != nil {
		return err
	}
	l.trades = trades

	metrics := map[string]types.StrategyMetric{}
	if err := readJSON(filepath.Join(l.dataDir, "strategy_metrics.json"), &metrics); err != nil {
		return err
	}
	l.metrics = metrics

	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(raw, v)
}
