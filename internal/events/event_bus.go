// Package events provides a worker-pool-backed publish/subscribe bus
// for the orchestrator's own domain events: routing decisions, trade
// signals, order commits, and circuit-breaker trips.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventType categorizes a domain event.
type EventType string

const (
	EventTypeRoutingDecision  EventType = "routing_decision"
	EventTypeTradeSignal      EventType = "trade_signal"
	EventTypeOrderCommitted   EventType = "order_committed"
	EventTypePositionClosed   EventType = "position_closed"
	EventTypeCircuitTripped   EventType = "circuit_tripped"
)

// Event is the common envelope every published value satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent supplies the common Event fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetID() string           { return e.ID }

func newBaseEvent(t EventType) BaseEvent {
	return BaseEvent{ID: uuid.NewString(), Type: t, Timestamp: time.Now()}
}

// RoutingDecisionEvent announces a router selection.
type RoutingDecisionEvent struct {
	BaseEvent
	Symbol     string
	Strategy   string
	Confidence decimal.Decimal
}

// NewRoutingDecisionEvent constructs a RoutingDecisionEvent.
func NewRoutingDecisionEvent(symbol, strategy string, confidence decimal.Decimal) *RoutingDecisionEvent {
	return &RoutingDecisionEvent{BaseEvent: newBaseEvent(EventTypeRoutingDecision), Symbol: symbol, Strategy: strategy, Confidence: confidence}
}

// TradeSignalEvent announces a strategy engine's BUY/SELL/HOLD decision.
type TradeSignalEvent struct {
	BaseEvent
	Symbol string
	Action string
	Reason string
}

// NewTradeSignalEvent constructs a TradeSignalEvent.
func NewTradeSignalEvent(symbol, action, reason string) *TradeSignalEvent {
	return &TradeSignalEvent{BaseEvent: newBaseEvent(EventTypeTradeSignal), Symbol: symbol, Action: action, Reason: reason}
}

// OrderCommittedEvent announces a ledger order commit.
type OrderCommittedEvent struct {
	BaseEvent
	OrderID  string
	Symbol   string
	Side     string
	Quantity int64
	Price    decimal.Decimal
}

// NewOrderCommittedEvent constructs an OrderCommittedEvent.
func NewOrderCommittedEvent(orderID, symbol, side string, qty int64, price decimal.Decimal) *OrderCommittedEvent {
	return &OrderCommittedEvent{BaseEvent: newBaseEvent(EventTypeOrderCommitted), OrderID: orderID, Symbol: symbol, Side: side, Quantity: qty, Price: price}
}

// PositionClosedEvent announces an exit.
type PositionClosedEvent struct {
	BaseEvent
	Symbol string
	PnL    decimal.Decimal
	Reason string
}

// NewPositionClosedEvent constructs a PositionClosedEvent.
func NewPositionClosedEvent(symbol string, pnl decimal.Decimal, reason string) *PositionClosedEvent {
	return &PositionClosedEvent{BaseEvent: newBaseEvent(EventTypePositionClosed), Symbol: symbol, PnL: pnl, Reason: reason}
}

// CircuitTrippedEvent announces a risk circuit breaker engaging.
type CircuitTrippedEvent struct {
	BaseEvent
	Breaker string
	Detail  string
}

// NewCircuitTrippedEvent constructs a CircuitTrippedEvent.
func NewCircuitTrippedEvent(breaker, detail string) *CircuitTrippedEvent {
	return &CircuitTrippedEvent{BaseEvent: newBaseEvent(EventTypeCircuitTripped), Breaker: breaker, Detail: detail}
}

// Handler processes one event; an error is logged, never propagated.
type Handler func(event Event) error

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	id      string
	handler Handler
	active  atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// Config tunes the bus's internal worker pool.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig returns defaults sized for this orchestrator's event
// volume (one event per routing/signal/order/exit/trip, not a
// market-tick firehose).
func DefaultConfig() Config {
	return Config{NumWorkers: 4, BufferSize: 1000}
}

// Bus fans published events out to subscribers on a small worker pool.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*Subscription
	allSubs     []*Subscription

	eventChan chan Event
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

// New constructs and starts a Bus.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, cfg.BufferSize),
		logger:      logger.Named("events"),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := append([]*Subscription{}, b.subscribers[event.GetType()]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		b.runHandler(sub, event)
	}
	b.processed.Add(1)
}

func (b *Bus) runHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("panic", r), zap.String("event_type", string(event.GetType())))
		}
	}()
	if err := sub.handler(event); err != nil {
		b.logger.Warn("event handler error", zap.Error(err), zap.String("event_type", string(event.GetType())))
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), handler: handler}
	sub.active.Store(true)
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()
	return sub
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), handler: handler}
	sub.active.Store(true)
	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe deactivates a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
}

// Publish enqueues an event asynchronously, dropping it if the buffer
// is saturated rather than blocking the caller.
func (b *Bus) Publish(event Event) {
	b.published.Add(1)
	select {
	case b.eventChan <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event", zap.String("event_type", string(event.GetType())))
	}
}

// PublishSync dispatches an event on the caller's goroutine, bypassing
// the queue; used for events the caller must know were delivered
// before proceeding (e.g. a circuit trip before the next candidate).
func (b *Bus) PublishSync(event Event) {
	b.published.Add(1)
	b.dispatch(event)
}

// Stop halts the worker pool.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published int64
	Processed int64
	Dropped   int64
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	return Stats{Published: b.published.Load(), Processed: b.processed.Load(), Dropped: b.dropped.Load()}
}
