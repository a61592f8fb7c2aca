package events_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/events"
)

func decimalTen() decimal.Decimal { return decimal.NewFromInt(10) }

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("timed out waiting for condition")
	}
}

func TestBusDeliversToTypedSubscriber(t *testing.T) {
	bus := events.New(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	var received int32
	bus.Subscribe(events.EventTypeTradeSignal, func(e events.Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})
	bus.Publish(events.NewTradeSignalEvent("AAA", "BUY", "oversold"))

	waitForCondition(t, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestBusSubscribeAllReceivesEveryEventType(t *testing.T) {
	bus := events.New(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	var received int32
	bus.SubscribeAll(func(e events.Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})
	bus.Publish(events.NewTradeSignalEvent("AAA", "BUY", "oversold"))
	bus.Publish(events.NewCircuitTrippedEvent("daily_loss", "limit exceeded"))

	waitForCondition(t, func() bool { return atomic.LoadInt32(&received) == 2 })
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.New(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	var received int32
	sub := bus.Subscribe(events.EventTypeOrderCommitted, func(e events.Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})
	bus.Unsubscribe(sub)
	if sub.IsActive() {
		t.Error("expected subscription to be inactive after Unsubscribe")
	}

	bus.PublishSync(events.NewOrderCommittedEvent("O1", "AAA", "BUY", 10, decimalTen()))
	if atomic.LoadInt32(&received) != 0 {
		t.Error("expected no delivery to an unsubscribed handler")
	}
}

func TestBusRecoversFromPanickingHandler(t *testing.T) {
	bus := events.New(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	bus.SubscribeAll(func(e events.Event) error {
		panic("handler exploded")
	})

	var received int32
	bus.SubscribeAll(func(e events.Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	bus.PublishSync(events.NewPositionClosedEvent("AAA", decimalTen(), "target hit"))
	if atomic.LoadInt32(&received) != 1 {
		t.Error("expected the second handler to still run after the first one panicked")
	}
}

func TestBusStatsCountPublishedAndProcessed(t *testing.T) {
	bus := events.New(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	bus.PublishSync(events.NewTradeSignalEvent("AAA", "HOLD", "no signal"))
	stats := bus.Stats()
	if stats.Published != 1 || stats.Processed != 1 {
		t.Errorf("expected published=1 processed=1, got %+v", stats)
	}
}
