package opsapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/internal/opsapi"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := opsapi.NewMetrics(reg)
	metrics.CandidatesProcessed.Inc()
	metrics.OrdersCommitted.Inc()
	metrics.CircuitTrips.Inc()
	metrics.OpenPositions.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	if len(families) != 4 {
		t.Fatalf("expected 4 registered metric families, got %d", len(families))
	}
}

func TestServerHealthzReportsOpenPositions(t *testing.T) {
	led, err := ledger.New(zap.NewNop(), t.TempDir(), decimal.NewFromInt(100000))
	if err != nil {
		t.Fatalf("ledger.New returned error: %v", err)
	}
	defer led.Close()

	order := types.Order{Symbol: "AAA", Side: types.OrderSideBuy, Quantity: 10, Price: decimal.NewFromInt(50)}
	if _, err := led.CommitBuy(order, types.Position{Symbol: "AAA", Quantity: 10, EntryPrice: decimal.NewFromInt(50)}); err != nil {
		t.Fatalf("CommitBuy returned error: %v", err)
	}

	reg := prometheus.NewRegistry()
	opsapi.NewMetrics(reg)
	server := opsapi.New(zap.NewNop(), opsapi.Config{Host: "127.0.0.1", Port: 18743}, led, reg)

	go server.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	// Give the listener a moment to come up.
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://127.0.0.1:18743/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz returned error: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status      string  `json:"status"`
		UptimeSecs  float64 `json:"uptime_seconds"`
		OpenSymbols int     `json:"open_positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding /healthz body returned error: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %s", body.Status)
	}
	if body.OpenSymbols != 1 {
		t.Errorf("expected 1 open position reported, got %d", body.OpenSymbols)
	}
}
