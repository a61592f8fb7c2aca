// Package opsapi exposes the orchestrator's operational surface: a
// liveness probe and Prometheus metrics. It is not a dashboard.
package opsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
)

// Metrics are the Prometheus collectors the process wiring in
// cmd/orchestrator updates as candidates run and events arrive.
type Metrics struct {
	CandidatesProcessed prometheus.Counter
	OrdersCommitted     prometheus.Counter
	CircuitTrips        prometheus.Counter
	OpenPositions       prometheus.Gauge
}

// NewMetrics registers and returns the orchestrator's metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandidatesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperorch_candidates_processed_total",
			Help: "Total candidates run through ProcessCandidate.",
		}),
		OrdersCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperorch_orders_committed_total",
			Help: "Total orders committed to the ledger.",
		}),
		CircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperorch_circuit_trips_total",
			Help: "Total circuit breaker trips.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperorch_open_positions",
			Help: "Current number of open positions.",
		}),
	}
	reg.MustRegister(m.CandidatesProcessed, m.OrdersCommitted, m.CircuitTrips, m.OpenPositions)
	return m
}

// Server is the minimal HTTP surface for health checks and metrics scraping.
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	ledger     *ledger.Ledger
	startedAt  time.Time
}

// Config addresses where the server listens.
type Config struct {
	Host string
	Port int
}

// New constructs a Server. registry is the Prometheus registry the
// caller has already populated with NewMetrics; cmd/orchestrator passes
// prometheus.DefaultRegisterer asserted to *prometheus.Registry.
func New(logger *zap.Logger, cfg Config, led *ledger.Ledger, registry *prometheus.Registry) *Server {
	s := &Server{logger: logger.Named("opsapi"), ledger: led, startedAt: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

type healthResponse struct {
	Status      string  `json:"status"`
	UptimeSecs  float64 `json:"uptime_seconds"`
	OpenSymbols int     `json:"open_positions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		UptimeSecs:  time.Since(s.startedAt).Seconds(),
		OpenSymbols: len(s.ledger.OpenPositions()),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Start listens and blocks until Stop shuts it down.
func (s *Server) Start() error {
	s.logger.Info("starting ops api", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
