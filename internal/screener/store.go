package screener

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// Store holds the most recently parsed Recommendation per symbol.
// The executor consults it as the "current recommendation" for a
// candidate; the poller is its only writer.
type Store struct {
	mu    sync.RWMutex
	byRec map[string]types.Recommendation
}

// NewStore constructs an empty recommendation store.
func NewStore() *Store {
	return &Store{byRec: make(map[string]types.Recommendation)}
}

// Upsert replaces the stored recommendation for its symbol.
func (s *Store) Upsert(rec types.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRec[rec.Symbol] = rec
}

// Get returns the current recommendation for a symbol, if any.
func (s *Store) Get(symbol string) (types.Recommendation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byRec[symbol]
	return rec, ok
}

// All returns every stored recommendation.
func (s *Store) All() []types.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Recommendation, 0, len(s.byRec))
	for _, r := range s.byRec {
		out = append(out, r)
	}
	return out
}

// Poller periodically reads the screener output file, upserts new
// recommendations into the Store, and enqueues freshly seen or
// updated symbols onto a bounded candidate queue, coalescing repeat
// enqueues for the same symbol within a cooldown window.
type Poller struct {
	logger   *zap.Logger
	parser   *Parser
	store    *Store
	filePath string

	pollInterval time.Duration
	cooldown     time.Duration

	mu           sync.Mutex
	lastEnqueued map[string]time.Time

	queue chan string
}

// NewPoller constructs a Poller. queueSize bounds the candidate FIFO;
// symbols are dropped (and logged) when the queue is saturated.
func NewPoller(logger *zap.Logger, filePath string, pollInterval, cooldown time.Duration, queueSize int) *Poller {
	return &Poller{
		logger:       logger.Named("screener-poller"),
		parser:       NewParser(logger),
		store:        NewStore(),
		filePath:     filePath,
		pollInterval: pollInterval,
		cooldown:     cooldown,
		lastEnqueued: make(map[string]time.Time),
		queue:        make(chan string, queueSize),
	}
}

// Store exposes the poller's recommendation store for the executor to query.
func (p *Poller) Store() *Store { return p.store }

// Candidates is the channel the worker pool drains.
func (p *Poller) Candidates() <-chan string { return p.queue }

// Run polls at the configured interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read screener file", zap.Error(err), zap.String("path", p.filePath))
		}
		return
	}

	recs, err := p.parser.ParseFile(raw)
	if err != nil {
		p.logger.Warn("failed to parse screener file", zap.Error(err), zap.String("path", p.filePath))
		return
	}

	now := time.Now()
	for _, rec := range recs {
		p.store.Upsert(rec)
		p.maybeEnqueue(rec.Symbol, now)
	}
}

func (p *Poller) maybeEnqueue(symbol string, now time.Time) {
	p.mu.Lock()
	last, seen := p.lastEnqueued[symbol]
	if seen && now.Sub(last) < p.cooldown {
		p.mu.Unlock()
		return
	}
	p.lastEnqueued[symbol] = now
	p.mu.Unlock()

	select {
	case p.queue <- symbol:
	default:
		p.logger.Warn("candidate queue full, dropping symbol", zap.String("symbol", symbol))
	}
}
