package strategy

import (
	"fmt"

	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// Registry resolves a StrategyName to its Engine.
type Registry struct {
	engines map[types.StrategyName]Engine
}

// NewRegistry builds the registry with the three built-in engines.
func NewRegistry(cfg config.EnginesConfig) *Registry {
	r := &Registry{engines: make(map[types.StrategyName]Engine, 3)}
	r.register(NewRSIEngine(cfg.RSI))
	r.register(NewMomentumEngine(cfg.Momentum))
	r.register(NewBollingerEngine(cfg.Bollinger))
	return r
}

func (r *Registry) register(e Engine) {
	r.engines[e.Name()] = e
}

// Get resolves a strategy by name.
func (r *Registry) Get(name types.StrategyName) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return e, nil
}
