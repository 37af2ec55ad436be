package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StateStore loads and saves conviction history
type StateStore interface {
	LoadAll(ctx context.Context) (map[string]State, error)
	SaveAll(ctx context.Context, states map[string]State) error
}

// Service runs the engine with read-before-decide, write-after-decide state
// handling. Callers must not run two passes concurrently.
type Service struct {
	engine *Engine
	store  StateStore
	now    func() time.Time
	log    zerolog.Logger
}

// NewService creates an allocation service
func NewService(engine *Engine, store StateStore, log zerolog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  store,
		now:    time.Now,
		log:    log.With().Str("service", "allocation").Logger(),
	}
}

// Allocate loads state, runs the engine and persists the updated state
func (s *Service) Allocate(ctx context.Context, req Request) (*Allocation, error) {
	states, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load conviction state: %w", err)
	}
	req.States = states
	if req.Now.IsZero() {
		req.Now = s.now().UTC()
	}

	alloc := s.engine.Allocate(req)

	if err := s.store.SaveAll(ctx, alloc.UpdatedStates); err != nil {
		return nil, fmt.Errorf("failed to save conviction state: %w", err)
	}

	s.log.Info().
		Int("assets", len(alloc.Assets)).
		Float64("macro_risk", alloc.MacroRisk).
		Bool("degenerate", alloc.Degenerate).
		Msg("Allocation computed")
	return alloc, nil
}
