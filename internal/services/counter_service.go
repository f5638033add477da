package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

// ErrCounterInvalidInput signals the caller provided invalid counter data.
var ErrCounterInvalidInput = errors.New("counter: invalid input")

// CounterServiceDeps bundles collaborators required to construct the counter service.
type CounterServiceDeps struct {
	Counters repositories.CounterRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type counterService struct {
	counters repositories.CounterRepository
	logger   func(context.Context, string, map[string]any)
}

var _ CounterService = (*counterService)(nil)

// NewCounterService exposes administrative sequence management over the
// counter repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Counters == nil {
		return nil, errors.New("counter service: counter repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &counterService{counters: deps.Counters, logger: logger}, nil
}

func (s *counterService) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}
	if step <= 0 {
		step = 1
	}
	return s.counters.Next(ctx, id, step)
}

func (s *counterService) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}
	if cfg.Step < 0 {
		return fmt.Errorf("%w: counter step must be non-negative", ErrCounterInvalidInput)
	}
	if cfg.MaxValue != nil && *cfg.MaxValue < 0 {
		return fmt.Errorf("%w: counter max value must be non-negative", ErrCounterInvalidInput)
	}
	if cfg.InitialValue != nil && *cfg.InitialValue < 0 {
		return fmt.Errorf("%w: counter initial value must be non-negative", ErrCounterInvalidInput)
	}
	if err := s.counters.Configure(ctx, id, cfg); err != nil {
		return err
	}
	s.logger(ctx, "counter.configured", map[string]any{
		"counterId": id,
		"step":      cfg.Step,
		"maxValue":  cfg.MaxValue,
	})
	return nil
}
