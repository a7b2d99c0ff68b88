package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"notary-agent/internal/domain"
	"notary-agent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerBackend wraps a ModelBackend with circuit breaker
// protection. When the wrapped backend fails repeatedly, the circuit opens
// and subsequent calls fail fast without reaching the API.
type CircuitBreakerBackend struct {
	inner   domain.ModelBackend
	breaker *gobreaker.CircuitBreaker[*domain.ModelResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerBackend wraps inner with a circuit breaker. Zero-valued
// config fields fall back to defaults.
func NewCircuitBreakerBackend(inner domain.ModelBackend, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerBackend {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ModelResponse](gobreaker.Settings{
		Name:        "model:" + inner.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerBackend{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Generate implements domain.ModelBackend. Calls are routed through the
// circuit breaker.
func (b *CircuitBreakerBackend) Generate(ctx context.Context, transcript []domain.Turn, catalogue []domain.ToolDefinition) (*domain.ModelResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.ModelResponse, error) {
		return b.inner.Generate(ctx, transcript, catalogue)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: backend %q circuit open: %v", domain.ErrModelBackend, b.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Name implements domain.ModelBackend.
func (b *CircuitBreakerBackend) Name() string { return b.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (b *CircuitBreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.ModelBackend = (*CircuitBreakerBackend)(nil)
