package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/tableside/internal/clock"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
)

// ErrCircuitOpen is returned without calling the provider while the circuit is open.
var ErrCircuitOpen = fmt.Errorf("circuit_open: %w", pushdomain.ErrProviderUnavailable)

var errProviderPanic = errors.New("provider_panic")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker wraps a provider and stops calling it after maxFailures consecutive
// provider failures. Once resetTimeout has passed a single trial call is let
// through; its outcome closes or reopens the circuit.
//
// Rejected tokens are a property of the token, not the provider, and never
// count as failures.
type Breaker struct {
	provider     pushdomain.Provider
	maxFailures  int
	resetTimeout time.Duration
	clock        clock.Clock
	metrics      *metrics.RealtimeMetrics

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	trialActive bool
}

func NewBreaker(provider pushdomain.Provider, maxFailures int, resetTimeout time.Duration, clk clock.Clock, m *metrics.RealtimeMetrics) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Breaker{
		provider:     provider,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		clock:        clk,
		metrics:      m,
	}
}

func (b *Breaker) Name() string { return b.provider.Name() }

func (b *Breaker) Send(ctx context.Context, token string, n pushdomain.Notification) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	// A panicking provider is recorded as a failure before the panic
	// continues, so a half-open trial is always released.
	returned := false
	defer func() {
		if !returned {
			b.record(trial, errProviderPanic)
		}
	}()
	sendErr := b.provider.Send(ctx, token, n)
	returned = true
	b.record(trial, sendErr)
	return sendErr
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.trialActive = true
		return true, nil
	case StateHalfOpen:
		if b.trialActive {
			return false, ErrCircuitOpen
		}
		b.trialActive = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialActive = false
	}

	if !countsAsFailure(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if trial || b.failures >= b.maxFailures {
		b.openedAt = b.clock.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(state BreakerState) {
	b.state = state
	b.metrics.SetBreakerState(int(state))
}

func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, pushdomain.ErrTokenInvalid) {
		return false
	}
	// A cancelled caller says nothing about provider health.
	return !errors.Is(err, context.Canceled)
}
