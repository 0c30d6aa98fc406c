package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatslog/internal/metrics"

	"github.com/sirupsen/logrus"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultMaxFailures   = 5
	defaultOpenTimeout   = 30 * time.Second
	defaultHalfOpenProbe = 1
)

// ErrOpen is matched by errors.Is for every rejected call.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned without invoking the wrapped call while the breaker
// is open or its half-open probes are exhausted.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s, retry in %s", e.Name, e.State, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	Name string
	// MaxFailures is the number of consecutive counted failures that opens the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before letting probes through.
	OpenTimeout time.Duration
	// HalfOpenProbes is the number of successful probes needed to close again.
	HalfOpenProbes int
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
}

type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Rejected            uint64    `json:"rejected"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker stops calling a failing dependency for OpenTimeout once MaxFailures
// consecutive calls fail, then admits HalfOpenProbes trial calls.
type Breaker struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	successes int
	rejected  uint64
	openedAt  time.Time
}

func New(config Config, logger *logrus.Logger) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaultMaxFailures
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaultOpenTimeout
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = defaultHalfOpenProbe
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if logger == nil {
		logger = logrus.New()
	}

	b := &Breaker{
		config: config,
		logger: logger,
		now:    time.Now,
	}
	b.publishState()
	return b
}

// Execute runs fn unless the breaker rejects it. A context cancelled by the
// caller never counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(ctx, err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.OpenTimeout {
			return b.reject(b.config.OpenTimeout - elapsed)
		}
		b.transition(StateHalfOpen)
		b.probes = 1
		return nil
	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenProbes {
			return b.reject(0)
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) reject(retryAfter time.Duration) error {
	b.rejected++
	metrics.IncrementCounter("circuit_breaker_rejections_total", map[string]string{"breaker": b.config.Name},
		"Calls rejected by an open circuit breaker")
	return &OpenError{Name: b.config.Name, State: b.state, RetryAfter: retryAfter}
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		if b.state == StateHalfOpen && b.probes > 0 {
			b.probes--
		}
		return
	}
	failed := err != nil && b.counts(err)

	switch b.state {
	case StateHalfOpen:
		if failed {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.config.HalfOpenProbes {
			b.transition(StateClosed)
		}
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.MaxFailures {
			b.open()
		}
	}
}

func (b *Breaker) counts(err error) bool {
	if b.config.IsFailure == nil {
		return true
	}
	return b.config.IsFailure(err)
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.probes = 0
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}

	entry := b.logger.WithFields(logrus.Fields{
		"breaker": b.config.Name,
		"from":    from.String(),
		"to":      to.String(),
	})
	if to == StateOpen {
		entry.WithField("failures", b.failures).Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker state changed")
	}
	b.publishState()
}

func (b *Breaker) publishState() {
	metrics.SetGauge("circuit_breaker_state", float64(b.state), map[string]string{"breaker": b.config.Name},
		"Circuit breaker state (0 closed, 1 open, 2 half open)")
}

// State reports the current position without advancing an expired open state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := Stats{
		Name:                b.config.Name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		Rejected:            b.rejected,
	}
	if b.state != StateClosed {
		stats.OpenedAt = b.openedAt
	}
	return stats
}
