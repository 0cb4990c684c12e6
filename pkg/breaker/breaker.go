// Package breaker guards a dependency with a failure-rate circuit breaker.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pario-ai/rephrase/pkg/metrics"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Settings configures when the breaker trips and how long it stays open.
type Settings struct {
	// VolumeThreshold is the minimum number of calls in a window before
	// the failure rate is evaluated.
	VolumeThreshold uint32
	// ErrorThresholdPercentage trips the breaker once reached.
	ErrorThresholdPercentage float64
	// RollingWindow is how often closed-state counts are cleared.
	RollingWindow time.Duration
	// ResetTimeout is the open period before a half-open trial call.
	ResetTimeout time.Duration
}

// Breaker is safe for concurrent use and meant to be shared by every caller
// of the guarded dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a closed breaker named name.
func New(name string, s Settings) *Breaker {
	metrics.BreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.RollingWindow,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < s.VolumeThreshold || c.Requests == 0 {
				return false
			}
			rate := float64(c.TotalFailures) * 100 / float64(c.Requests)
			return rate >= s.ErrorThresholdPercentage
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", convert(from), "to", convert(to))
			metrics.BreakerState.WithLabelValues(name).Set(gauge(to))
		},
	})
	return &Breaker{cb: cb}
}

// Execute runs fn unless the breaker is open, or half-open with its trial call
// already in flight. fn's error counts as a failure.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrOpen, b.cb.Name())
	}
	return err
}

// State returns the current position.
func (b *Breaker) State() State {
	return convert(b.cb.State())
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

func convert(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func gauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
