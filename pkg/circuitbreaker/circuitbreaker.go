// Package circuitbreaker guards calls to external dependencies so a failing
// provider is rejected fast instead of holding request goroutines on timeouts.
//
// States:
//   - Closed: calls pass through.
//   - Open: calls fail immediately with ErrUnavailable.
//   - Half-Open: a limited number of trial calls decide whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

// ErrUnavailable is returned when the breaker rejects a call without running it.
var ErrUnavailable = errors.New("circuit breaker open")

// Settings tunes the breaker.
type Settings struct {
	MaxRequests  uint32        // trial calls allowed while half-open
	Interval     time.Duration // closed-state counter reset period
	Timeout      time.Duration // time spent open before probing
	FailureRatio float64       // failures/requests ratio that trips the breaker
	MinRequests  uint32        // requests needed before the ratio is considered
	CallTimeout  time.Duration // per-call deadline applied to ctx, 0 disables
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
		CallTimeout:  10 * time.Second,
	}
}

// Options customise failure classification and state observation.
type Options struct {
	Logger *logger.Logger
	// IsFailure decides whether an error counts against the breaker. Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called after every transition.
	OnStateChange func(name string, to gobreaker.State)
}

// Breaker wraps gobreaker with a per-call timeout and logging.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker[struct{}]
	name        string
	callTimeout time.Duration
	isFailure   func(error) bool
}

// New creates a breaker with default settings.
func New(name string, opts Options) *Breaker {
	return NewWithSettings(name, DefaultSettings(), opts)
}

// NewWithSettings creates a breaker with custom settings. Zero fields fall back to defaults.
func NewWithSettings(name string, s Settings, opts Options) *Breaker {
	s = withDefaults(s)
	isFailure := opts.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	logg := opts.Logger

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logg != nil {
				ctx := logg.WithFields(context.Background(), map[string]any{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
				if to == gobreaker.StateOpen {
					logg.Warn(ctx, "circuit breaker opened")
				} else {
					logg.Info(ctx, "circuit breaker state changed")
				}
			}
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, to)
			}
		},
	})

	return &Breaker{cb: cb, name: name, callTimeout: s.CallTimeout, isFailure: isFailure}
}

// Execute runs fn under the breaker. Errors that IsFailure rejects are returned
// unchanged but recorded as successes.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	var callErr error
	_, cbErr := b.cb.Execute(func() (struct{}, error) {
		callErr = fn(callCtx)
		if callErr != nil && b.isFailure(callErr) {
			return struct{}{}, callErr
		}
		return struct{}{}, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrUnavailable, cbErr)
	}
	return callErr
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

func withDefaults(s Settings) Settings {
	d := DefaultSettings()
	if s.MaxRequests == 0 {
		s.MaxRequests = d.MaxRequests
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = d.FailureRatio
	}
	if s.MinRequests == 0 {
		s.MinRequests = d.MinRequests
	}
	return s
}
