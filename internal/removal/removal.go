// Package removal issues deletion requests for a removal set against an
// external collection and reports a per-id outcome.
package removal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/bakkerme/culler/internal/core"
	"github.com/bakkerme/culler/internal/retry"
)

const (
	DefaultConcurrency = 4
	maxConcurrency     = 64

	reasonProtected = "protected survivor"
)

// Recorder observes removal outcomes, e.g. a metrics collector.
type Recorder interface {
	ObserveRemoval(status core.OutcomeStatus, d time.Duration)
}

// BreakerConfig configures the circuit breaker placed in front of the remover.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a breaker that opens after most of at least 5 requests fail.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type Config struct {
	Concurrency int
	Retry       retry.Config
	// Breaker is optional; nil disables the circuit breaker.
	Breaker *BreakerConfig
}

type Executor struct {
	remover     core.Remover
	concurrency int
	retry       retry.Config
	breaker     *BreakerConfig
	recorder    Recorder
}

type Option func(*Executor)

func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

func NewExecutor(remover core.Remover, cfg Config, opts ...Option) (*Executor, error) {
	if remover == nil {
		return nil, errors.New("remover is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}
	e := &Executor{
		remover:     remover,
		concurrency: concurrency,
		retry:       cfg.Retry,
	}
	if cfg.Breaker != nil {
		breaker := *cfg.Breaker
		e.breaker = &breaker
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func newBreaker(config BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("removal circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// An already-absent resource says nothing about the health of the deletion API.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, core.ErrNotFound)
		},
	})
}

// Remove issues one deletion request per id in set, with at most the configured
// number in flight, and returns one outcome per id in set order once every
// request has completed. Ids in protected are never dispatched.
//
// Requests already dispatched run to completion even if ctx is cancelled;
// ids not yet dispatched at cancellation are reported failed.
//
// Each call gets its own circuit breaker, so a breaker tripped by one batch
// never rejects requests of the next.
func (e *Executor) Remove(ctx context.Context, set core.RemovalSet, protected ...string) []core.RemovalOutcome {
	logger := core.LoggerFromContext(ctx)
	ids := set.IDs()
	outcomes := make([]core.RemovalOutcome, len(ids))
	if len(ids) == 0 {
		return outcomes
	}

	var breaker *gobreaker.CircuitBreaker
	if e.breaker != nil {
		breaker = newBreaker(*e.breaker)
	}

	guard := make(map[string]struct{}, len(protected))
	for _, id := range protected {
		guard[id] = struct{}{}
	}

	var eg errgroup.Group
	eg.SetLimit(e.concurrency)

	for i, id := range ids {
		if _, ok := guard[id]; ok {
			logger.Error("refusing to remove protected survivor", "id", id)
			outcomes[i] = core.RemovalOutcome{ID: id, Status: core.OutcomeFailed, Reason: reasonProtected}
			continue
		}
		if err := ctx.Err(); err != nil {
			outcomes[i] = notDispatched(id, err)
			continue
		}
		eg.Go(func() error {
			// Go may have blocked on the limit; re-check before issuing the request.
			if err := ctx.Err(); err != nil {
				outcomes[i] = notDispatched(id, err)
				return nil
			}
			outcomes[i] = e.removeOne(ctx, breaker, id)
			return nil
		})
	}
	_ = eg.Wait()

	for _, o := range outcomes {
		switch o.Status {
		case core.OutcomeFailed:
			logger.Warn("removal failed", "id", o.ID, "reason", o.Reason, "attempts", o.Attempts)
		case core.OutcomeSkipped:
			logger.Info("resource already absent", "id", o.ID)
		default:
			logger.Debug("resource removed", "id", o.ID, "attempts", o.Attempts)
		}
	}
	return outcomes
}

func (e *Executor) removeOne(ctx context.Context, breaker *gobreaker.CircuitBreaker, id string) core.RemovalOutcome {
	start := time.Now()
	reqCtx := context.WithoutCancel(ctx)
	attempts := 0
	var lastErr error

	// Backoff runs on reqCtx so a cancellation between attempts ends the loop
	// with the last request error rather than replacing it.
	err := retry.Do(reqCtx, e.retry, func() error {
		if lastErr != nil {
			if cause := ctx.Err(); cause != nil {
				return retry.Permanent(fmt.Errorf("%w (retry abandoned: %v)", lastErr, cause))
			}
		}
		attempts++
		err := e.call(reqCtx, breaker, id)
		if err == nil || !transient(err) {
			return retry.Permanent(err)
		}
		lastErr = err
		return err
	})

	outcome := core.RemovalOutcome{ID: id, Attempts: attempts}
	switch {
	case err == nil:
		outcome.Status = core.OutcomeSucceeded
	case errors.Is(err, core.ErrNotFound):
		outcome.Status = core.OutcomeSkipped
		outcome.Reason = "not found"
	default:
		outcome.Status = core.OutcomeFailed
		outcome.Reason = err.Error()
	}
	if e.recorder != nil {
		e.recorder.ObserveRemoval(outcome.Status, time.Since(start))
	}
	return outcome
}

func (e *Executor) call(ctx context.Context, breaker *gobreaker.CircuitBreaker, id string) error {
	if breaker == nil {
		return e.remover.Remove(ctx, id)
	}
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.remover.Remove(ctx, id)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return err
}

func transient(err error) bool {
	switch {
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrPermissionDenied),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

func notDispatched(id string, err error) core.RemovalOutcome {
	return core.RemovalOutcome{
		ID:     id,
		Status: core.OutcomeFailed,
		Reason: fmt.Sprintf("not dispatched: %v", err),
	}
}
