// Package executor runs one stage collaborator call with a per-attempt
// timeout and bounded exponential backoff.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/CMarchell/autoclips/internal/storage"
)

// Policy bounds retries of a single stage.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Timeout:     5 * time.Minute,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(d.MaxDelay, p.BaseDelay)
	}
	return p
}

// Backoff returns the upper bound of the delay after the given failed
// attempt: BaseDelay doubled per attempt and capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// Recorder persists attempts. Begin is called before every attempt and
// Finish after it, with the outcome already classified. On success, Finish
// is where the caller commits the stage result.
type Recorder interface {
	Begin(ctx context.Context) (int64, error)
	Finish(ctx context.Context, id int64, outcome storage.Outcome, detail string) error
}

// Task is one stage invocation.
type Task struct {
	Stage string
	// Classify defaults to DefaultClassifier.
	Classify Classifier
	Recorder Recorder
	Call     func(ctx context.Context) error
}

// Executor applies a Policy to Tasks.
type Executor struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
	logger *slog.Logger
}

// New creates an Executor. Zero fields of policy take their defaults.
func New(policy Policy) *Executor {
	return &Executor{
		policy: policy.normalized(),
		sleep:  sleepContext,
		jitter: equalJitter,
		logger: slog.Default(),
	}
}

// SetSleep replaces the backoff sleeper. Tests use it to skip real delays.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Run executes t until it succeeds, fails fatally, is cancelled, or runs out
// of attempts. Every attempt is recorded before Run returns.
func (e *Executor) Run(ctx context.Context, t Task) error {
	classify := t.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		id, err := t.Recorder.Begin(ctx)
		if err != nil {
			return fmt.Errorf("recording attempt: %w", err)
		}

		start := time.Now()
		callErr := e.call(ctx, t.Call)
		stageAttemptDuration.WithLabelValues(t.Stage).Observe(time.Since(start).Seconds())

		if callErr == nil {
			if err := t.Recorder.Finish(ctx, id, storage.OutcomeSuccess, ""); err != nil {
				return fmt.Errorf("committing %s: %w", t.Stage, err)
			}
			stageAttemptsTotal.WithLabelValues(t.Stage, string(storage.OutcomeSuccess)).Inc()
			return nil
		}

		// The caller went away. Close the attempt on a detached context so it
		// is not left open.
		if ctx.Err() != nil {
			e.finish(context.WithoutCancel(ctx), t, id, storage.OutcomeTransientFailure, "cancelled: "+Detail(callErr))
			return ctx.Err()
		}

		if !classify(callErr) {
			e.finish(ctx, t, id, storage.OutcomeFatalFailure, Detail(callErr))
			var fatal *FatalError
			if !errors.As(callErr, &fatal) {
				callErr = &FatalError{Err: callErr}
			}
			return callErr
		}

		e.finish(ctx, t, id, storage.OutcomeTransientFailure, Detail(callErr))
		lastErr = callErr
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.jitter(e.policy.Backoff(attempt))
		if hint := retryAfter(callErr); hint > delay {
			delay = min(hint, e.policy.MaxDelay)
		}
		e.logger.Warn("stage attempt failed, retrying",
			"stage", t.Stage, "attempt", attempt, "delay", delay, "error", callErr)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	stageExhaustedTotal.WithLabelValues(t.Stage).Inc()
	return &ExhaustedError{Stage: t.Stage, Attempts: e.policy.MaxAttempts, Last: lastErr}
}

func (e *Executor) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = &FatalError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return fn(ctx)
}

func (e *Executor) finish(ctx context.Context, t Task, id int64, outcome storage.Outcome, detail string) {
	stageAttemptsTotal.WithLabelValues(t.Stage, string(outcome)).Inc()
	if err := t.Recorder.Finish(ctx, id, outcome, detail); err != nil {
		e.logger.Error("recording attempt outcome", "stage", t.Stage, "attempt_id", id, "error", err)
	}
}

// equalJitter picks a delay uniformly in [d/2, d].
func equalJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
