package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CMarchell/autoclips/internal/storage"
)

type recordedAttempt struct {
	outcome storage.Outcome
	detail  string
}

type mockRecorder struct {
	mu       sync.Mutex
	next     int64
	begun    int
	finished map[int64]recordedAttempt
	beginErr error
	finishFn func(ctx context.Context) error
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{finished: map[int64]recordedAttempt{}}
}

func (m *mockRecorder) Begin(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return 0, m.beginErr
	}
	m.next++
	m.begun++
	return m.next, nil
}

func (m *mockRecorder) Finish(ctx context.Context, id int64, outcome storage.Outcome, detail string) error {
	if m.finishFn != nil {
		if err := m.finishFn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[id] = recordedAttempt{outcome: outcome, detail: detail}
	return nil
}

func (m *mockRecorder) outcomes() []storage.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Outcome, 0, len(m.finished))
	for id := int64(1); id <= m.next; id++ {
		if a, ok := m.finished[id]; ok {
			out = append(out, a.outcome)
		}
	}
	return out
}

func newTestExecutor(p Policy) (*Executor, *[]time.Duration) {
	e := New(p)
	var delays []time.Duration
	e.SetSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	})
	return e, &delays
}

func TestRunSucceedsFirstTry(t *testing.T) {
	e, delays := newTestExecutor(Policy{})
	rec := newMockRecorder()

	err := e.Run(context.Background(), Task{
		Stage:    "script_generation",
		Recorder: rec,
		Call:     func(ctx context.Context) error { return nil },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.outcomes(); len(got) != 1 || got[0] != storage.OutcomeSuccess {
		t.Errorf("outcomes = %v, want [success]", got)
	}
	if len(*delays) != 0 {
		t.Errorf("unexpected sleeps: %v", *delays)
	}
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	e, delays := newTestExecutor(Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	rec := newMockRecorder()

	calls := 0
	err := e.Run(context.Background(), Task{
		Stage:    "voice_synthesis",
		Recorder: rec,
		Call: func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return Transient(errors.New("HTTP 429"))
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []storage.Outcome{storage.OutcomeTransientFailure, storage.OutcomeTransientFailure, storage.OutcomeSuccess}
	got := rec.outcomes()
	if len(got) != len(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if len(*delays) != 2 {
		t.Fatalf("sleeps = %v, want 2", *delays)
	}
	// Equal jitter keeps each delay within [bound/2, bound].
	bounds := []time.Duration{time.Second, 2 * time.Second}
	for i, d := range *delays {
		if d < bounds[i]/2 || d > bounds[i] {
			t.Errorf("delay[%d] = %v, want within [%v, %v]", i, d, bounds[i]/2, bounds[i])
		}
	}
}

func TestRunFatalIsNotRetried(t *testing.T) {
	e, _ := newTestExecutor(Policy{})
	rec := newMockRecorder()

	calls := 0
	err := e.Run(context.Background(), Task{
		Stage:    "script_generation",
		Recorder: rec,
		Call: func(ctx context.Context) error {
			calls++
			return Fatal(errors.New("HTTP 401"))
		},
	})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want FatalError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if got := rec.outcomes(); len(got) != 1 || got[0] != storage.OutcomeFatalFailure {
		t.Errorf("outcomes = %v, want [fatal_failure]", got)
	}
}

func TestRunUnclassifiedErrorIsFatal(t *testing.T) {
	e, _ := newTestExecutor(Policy{})
	rec := newMockRecorder()

	err := e.Run(context.Background(), Task{
		Stage:    "assembly",
		Recorder: rec,
		Call:     func(ctx context.Context) error { return errors.New("ffmpeg exited 1") },
	})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Errorf("error = %v, want FatalError", err)
	}
}

func TestRunExhausted(t *testing.T) {
	e, delays := newTestExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 2 * time.Second})
	rec := newMockRecorder()

	err := e.Run(context.Background(), Task{
		Stage:    "footage_acquisition",
		Recorder: rec,
		Call:     func(ctx context.Context) error { return Transient(errors.New("HTTP 503")) },
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Errorf("ExhaustedError = %+v", exhausted)
	}
	if rec.begun != 3 || len(rec.outcomes()) != 3 {
		t.Errorf("begun=%d finished=%d, want 3/3", rec.begun, len(rec.outcomes()))
	}
	for _, d := range *delays {
		if d > 2*time.Second {
			t.Errorf("delay %v exceeds MaxDelay", d)
		}
	}
}

func TestRunCustomClassifier(t *testing.T) {
	e, _ := newTestExecutor(Policy{MaxAttempts: 2})
	rec := newMockRecorder()

	quota := errors.New("quota exceeded")
	calls := 0
	err := e.Run(context.Background(), Task{
		Stage:    "voice_synthesis",
		Recorder: rec,
		Classify: func(err error) bool { return !errors.Is(err, quota) },
		Call: func(ctx context.Context) error {
			calls++
			return quota
		},
	})
	if !errors.Is(err, quota) {
		t.Fatalf("error = %v, want quota", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunPerAttemptTimeout(t *testing.T) {
	e, _ := newTestExecutor(Policy{MaxAttempts: 2, Timeout: 20 * time.Millisecond})
	rec := newMockRecorder()

	calls := 0
	err := e.Run(context.Background(), Task{
		Stage:    "script_generation",
		Recorder: rec,
		Call: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return ctx.Err()
			}
			// Fresh budget on the second attempt.
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("second attempt has no deadline")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.outcomes(); len(got) != 2 || got[0] != storage.OutcomeTransientFailure {
		t.Errorf("outcomes = %v", got)
	}
}

func TestRunCancelledClosesAttempt(t *testing.T) {
	e, _ := newTestExecutor(Policy{})
	rec := newMockRecorder()
	rec.finishFn = func(ctx context.Context) error {
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Run(ctx, Task{
		Stage:    "voice_synthesis",
		Recorder: rec,
		Call: func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	got := rec.outcomes()
	if len(got) != 1 || got[0] != storage.OutcomeTransientFailure {
		t.Errorf("cancelled attempt not closed: %v", got)
	}
}

func TestRunBeginError(t *testing.T) {
	e, _ := newTestExecutor(Policy{})
	rec := newMockRecorder()
	rec.beginErr = storage.ErrProjectBusy

	called := false
	err := e.Run(context.Background(), Task{
		Stage:    "assembly",
		Recorder: rec,
		Call:     func(ctx context.Context) error { called = true; return nil },
	})
	if !errors.Is(err, storage.ErrProjectBusy) {
		t.Errorf("error = %v, want ErrProjectBusy", err)
	}
	if called {
		t.Error("collaborator invoked although Begin failed")
	}
}

func TestRetryAfterHint(t *testing.T) {
	e, delays := newTestExecutor(Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 30 * time.Second})
	rec := newMockRecorder()

	calls := 0
	e.Run(context.Background(), Task{
		Stage:    "footage_acquisition",
		Recorder: rec,
		Call: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return &TransientError{Err: errors.New("429"), RetryAfter: 10 * time.Second}
			}
			return nil
		},
	})
	if len(*delays) != 1 || (*delays)[0] != 10*time.Second {
		t.Errorf("delays = %v, want [10s]", *delays)
	}
}

func TestBackoffCaps(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Transient(errors.New("x")), true},
		{Fatal(errors.New("x")), false},
		{context.DeadlineExceeded, true},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := DefaultClassifier(c.err); got != c.want {
			t.Errorf("DefaultClassifier(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("ParseRetryAfter(7) = %v", got)
	}
	for _, v := range []string{"", "-1", "Wed, 21 Oct 2015 07:28:00 GMT"} {
		if got := ParseRetryAfter(v); got != 0 {
			t.Errorf("ParseRetryAfter(%q) = %v, want 0", v, got)
		}
	}
}
