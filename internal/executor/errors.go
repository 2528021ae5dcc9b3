package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrExhausted is matched by errors.Is when the attempt ceiling was reached
// without success.
var ErrExhausted = errors.New("retries exhausted")

// TransientError marks a failure that may succeed when retried.
type TransientError struct {
	Err error
	// RetryAfter is a server-provided hint. Zero means none.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// ExhaustedError reports the last transient failure after the final attempt.
type ExhaustedError struct {
	Stage    string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed, last error: %v", e.Stage, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats a FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// DefaultClassifier retries TransientError, per-attempt deadlines and
// network errors. Everything else, including FatalError, is fatal.
func DefaultClassifier(err error) bool {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Detail returns the message of err without the classification prefix.
func Detail(err error) string {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("%d attempts failed, last error: %s", exhausted.Attempts, Detail(exhausted.Last))
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Err.Error()
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.Err.Error()
	}
	return err.Error()
}

func retryAfter(err error) time.Duration {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given in seconds. HTTP dates
// and malformed values yield zero.
func ParseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
