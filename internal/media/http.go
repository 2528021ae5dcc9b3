// Package media adapts stock footage search, speech synthesis and video
// rendering services to the pipeline collaborator interfaces.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/executor"
)

// StatusError is a non-success HTTP response from an upstream service.
type StatusError struct {
	Service    string
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Code, e.Body)
}

// Temporary reports whether the service may succeed on a later attempt.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// classify wraps a StatusError as transient or fatal for the executor.
func classify(e *StatusError) error {
	if e.Temporary() {
		return &executor.TransientError{Err: e, RetryAfter: e.RetryAfter}
	}
	return executor.Fatal(e)
}

func newStatusError(service string, resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Service:    service,
		Code:       resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
		RetryAfter: executor.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// do sends req and returns the response when it is 200 OK. The caller owns
// the returned body.
func do(ctx context.Context, client *http.Client, service string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s request: %w", service, ctx.Err())
		}
		return nil, executor.Transient(fmt.Errorf("%s request: %w", service, err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classify(newStatusError(service, resp))
	}
	return resp, nil
}
