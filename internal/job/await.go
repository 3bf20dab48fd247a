// Package job drives asynchronous remote work (file batches, runs) to a
// terminal state by polling.
package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Well-known statuses reported by the remote service.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCancelling = "cancelling"
	StatusCompleted  = "completed"
)

const (
	// DefaultInterval is the fixed delay between two polls.
	DefaultInterval = 1400 * time.Millisecond
	// DefaultTimeout bounds a single wait.
	DefaultTimeout = 10 * time.Minute
)

var (
	// ErrJobFailed matches every *FailedError.
	ErrJobFailed = errors.New("job failed")
	// ErrTimeout is returned when a wait exceeds Policy.Timeout. The remote
	// job keeps running; only the local wait stops.
	ErrTimeout = errors.New("timed out waiting for job")
)

// FailedError reports a terminal status other than the success status.
type FailedError struct {
	Kind   string
	ID     string
	Status string
	Detail string
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("%s %s ended with status %q", e.Kind, e.ID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FailedError) Is(target error) bool {
	return target == ErrJobFailed
}

// State is what a poll observes about a job.
type State struct {
	ID     string
	Status string
	Detail string
}

// Policy configures one kind of wait.
type Policy struct {
	// Kind names the job in errors and logs ("file_batch", "run").
	Kind string
	// Pending lists non-terminal statuses. Anything else is terminal.
	Pending []string
	// Success is the only terminal status treated as success.
	Success string
	// Interval is the constant delay between polls.
	Interval time.Duration
	// Timeout bounds the whole wait; zero waits until ctx is done.
	Timeout time.Duration
}

// BatchPolicy waits for a vector store file batch.
func BatchPolicy() Policy {
	return Policy{
		Kind:     "file_batch",
		Pending:  []string{StatusQueued, StatusInProgress},
		Success:  StatusCompleted,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// RunPolicy waits for an assistant run.
func RunPolicy() Policy {
	return Policy{
		Kind:     "run",
		Pending:  []string{StatusQueued, StatusInProgress, StatusCancelling},
		Success:  StatusCompleted,
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// IsPending reports whether status is non-terminal under p.
func (p Policy) IsPending(status string) bool {
	return slices.Contains(p.Pending, status)
}

// Observer is notified after every poll. It may be nil.
type Observer func(kind string, s State)

// Await polls until the job reaches a terminal status. The first poll is
// issued immediately, then one poll per Interval. It returns the last polled
// value and the number of polls issued.
//
// Poll errors are returned unchanged and end the wait; they are not retried.
func Await[T any](ctx context.Context, p Policy, poll func(context.Context) (T, error), state func(T) State, observe Observer) (T, int, error) {
	var zero T
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	success := p.Success
	if success == "" {
		success = StatusCompleted
	}

	waitCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	polls := 0
	for {
		v, err := poll(waitCtx)
		if err != nil {
			if cerr := waitErr(ctx, waitCtx, p); cerr != nil {
				return zero, polls, cerr
			}
			return zero, polls, err
		}
		polls++

		s := state(v)
		if observe != nil {
			observe(p.Kind, s)
		}

		if !p.IsPending(s.Status) {
			if s.Status == success {
				return v, polls, nil
			}
			return v, polls, &FailedError{Kind: p.Kind, ID: s.ID, Status: s.Status, Detail: s.Detail}
		}

		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return zero, polls, waitErr(ctx, waitCtx, p)
		case <-timer.C:
		}
	}
}

// waitErr maps a finished wait context to ErrTimeout when our own deadline
// fired, or to the caller's context error otherwise.
func waitErr(parent, waitCtx context.Context, p Policy) error {
	if waitCtx.Err() == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%s after %s: %w", p.Kind, p.Timeout, ErrTimeout)
}
