package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"queryloom/internal/logging"
	"queryloom/internal/types"
)

// =============================================================================
// COOPERATIVE CANCELLATION
// =============================================================================

// Controller carries the cooperative cancellation flag for one request. Nodes
// check the flag at suspension points: before LLM calls, before sandbox
// submissions, before index queries.
type Controller struct {
	cancelled atomic.Bool
	reasonMu  sync.Mutex
	reason    string
}

// NewController returns a fresh, uncancelled controller.
func NewController() *Controller { return &Controller{} }

// Cancel sets the flag. The first reason wins.
func (c *Controller) Cancel(reason string) {
	if c.cancelled.CompareAndSwap(false, true) {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		logging.Runtime("cancellation requested: %s", reason)
	}
}

// IsCancelled reports the flag.
func (c *Controller) IsCancelled() bool { return c.cancelled.Load() }

// Reason returns why the request was cancelled.
func (c *Controller) Reason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// CheckPoint returns a CANCELLED error record if the flag is set, for use at
// suspension points.
func (c *Controller) CheckPoint(source string) (types.PipelineError, bool) {
	if !c.IsCancelled() {
		return types.PipelineError{}, false
	}
	reason := c.Reason()
	if reason == "" {
		reason = "request cancelled"
	}
	return types.NewError(source, types.ErrCancelled, types.SeverityCritical, "%s", reason), true
}

// =============================================================================
// DEADLINE WAITER
// =============================================================================

// Outcome says how a pipeline run terminated.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Waiter races graph completion against the global deadline and the
// cancellation flag, in the order: cancellation, timeout, completion.
type Waiter struct {
	timeout    time.Duration
	controller *Controller
}

// NewWaiter builds a waiter over the controller with the global timeout.
func NewWaiter(timeout time.Duration, controller *Controller) *Waiter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Waiter{timeout: timeout, controller: controller}
}

// Run executes fn with a deadline-bound context and returns the termination
// outcome. On timeout or cancellation the context is cancelled so in-flight
// suspension points unwind; fn's eventual result is discarded.
func (w *Waiter) Run(ctx context.Context, fn func(ctx context.Context) error) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if w.controller.IsCancelled() {
				return OutcomeCancelled, err
			}
			return OutcomeCompleted, err
		case <-ctx.Done():
			cancel()
			// Give fn a moment to observe cancellation and unwind.
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
			if w.controller.IsCancelled() {
				return OutcomeCancelled, ctx.Err()
			}
			return OutcomeTimeout, ctx.Err()
		case <-ticker.C:
			if w.controller.IsCancelled() {
				cancel()
				select {
				case <-done:
				case <-time.After(2 * time.Second):
				}
				return OutcomeCancelled, context.Canceled
			}
		}
	}
}

// SubmissionDeadline computes the absolute deadline for one sandbox
// submission: min(remaining global budget, statement timeout).
func SubmissionDeadline(ctx context.Context, statementTimeoutMS int) time.Duration {
	statement := time.Duration(statementTimeoutMS) * time.Millisecond
	deadline, ok := ctx.Deadline()
	if !ok {
		return statement
	}
	remaining := time.Until(deadline)
	if statement <= 0 || remaining < statement {
		return remaining
	}
	return statement
}
