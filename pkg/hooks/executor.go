package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/moai-flow/swarm/pkg/log"
)

// retryBackoff is the fixed delay between hook retry attempts
const retryBackoff = 100 * time.Millisecond

// Fire dispatches an event to every matching hook, in dependency order,
// and returns one Result per hook that was attempted. Hooks whose
// predicates reject the context are skipped silently.
//
// Under graceful degradation (the default) a failing hook never aborts
// dispatch; otherwise dispatch halts after the first exhausted hook and
// its error is returned alongside the partial results.
func (r *Registry) Fire(ctx context.Context, event string, hc *Context) ([]Result, error) {
	if hc == nil {
		hc = NewContext(event, nil)
	}

	var results []Result
	for _, h := range r.dispatchOrder(event) {
		if !r.predicatesPass(h, hc) {
			continue
		}

		res := r.runWithRetries(ctx, h, hc)
		results = append(results, res)

		if !res.Success && !r.opts.GracefulDegradation {
			return results, fmt.Errorf("hook %q failed: %w", h.Name, res.Err)
		}
	}
	return results, nil
}

// AsyncHandle tracks a dispatch started by FireAsync
type AsyncHandle struct {
	done    chan struct{}
	results []Result
	err     error
}

// Wait blocks until the dispatch completes and returns its results
func (h *AsyncHandle) Wait() ([]Result, error) {
	<-h.done
	return h.results, h.err
}

// Done returns a channel closed when the dispatch completes
func (h *AsyncHandle) Done() <-chan struct{} {
	return h.done
}

// FireAsync dispatches an event on a background goroutine and returns a
// handle immediately. Hook ordering guarantees are identical to Fire.
func (r *Registry) FireAsync(ctx context.Context, event string, hc *Context) *AsyncHandle {
	handle := &AsyncHandle{done: make(chan struct{})}
	go func() {
		defer close(handle.done)
		handle.results, handle.err = r.Fire(ctx, event, hc)
	}()
	return handle
}

func (r *Registry) predicatesPass(h *regHook, hc *Context) bool {
	for _, p := range h.Predicates {
		if !p(hc) {
			return false
		}
	}
	return true
}

// runWithRetries executes one hook with its timeout and bounded retries.
// Retries apply to every failed attempt, in graceful mode or not; the
// degradation flag only decides whether dispatch continues afterwards.
func (r *Registry) runWithRetries(ctx context.Context, h *regHook, hc *Context) Result {
	retries := h.MaxRetries
	if retries < 0 {
		retries = r.opts.MaxRetries
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= retries; attempt++ {
		attempts++
		lastErr = r.runOnce(ctx, h, hc)
		if lastErr == nil {
			return Result{
				Name:     h.Name,
				Success:  true,
				Duration: time.Since(start),
				Attempts: attempts,
			}
		}
		if attempt < retries {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = retries // bail out
			}
		}
	}

	lg := log.WithComponent("hooks")
	lg.Warn().
		Str("hook", h.Name).
		Str("event", h.Event).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("hook failed")

	return Result{
		Name:     h.Name,
		Success:  false,
		Err:      lastErr,
		Duration: time.Since(start),
		Attempts: attempts,
	}
}

// runOnce executes a single attempt. Sync hooks run inline; async hooks
// run on the shared pool bounded by the concurrency limit. Either way the
// attempt is bounded by the hook's timeout, and a callable that ignores
// its context is abandoned, not killed.
func (r *Registry) runOnce(ctx context.Context, h *regHook, hc *Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		if h.Executor == ExecutorAsync {
			timeout = r.opts.DefaultAsyncTimeout
		} else {
			timeout = r.opts.DefaultSyncTimeout
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if h.Executor == ExecutorAsync {
		if err := r.sem.Acquire(runCtx, 1); err != nil {
			return fmt.Errorf("hooks: async pool: %w", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		if h.Executor == ExecutorAsync {
			defer r.sem.Release(1)
		}
		done <- h.Fn(runCtx, hc)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		return fmt.Errorf("hooks: %q timed out after %v: %w", h.Name, timeout, runCtx.Err())
	}
}
