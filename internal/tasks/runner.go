// Package tasks tracks background pipeline stages so that each prompt has at
// most one stage in flight and every stage can be cancelled or drained.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finsight-backend/internal/shared/telemetry"
)

var (
	// ErrAlreadyRunning is returned by Go when the key already has a task.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrShuttingDown is returned by Go after Shutdown has started.
	ErrShuttingDown = errors.New("task runner shutting down")
)

// Func is a unit of background work. Its context is cancelled by Cancel or
// by a forced Shutdown.
type Func func(ctx context.Context) error

type task struct {
	stage   string
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// Runner runs keyed tasks on their own goroutines.
type Runner struct {
	Logger *telemetry.Logger

	mu       sync.Mutex
	inflight map[string]*task
	closed   bool
	wg       sync.WaitGroup
}

// NewRunner returns an empty Runner.
func NewRunner(logger *telemetry.Logger) *Runner {
	return &Runner{Logger: logger, inflight: make(map[string]*task)}
}

// Go starts fn under key. Values from parent (request id, trace span) are
// kept but its cancellation is not: the task outlives the request.
func (r *Runner) Go(parent context.Context, key, stage string, fn Func) error {
	r.mu.Lock()
	if r.inflight == nil {
		r.inflight = make(map[string]*task)
	}
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if existing, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is in %s", ErrAlreadyRunning, key, existing.stage)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := &task{stage: stage, cancel: cancel, done: make(chan struct{}), started: time.Now()}
	r.inflight[key] = t
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, key, t, fn)
	return nil
}

func (r *Runner) run(ctx context.Context, key string, t *task, fn Func) {
	defer r.wg.Done()
	defer func() {
		t.cancel()
		r.mu.Lock()
		if r.inflight[key] == t {
			delete(r.inflight, key)
		}
		r.mu.Unlock()
		close(t.done)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("task.panic", map[string]any{"key": key, "stage": t.stage, "panic": fmt.Sprint(rec)})
		}
	}()

	if err := fn(ctx); err != nil {
		r.Logger.Warn("task.failed", map[string]any{
			"key":         key,
			"stage":       t.stage,
			"error":       err.Error(),
			"duration_ms": time.Since(t.started).Milliseconds(),
		})
	}
}

// Running reports the stage of the task under key, if any.
func (r *Runner) Running(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.inflight[key]
	if !ok {
		return "", false
	}
	return t.stage, true
}

// Cancel cancels the task under key and returns its done channel. The
// channel is nil when no task was running.
func (r *Runner) Cancel(key string) <-chan struct{} {
	r.mu.Lock()
	t, ok := r.inflight[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	t.cancel()
	return t.done
}

// Wait blocks until the task under key finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, key string) error {
	r.mu.Lock()
	t, ok := r.inflight[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks in flight.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Shutdown stops accepting tasks and waits for the running ones. When ctx
// expires first, the remaining tasks are cancelled and awaited.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	for _, t := range r.inflight {
		t.cancel()
	}
	pending := len(r.inflight)
	r.mu.Unlock()
	r.Logger.Warn("tasks.shutdown.forced", map[string]any{"cancelled": pending})
	<-drained
	return ctx.Err()
}
