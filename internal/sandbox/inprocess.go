package sandbox

import (
	"context"
	"errors"
	"time"

	"finsight-backend/internal/results"
	"finsight-backend/internal/shared/metrics"
)

// InProcessRunner interprets code inside the current process. It enforces
// only the wall-clock timeout: a runaway loop keeps its goroutine alive
// after Run returns. Use it for development and tests.
type InProcessRunner struct {
	Limits  Limits
	Metrics *metrics.Registry
}

func (r *InProcessRunner) Run(ctx context.Context, req Request) (res results.ExecutionResult, err error) {
	start := time.Now()
	defer func() { observe(r.Metrics, start, err) }()

	limits := r.Limits.withDefaults()
	if err := CheckSource(req.Code); err != nil {
		return results.ExecutionResult{}, err
	}
	input, err := buildInput(req)
	if err != nil {
		return results.ExecutionResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	type outcome struct {
		out map[string]interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := evaluate(runCtx, req.Code, input)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return results.ExecutionResult{}, r.classify(ctx, o.err)
		}
		return finish(o.out, limits)
	case <-runCtx.Done():
		return results.ExecutionResult{}, r.classify(ctx, runCtx.Err())
	}
}

func (r *InProcessRunner) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

var _ Runner = (*InProcessRunner)(nil)
