// Package sandbox runs generated analysis code in a restricted Go
// interpreter, either in-process or in a supervised child process.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finsight-backend/internal/results"
	"finsight-backend/internal/shared/metrics"
)

// Persisted error codes for sandbox failures.
const (
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodeResourceExceeded = "EXECUTION_RESOURCE_EXCEEDED"
)

var (
	// ErrTimeout is returned when the code exceeds its wall-clock budget.
	ErrTimeout = errors.New("execution timed out")
	// ErrResourceExceeded is returned for memory, CPU or output overflow.
	ErrResourceExceeded = errors.New("execution resource limit exceeded")
)

// ExecutionError reports code that failed to compile, panicked, returned an
// error or produced a malformed result.
type ExecutionError struct {
	Msg string
}

func (e *ExecutionError) Error() string { return "execution error: " + e.Msg }

func execErrorf(format string, args ...any) error {
	return &ExecutionError{Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode maps a Run error to its persisted code.
func ErrorCode(err error) string {
	var execErr *ExecutionError
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeExecutionTimeout
	case errors.Is(err, ErrResourceExceeded):
		return CodeResourceExceeded
	case errors.As(err, &execErr):
		return CodeExecutionError
	default:
		return ""
	}
}

// DatasetInput is one dataset exposed to the code as input["datasets"][i].
type DatasetInput struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Data []map[string]any `json:"data"`
}

// Request is one execution.
type Request struct {
	Code     string         `json:"code"`
	Datasets []DatasetInput `json:"datasets"`
	Options  map[string]any `json:"options,omitempty"`
}

// Limits bound a single execution.
type Limits struct {
	Timeout           time.Duration
	MemoryMB          int
	CPUSeconds        int
	MaxOutputBytes    int
	MaxVisualizations int
	MaxInsights       int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		Timeout:           30 * time.Second,
		MemoryMB:          256,
		CPUSeconds:        30,
		MaxOutputBytes:    1 << 20,
		MaxVisualizations: results.DefaultMaxVisualizations,
		MaxInsights:       results.DefaultMaxInsights,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.MemoryMB <= 0 {
		l.MemoryMB = d.MemoryMB
	}
	if l.CPUSeconds <= 0 {
		l.CPUSeconds = d.CPUSeconds
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	if l.MaxVisualizations <= 0 {
		l.MaxVisualizations = d.MaxVisualizations
	}
	if l.MaxInsights <= 0 {
		l.MaxInsights = d.MaxInsights
	}
	return l
}

func (l Limits) resultLimits() results.Limits {
	return results.Limits{MaxVisualizations: l.MaxVisualizations, MaxInsights: l.MaxInsights}
}

// Runner executes a Request.
type Runner interface {
	Run(ctx context.Context, req Request) (results.ExecutionResult, error)
}

// buildInput converts the request into the value passed to Analyze. The
// JSON round trip gives the code plain []interface{} and map values.
func buildInput(req Request) (map[string]any, error) {
	raw, err := json.Marshal(map[string]any{
		"datasets": req.Datasets,
		"options":  req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if input["options"] == nil {
		input["options"] = map[string]any{}
	}
	return input, nil
}

// finish validates the raw value returned by Analyze.
func finish(raw any, limits Limits) (results.ExecutionResult, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return results.ExecutionResult{}, execErrorf("result is not serializable: %v", err)
	}
	if len(encoded) > limits.MaxOutputBytes {
		return results.ExecutionResult{}, fmt.Errorf("%w: result is %d bytes", ErrResourceExceeded, len(encoded))
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return results.ExecutionResult{}, execErrorf("result is not serializable: %v", err)
	}
	res, err := results.Normalize(generic, limits.resultLimits())
	if err != nil {
		return results.ExecutionResult{}, &ExecutionError{Msg: err.Error()}
	}
	return res, nil
}

func observe(reg *metrics.Registry, start time.Time, err error) {
	reg.Inc(metrics.SandboxRuns)
	reg.ObserveMs(metrics.SandboxDurationMs, float64(time.Since(start).Milliseconds()))
	if err != nil {
		reg.Inc(metrics.SandboxFailures)
	}
}
