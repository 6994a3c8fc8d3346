package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"finsight-backend/internal/results"
	"finsight-backend/internal/shared/metrics"
	"finsight-backend/internal/shared/telemetry"
)

const maxStderrBytes = 16 << 10

// ProcessRunner executes each request in a fresh child process running
// Serve. The child gets an empty environment and a throwaway working
// directory; the parent enforces the wall clock and output cap.
type ProcessRunner struct {
	// Binary is the sandbox executable, normally built from cmd/finsight-sandbox.
	Binary  string
	Args    []string
	Limits  Limits
	Logger  *telemetry.Logger
	Metrics *metrics.Registry
}

func (r *ProcessRunner) Run(ctx context.Context, req Request) (res results.ExecutionResult, err error) {
	start := time.Now()
	defer func() { observe(r.Metrics, start, err) }()

	if r.Binary == "" {
		return results.ExecutionResult{}, errors.New("sandbox binary not configured")
	}
	limits := r.Limits.withDefaults()
	if err := CheckSource(req.Code); err != nil {
		return results.ExecutionResult{}, err
	}
	input, err := buildInput(req)
	if err != nil {
		return results.ExecutionResult{}, err
	}
	payload, err := json.Marshal(childRequest{
		Code:       req.Code,
		Input:      input,
		MemoryMB:   limits.MemoryMB,
		CPUSeconds: limits.CPUSeconds,
	})
	if err != nil {
		return results.ExecutionResult{}, fmt.Errorf("encode child request: %w", err)
	}

	workDir, err := os.MkdirTemp("", "finsight-sandbox-*")
	if err != nil {
		return results.ExecutionResult{}, fmt.Errorf("sandbox workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: limits.MaxOutputBytes + 4096}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd := exec.CommandContext(runCtx, r.Binary, r.Args...)
	cmd.Env = []string{}
	cmd.Dir = workDir
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return results.ExecutionResult{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return results.ExecutionResult{}, ErrTimeout
	}
	if stdout.overflow {
		return results.ExecutionResult{}, fmt.Errorf("%w: output exceeds %d bytes", ErrResourceExceeded, limits.MaxOutputBytes)
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return results.ExecutionResult{}, fmt.Errorf("start sandbox: %w", runErr)
	}
	if exitErr != nil {
		switch exitErr.ExitCode() {
		case exitMemoryExceeded:
			return results.ExecutionResult{}, fmt.Errorf("%w: memory limit %d MB", ErrResourceExceeded, limits.MemoryMB)
		case exitCPUExceeded:
			return results.ExecutionResult{}, fmt.Errorf("%w: cpu limit %ds", ErrResourceExceeded, limits.CPUSeconds)
		case -1:
			r.Logger.Warn("sandbox.killed", map[string]any{"state": exitErr.String(), "stderr": stderr.String()})
			return results.ExecutionResult{}, fmt.Errorf("%w: sandbox terminated (%s)", ErrResourceExceeded, exitErr.String())
		}
	}

	var resp childResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		r.Logger.Error("sandbox.bad_output", map[string]any{"error": err.Error(), "stderr": stderr.String()})
		return results.ExecutionResult{}, execErrorf("sandbox produced no result")
	}
	if !resp.OK {
		if resp.Kind == kindResource {
			return results.ExecutionResult{}, fmt.Errorf("%w: %s", ErrResourceExceeded, resp.Error)
		}
		return results.ExecutionResult{}, &ExecutionError{Msg: resp.Error}
	}
	return finish(resp.Result, limits)
}

// cappedBuffer keeps at most limit bytes and records whether more arrived.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Len()
	if room <= 0 {
		b.overflow = b.overflow || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.overflow = true
		b.Buffer.Write(p[:room])
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

var _ Runner = (*ProcessRunner)(nil)
