package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"time"
)

const heapSample = "/memory/classes/heap/objects:bytes"

// Serve is the child side of ProcessRunner: it reads one request from in,
// evaluates it and writes one response to out. The return value is the
// process exit code.
func Serve(in io.Reader, out io.Writer) int {
	var req childRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		writeResponse(out, childResponse{Kind: kindExecution, Error: "bad request: " + err.Error()})
		return exitFailure
	}

	var mu sync.Mutex
	emit := func(resp childResponse, code int) {
		mu.Lock()
		writeResponse(out, resp)
		os.Exit(code)
	}

	if req.MemoryMB > 0 {
		limit := int64(req.MemoryMB) << 20
		debug.SetMemoryLimit(limit)
		go watchHeap(limit, func() {
			emit(childResponse{Kind: kindResource, Error: "memory limit exceeded"}, exitMemoryExceeded)
		})
	}
	if req.CPUSeconds > 0 {
		limitCPU(req.CPUSeconds, func() {
			emit(childResponse{Kind: kindResource, Error: "cpu limit exceeded"}, exitCPUExceeded)
		})
	}

	result, err := evaluate(context.Background(), req.Code, req.Input)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		writeResponse(out, childResponse{Kind: kindExecution, Error: unwrapExec(err)})
		return exitOK
	}
	if _, err := json.Marshal(result); err != nil {
		writeResponse(out, childResponse{Kind: kindExecution, Error: "result is not serializable: " + err.Error()})
		return exitOK
	}
	writeResponse(out, childResponse{OK: true, Result: result})
	return exitOK
}

func watchHeap(limit int64, onExceeded func()) {
	sample := []metrics.Sample{{Name: heapSample}}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		metrics.Read(sample)
		if sample[0].Value.Kind() == metrics.KindUint64 && int64(sample[0].Value.Uint64()) > limit {
			onExceeded()
			return
		}
	}
}

func unwrapExec(err error) string {
	if e, ok := err.(*ExecutionError); ok {
		return e.Msg
	}
	return err.Error()
}

func writeResponse(out io.Writer, resp childResponse) {
	_ = json.NewEncoder(out).Encode(resp)
}
