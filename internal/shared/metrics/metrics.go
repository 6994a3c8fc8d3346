package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Counter names exported by the pipeline.
const (
	PromptsSubmitted  = "prompts_submitted_total"
	PromptsGenerated  = "prompts_generated_total"
	PromptsExecuted   = "prompts_executed_total"
	PromptsCompleted  = "prompts_completed_total"
	PromptsFailed     = "prompts_failed_total"
	PromptsCancelled  = "prompts_cancelled_total"
	SandboxRuns       = "sandbox_runs_total"
	SandboxFailures   = "sandbox_failures_total"
	InsightFallbacks  = "insight_fallbacks_total"
	WorkerJobsRecv    = "worker_jobs_received_total"
	WorkerJobsDone    = "worker_jobs_completed_total"
	WorkerJobsFailed  = "worker_jobs_failed_total"
	WorkerJobsDropped = "worker_jobs_deleted_unrecoverable_total"

	StageDurationMs   = "prompt_stage_duration_ms"
	SandboxDurationMs = "sandbox_duration_ms"
)

var help = map[string]string{
	PromptsSubmitted:  "Total prompts submitted",
	PromptsGenerated:  "Total prompts that reached generated",
	PromptsExecuted:   "Total prompt executions started",
	PromptsCompleted:  "Total prompts completed",
	PromptsFailed:     "Total prompts failed",
	PromptsCancelled:  "Total prompts cancelled by the caller",
	SandboxRuns:       "Total sandbox runs",
	SandboxFailures:   "Total sandbox runs that failed",
	InsightFallbacks:  "Total insight generations that fell back to an empty list",
	WorkerJobsRecv:    "Total stage jobs received by the worker",
	WorkerJobsDone:    "Total stage jobs completed by the worker",
	WorkerJobsFailed:  "Total stage jobs failed in the worker",
	WorkerJobsDropped: "Total stage jobs deleted as unrecoverable",
	StageDurationMs:   "Pipeline stage duration in milliseconds",
	SandboxDurationMs: "Sandbox run duration in milliseconds",
}

var defaultBuckets = []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000}

// Registry holds counters and histograms for one process. A nil *Registry
// ignores every call.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*atomic.Uint64
	histograms map[string]*histogram
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*atomic.Uint64),
		histograms: make(map[string]*histogram),
	}
}

// Inc increments the named counter.
func (r *Registry) Inc(name string) {
	if r == nil {
		return
	}
	r.counter(name).Add(1)
}

// Count returns the current value of a counter.
func (r *Registry) Count(name string) uint64 {
	if r == nil {
		return 0
	}
	return r.counter(name).Load()
}

// ObserveMs records a duration in milliseconds on the named histogram.
func (r *Registry) ObserveMs(name string, value float64) {
	if r == nil {
		return
	}
	if value < 0 {
		value = 0
	}
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h = newHistogram(defaultBuckets)
		r.histograms[name] = h
	}
	r.mu.Unlock()
	h.Observe(value)
}

func (r *Registry) counter(name string) *atomic.Uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = new(atomic.Uint64)
		r.counters[name] = c
	}
	return c
}

// Handler exposes metrics in Prometheus text format.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, r.Render())
	}
}

// Render renders metrics in Prometheus text format.
func (r *Registry) Render() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	counterNames := make([]string, 0, len(r.counters))
	for name := range r.counters {
		counterNames = append(counterNames, name)
	}
	histNames := make([]string, 0, len(r.histograms))
	for name := range r.histograms {
		histNames = append(histNames, name)
	}
	r.mu.Unlock()
	sort.Strings(counterNames)
	sort.Strings(histNames)

	var buf bytes.Buffer
	for _, name := range counterNames {
		writeCounter(&buf, name, help[name], r.counter(name).Load())
	}
	for _, name := range histNames {
		r.mu.Lock()
		h := r.histograms[name]
		r.mu.Unlock()
		writeHistogram(&buf, name, help[name], h.Snapshot())
	}
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, helpText string, value uint64) {
	if helpText != "" {
		fmt.Fprintf(buf, "# HELP %s %s\n", name, helpText)
	}
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, helpText string, snap histogramSnapshot) {
	if helpText != "" {
		fmt.Fprintf(buf, "# HELP %s %s\n", name, helpText)
	}
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
