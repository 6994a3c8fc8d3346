package sandbox

// Exit codes the child uses to report limit breaches.
const (
	exitOK             = 0
	exitFailure        = 1
	exitMemoryExceeded = 3
	exitCPUExceeded    = 4
)

const (
	kindExecution = "execution"
	kindResource  = "resource"
)

// childRequest is written to the child's stdin.
type childRequest struct {
	Code       string         `json:"code"`
	Input      map[string]any `json:"input"`
	MemoryMB   int            `json:"memoryMb"`
	CPUSeconds int            `json:"cpuSeconds"`
}

// childResponse is the single JSON document the child writes to stdout.
type childResponse struct {
	OK     bool           `json:"ok"`
	Kind   string         `json:"kind,omitempty"`
	Error  string         `json:"error,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}
