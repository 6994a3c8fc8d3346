//go:build !linux && !darwin

package sandbox

// limitCPU is a no-op where RLIMIT_CPU is unavailable; the parent's
// wall-clock timeout still applies.
func limitCPU(int, func()) {}
