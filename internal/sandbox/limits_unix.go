//go:build linux || darwin

package sandbox

import (
	"os"
	"os/signal"
	"syscall"
)

// limitCPU sets RLIMIT_CPU; the kernel sends SIGXCPU at the soft limit and
// SIGKILL one second later.
func limitCPU(seconds int, onExceeded func()) {
	lim := &syscall.Rlimit{Cur: uint64(seconds), Max: uint64(seconds) + 1}
	if err := syscall.Setrlimit(syscall.RLIMIT_CPU, lim); err != nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGXCPU)
	go func() {
		<-sig
		onExceeded()
	}()
}
