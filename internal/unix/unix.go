//go:build unix

// Package unix wraps the process-level system calls used by svctree.
package unix

import (
	"errors"
	"os"
	"syscall"
)

// Supported reports whether this platform provides the calls in this package
const Supported = true

// StopSignals are the signals that stop a running process
var StopSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

// ReloadSignal asks a running process to reload its configuration
var ReloadSignal os.Signal = syscall.SIGHUP

// Umask sets the process umask and returns the previous one
func Umask(mask int) int {
	return syscall.Umask(mask)
}

// Alive reports whether a process with the given pid exists. A process owned
// by another user still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Signal sends sig to pid
func Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}
