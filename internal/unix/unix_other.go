//go:build !unix

// Package unix wraps the process-level system calls used by svctree.
package unix

import (
	"errors"
	"os"
)

// Supported reports whether this platform provides the calls in this package
const Supported = false

// StopSignals are the signals that stop a running process
var StopSignals = []os.Signal{os.Interrupt}

// ReloadSignal is nil where no reload signal exists
var ReloadSignal os.Signal

// Umask does nothing on this platform
func Umask(int) int {
	return 0
}

// Alive cannot tell and reports false
func Alive(int) bool {
	return false
}

// Signal is not supported on this platform
func Signal(int, os.Signal) error {
	return errors.New("signals not supported on this platform")
}
