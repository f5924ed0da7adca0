package svctree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/axondata/go-svctree/internal/unix"
)

// Pidfile records the pid of a running process
type Pidfile struct {
	path string
	pid  int
}

// NewPidfile returns a Pidfile at path
func NewPidfile(path string) *Pidfile {
	return &Pidfile{path: path}
}

// DefaultPidfile returns ~/.<name>.pid
func DefaultPidfile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, "."+name+".pid")
}

// Path returns the pidfile's location
func (p *Pidfile) Path() string {
	return p.path
}

// Create writes the current pid. It fails with ErrAlreadyRunning if the file
// names another live process and replaces a stale file.
func (p *Pidfile) Create() error {
	pid := os.Getpid()

	old, err := ReadPid(p.path)
	switch {
	case err == nil && old != pid && unix.Alive(old):
		return fmt.Errorf("pidfile %s: pid %d: %w", p.path, old, ErrAlreadyRunning)
	case err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrNotRunning):
		return err
	}

	if dir := filepath.Dir(p.path); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("pidfile %s: %w", p.path, err)
		}
	}
	if err := renameio.WriteFile(p.path, []byte(strconv.Itoa(pid)+"\n"), FileMode); err != nil {
		return fmt.Errorf("pidfile %s: %w", p.path, err)
	}
	p.pid = pid
	return nil
}

// Remove deletes the file if it still holds the pid written by Create
func (p *Pidfile) Remove() error {
	if p.pid == 0 {
		return nil
	}
	cur, err := ReadPid(p.path)
	if err != nil || cur != p.pid {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pidfile %s: %w", p.path, err)
	}
	p.pid = 0
	return nil
}

// ReadPid returns the pid stored at path. An empty or malformed file
// yields ErrNotRunning.
func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile %s: %w", path, ErrNotRunning)
	}
	return pid, nil
}

// RunningPid returns the pid stored at path if that process is alive
func RunningPid(path string) (int, error) {
	pid, err := ReadPid(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("pidfile %s: %w", path, ErrNotRunning)
		}
		return 0, err
	}
	if !unix.Alive(pid) {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrNotRunning)
	}
	return pid, nil
}
