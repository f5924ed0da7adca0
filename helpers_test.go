package svctree

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// hookLog collects hook calls across a tree in the order they happen
type hookLog struct {
	mu      sync.Mutex
	entries []string
}

func (hl *hookLog) add(entry string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	hl.entries = append(hl.entries, entry)
}

func (hl *hookLog) list() []string {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return slices.Clone(hl.entries)
}

// suffixed returns the entries ending in suffix
func (hl *hookLog) suffixed(suffix string) []string {
	var out []string
	for _, e := range hl.list() {
		if strings.HasSuffix(e, suffix) {
			out = append(out, e)
		}
	}
	return out
}

func (hl *hookLog) reset() {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	hl.entries = nil
}

// recordingService logs every hook it receives to a shared hookLog
type recordingService struct {
	*Service

	log       *hookLog
	startErr  error
	stopErr   error
	reloadErr error
	onStart   func(ctx context.Context) error
}

func newRecording(name string, hl *hookLog, opts ...ServiceOption) *recordingService {
	r := &recordingService{log: hl}
	opts = append([]ServiceOption{WithLogger(quietLogger())}, opts...)
	r.Service = New(name, r, opts...)
	return r
}

func (r *recordingService) PreStart()  { r.log.add(r.Name() + ".pre_start") }
func (r *recordingService) PostStart() { r.log.add(r.Name() + ".post_start") }
func (r *recordingService) PreStop()   { r.log.add(r.Name() + ".pre_stop") }
func (r *recordingService) PostStop()  { r.log.add(r.Name() + ".post_stop") }

func (r *recordingService) OnStart(ctx context.Context) error {
	r.log.add(r.Name() + ".start")
	if r.onStart != nil {
		return r.onStart(ctx)
	}
	return r.startErr
}

func (r *recordingService) OnStop(context.Context) error {
	r.log.add(r.Name() + ".stop")
	return r.stopErr
}

func (r *recordingService) OnReload(context.Context) error {
	r.log.add(r.Name() + ".reload")
	return r.reloadErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or the timeout passes
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s: %s", timeout, msg)
}

func equalEntries(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("entries mismatch\n got: %v\nwant: %v", got, want)
	}
}
