package svctree

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/renameio/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-svctree/config"
)

// greeter records the greeting it sees each time it is reloaded
type greeter struct {
	*Service
	greeting *config.Setting[string]

	mu   sync.Mutex
	seen []string
}

func newGreeter(store *config.Store) *greeter {
	g := &greeter{greeting: config.NewSetting(store, "greeter.greeting", "hello", "What to say")}
	g.Service = New("app", g, WithLogger(quietLogger()))
	return g
}

func (g *greeter) OnReload(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, g.greeting.Value())
	return nil
}

func (g *greeter) reloads() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seen...)
}

type processFixture struct {
	dir     string
	file    string
	store   *config.Store
	app     *greeter
	process *Process
}

func newProcessFixture(t *testing.T, yaml string) *processFixture {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "svctree.yaml")
	require.NoError(t, renameio.WriteFile(file, []byte(yaml), 0o644))

	store := config.New()
	store.Set("pidfile", filepath.Join(dir, "svctree.pid"))
	store.Set("statusfile", filepath.Join(dir, "status.yaml"))
	require.NoError(t, store.LoadFile(file))

	app := newGreeter(store)
	p := NewProcess(app, store, WithProcessLogger(quietLogger()))
	t.Cleanup(func() {
		_ = p.Stop(context.Background())
	})

	return &processFixture{dir: dir, file: file, store: store, app: app, process: p}
}

func TestProcessLifecycle(t *testing.T) {
	fx := newProcessFixture(t, "metrics:\n  listen: 127.0.0.1:0\nstart_timeout: 1s\n")
	p := fx.process
	ctx := context.Background()

	names := make([]string, 0, 3)
	for _, c := range p.Children() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"runtime", "metrics", "app"}, names)
	assert.Same(t, fx.app.Service, p.App())
	assert.Same(t, fx.store, p.Config())

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Ready())
	assert.True(t, fx.app.Ready())

	pid, err := ReadPid(filepath.Join(fx.dir, "svctree.pid"))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	rec, err := ReadStatus(filepath.Join(fx.dir, "status.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, "process", rec.Service)
	assert.Equal(t, StateReady, rec.State)
	appRec, ok := rec.Find("app")
	require.True(t, ok)
	assert.Equal(t, StateReady, appRec.State)

	addr := p.MetricsAddr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "svctree_transitions_total")
	assert.Contains(t, string(body), `service="runtime"`)

	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, StateStopped, p.State())
	assert.Empty(t, p.MetricsAddr())

	_, err = os.Stat(filepath.Join(fx.dir, "svctree.pid"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "pidfile should be removed on stop")

	rec, err = ReadStatus(filepath.Join(fx.dir, "status.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, rec.State)
}

func TestProcessWithoutMetricsServer(t *testing.T) {
	fx := newProcessFixture(t, "start_timeout: 1s\n")
	assert.Len(t, fx.process.Children(), 2)
	assert.Empty(t, fx.process.MetricsAddr())
}

func TestProcessReloadReadsConfigFirst(t *testing.T) {
	fx := newProcessFixture(t, "greeter:\n  greeting: hello\n")
	ctx := context.Background()
	require.NoError(t, fx.process.Start(ctx))
	assert.Equal(t, "hello", fx.app.greeting.Value())

	require.NoError(t, renameio.WriteFile(fx.file, []byte("greeter:\n  greeting: bonjour\n"), 0o644))
	require.NoError(t, fx.process.Reload(ctx))

	assert.Equal(t, []string{"bonjour"}, fx.app.reloads())
	assert.True(t, fx.process.Ready(), "reload does not change state")
}

func TestProcessWatchReloads(t *testing.T) {
	fx := newProcessFixture(t, "config:\n  watch: true\ngreeter:\n  greeting: hello\n")
	require.NoError(t, fx.process.Start(context.Background()))

	require.NoError(t, renameio.WriteFile(fx.file, []byte("config:\n  watch: true\ngreeter:\n  greeting: hej\n"), 0o644))

	eventually(t, 2*time.Second, func() bool {
		seen := fx.app.reloads()
		return len(seen) > 0 && seen[len(seen)-1] == "hej"
	}, "config change should reload the app")
}

func TestProcessPidfileConflict(t *testing.T) {
	parent := os.Getppid()
	if parent <= 1 {
		t.Skip("no live parent process to own the pidfile")
	}

	fx := newProcessFixture(t, "start_timeout: 1s\n")
	pidfile := filepath.Join(fx.dir, "svctree.pid")
	require.NoError(t, renameio.WriteFile(pidfile, []byte(strconv.Itoa(parent)), 0o644))

	err := fx.process.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateStopped, fx.process.State())
	assert.Equal(t, StateInit, fx.app.State(), "app must not start when the runtime fails")

	pid, err := ReadPid(pidfile)
	require.NoError(t, err)
	assert.Equal(t, parent, pid, "another process's pidfile must be left alone")
}

func TestSettingsServiceOptions(t *testing.T) {
	store := config.New()
	store.Load(map[string]any{
		"spawner":       "serial",
		"start_timeout": "250ms",
		"stop_grace":    2,
	})
	settings := DefineSettings(store)

	svc := New("svc", nil, append(settings.ServiceOptions(), WithLogger(quietLogger()))...)
	assert.Equal(t, SpawnerSerial, svc.Spawner().Kind())
	assert.Equal(t, 250*time.Millisecond, svc.opts.startTimeout)
	assert.Equal(t, 2*time.Second, settings.StopGrace.Value())

	store.Set("spawner", "fiber")
	svc = New("svc", nil, append(settings.ServiceOptions(), WithLogger(quietLogger()))...)
	assert.Equal(t, SpawnerGoroutine, svc.Spawner().Kind())
}
