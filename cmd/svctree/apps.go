package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"time"

	svctree "github.com/axondata/go-svctree"
	"github.com/axondata/go-svctree/config"
)

// appDeps are handed to every app factory
type appDeps struct {
	Store   *config.Store
	Logger  *slog.Logger
	Options []svctree.ServiceOption
}

// appFactory builds an application tree
type appFactory func(deps appDeps) (svctree.Node, error)

type appEntry struct {
	help    string
	factory appFactory
}

// registry maps app names to factories
type registry struct {
	apps map[string]appEntry
}

func newRegistry() *registry {
	return &registry{apps: make(map[string]appEntry)}
}

// Register adds an app
func (r *registry) Register(name, help string, f appFactory) {
	r.apps[name] = appEntry{help: help, factory: f}
}

// Build runs the named app's factory
func (r *registry) Build(name string, deps appDeps) (svctree.Node, error) {
	e, ok := r.apps[name]
	if !ok {
		return nil, fmt.Errorf("unknown app %q (known: %v)", name, r.Names())
	}
	return e.factory(deps)
}

// Names returns the registered app names in sorted order
func (r *registry) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func defaultApps() *registry {
	r := newRegistry()
	r.Register("ticker", "Logs a tick every ticker.interval", func(d appDeps) (svctree.Node, error) {
		return newTicker(d), nil
	})
	r.Register("echo", "TCP echo server on echo.listen", func(d appDeps) (svctree.Node, error) {
		return newEcho(d), nil
	})
	r.Register("demo", "Ticker and echo server under a root that becomes ready asynchronously", newDemo)
	return r
}

type ticker struct {
	*svctree.Service

	interval *config.Setting[time.Duration]
}

func newTicker(d appDeps) *ticker {
	t := &ticker{
		interval: config.NewSetting(d.Store, "ticker.interval", time.Second, "Interval between ticks"),
	}
	t.Service = svctree.New("ticker", t, d.Options...)
	return t
}

func (t *ticker) OnStart(context.Context) error {
	_, err := t.Spawn(t.loop)
	return err
}

func (t *ticker) OnReload(context.Context) error {
	if t.interval.Changed() {
		t.Logger().Info("interval changed", slog.Duration("interval", t.interval.Value()))
	}
	return nil
}

func (t *ticker) loop(ctx context.Context) error {
	t.interval.Changed()
	for n := 1; ; n++ {
		select {
		case <-svctree.Stopping(ctx):
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(t.interval.Value()):
			t.Logger().Info("tick", slog.Int("n", n))
		}
	}
}

type echo struct {
	*svctree.Service

	listen *config.Setting[string]
	ln     net.Listener
}

func newEcho(d appDeps) *echo {
	e := &echo{
		listen: config.NewSetting(d.Store, "echo.listen", "127.0.0.1:7007", "Address for the echo server"),
	}
	e.Service = svctree.New("echo", e, d.Options...)
	return e
}

func (e *echo) OnStart(context.Context) error {
	ln, err := net.Listen("tcp", e.listen.Value())
	if err != nil {
		return err
	}
	e.ln = ln
	e.Logger().Info("listening", slog.String("addr", ln.Addr().String()))
	_, err = e.Spawn(e.accept)
	return err
}

func (e *echo) OnStop(context.Context) error {
	return e.ln.Close()
}

func (e *echo) accept(context.Context) error {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := e.Spawn(func(ctx context.Context) error {
			return e.serve(ctx, conn)
		}); err != nil {
			_ = conn.Close()
		}
	}
}

func (e *echo) serve(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := conn.Write(line); werr != nil {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// demo becomes ready a moment after its children, showing deferred readiness
type demo struct {
	*svctree.Service
}

func newDemo(d appDeps) (svctree.Node, error) {
	app := &demo{}
	app.Service = svctree.New("demo", app, d.Options...)
	app.AddService(newTicker(d))
	app.AddService(newEcho(d))
	return app, nil
}

func (d *demo) OnStart(context.Context) error {
	if _, err := d.SpawnLater(100*time.Millisecond, func(context.Context) error {
		return d.SetReady()
	}); err != nil {
		return err
	}
	return svctree.ErrNotReady
}
