package svctree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/axondata/go-svctree/config"
	"github.com/axondata/go-svctree/internal/unix"
)

// runtimeService prepares the process environment and turns OS signals and
// config file changes into lifecycle calls on the process root
type runtimeService struct {
	*Service

	proc    *Process
	pidfile *Pidfile
	unwatch config.WatchCleanupFunc
}

func newRuntimeService(p *Process, opts []ServiceOption) *runtimeService {
	rt := &runtimeService{proc: p}
	rt.Service = New("runtime", rt, opts...)
	return rt
}

func (rt *runtimeService) OnStart(ctx context.Context) error {
	settings := rt.proc.settings

	if _, ok := rt.proc.store.Lookup(settings.Umask.Path()); ok {
		unix.Umask(int(settings.Umask.Value()))
	}

	if dir := settings.Rundir.Value(); dir != "" {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return fmt.Errorf("rundir: %w", err)
		}
		if err := os.Chdir(dir); err != nil {
			return fmt.Errorf("rundir: %w", err)
		}
	}

	if path := settings.Pidfile.Value(); path != "" {
		rt.pidfile = NewPidfile(path)
		if err := rt.pidfile.Create(); err != nil {
			return err
		}
	}

	if _, err := rt.Spawn(rt.handleSignals); err != nil {
		return err
	}

	if file := rt.proc.store.File(); settings.Watch.Value() && file != "" {
		unwatch, err := config.Watch(context.WithoutCancel(ctx), file, rt.fileChanged,
			config.WithDebounce(DefaultWatchDebounce),
			config.WithWatchLogger(rt.Logger()))
		if err != nil {
			return err
		}
		rt.unwatch = unwatch
	}

	rt.Logger().Info("process started", slog.Int("pid", os.Getpid()))
	return nil
}

func (rt *runtimeService) OnStop(context.Context) error {
	var errs MultiError
	if rt.unwatch != nil {
		errs.Add(rt.unwatch())
		rt.unwatch = nil
	}
	if rt.pidfile != nil {
		errs.Add(rt.pidfile.Remove())
	}
	return errs.Err()
}

// OnReload reloads the config file. The runtime is the first child of the
// process, so the application sees the new values when it reloads.
func (rt *runtimeService) OnReload(context.Context) error {
	if err := rt.proc.store.ReloadFile(); err != nil {
		return err
	}
	rt.Logger().Info("configuration reloaded", slog.String("file", rt.proc.store.File()))
	return nil
}

func (rt *runtimeService) fileChanged() {
	if err := rt.proc.Reload(context.Background()); err != nil {
		rt.Logger().Warn("reload after config change failed", slog.Any("error", err))
	}
}

// handleSignals runs as a task: stop signals stop the whole process and the
// reload signal reloads it
func (rt *runtimeService) handleSignals(ctx context.Context) error {
	sigs := append([]os.Signal{}, unix.StopSignals...)
	if unix.ReloadSignal != nil {
		sigs = append(sigs, unix.ReloadSignal)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-Stopping(ctx):
			return nil
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			if unix.ReloadSignal != nil && sig == unix.ReloadSignal {
				rt.Logger().Info("reload signal received")
				if err := rt.proc.Reload(ctx); err != nil {
					rt.Logger().Warn("reload failed", slog.Any("error", err))
				}
				continue
			}
			rt.Logger().Info("stop signal received", slog.String("signal", sig.String()))
			return rt.proc.Stop(ctx)
		}
	}
}
