package svctree

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axondata/go-svctree/config"
)

// Process is the root of a program's service tree. Its children are, in
// order, the runtime service (umask, rundir, pidfile, signals, config reload
// and status file), an optional metrics server and the application.
//
// The runtime service is added first so that it reloads the configuration
// before the application reloads, and stops last.
type Process struct {
	*Service

	store    *config.Store
	settings *Settings
	app      *Service
	runtime  *runtimeService
	server   *metricsServer
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// ProcessOption configures a Process
type ProcessOption func(*processOptions)

type processOptions struct {
	name     string
	logger   *slog.Logger
	registry *prometheus.Registry
}

// WithProcessName sets the root service name
func WithProcessName(name string) ProcessOption {
	return func(o *processOptions) {
		o.name = name
	}
}

// WithProcessLogger sets the logger for the process services
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(o *processOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry sets the registry the process records metrics in and serves
func WithRegistry(reg *prometheus.Registry) ProcessOption {
	return func(o *processOptions) {
		o.registry = reg
	}
}

// NewProcess builds a process around app, configured from store
func NewProcess(app Node, store *config.Store, opts ...ProcessOption) *Process {
	o := processOptions{
		name:   "process",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	p := &Process{
		store:    store,
		settings: DefineSettings(store),
		app:      app.node(),
		registry: o.registry,
		metrics:  NewMetrics(o.registry),
		logger:   o.logger,
	}

	svcOpts := append(p.settings.ServiceOptions(),
		WithLogger(o.logger),
		WithMetrics(p.metrics),
	)
	p.Service = New(o.name, p, svcOpts...)

	p.runtime = newRuntimeService(p, svcOpts)
	p.AddService(p.runtime)

	if addr := p.settings.MetricsListen.Value(); addr != "" {
		p.server = newMetricsServer(addr, o.registry, svcOpts)
		p.AddService(p.server)
	}

	p.AddService(p.app)

	if p.settings.Statusfile.Value() != "" {
		p.OnTransition(p.recordStatus)
		p.app.OnTransition(p.recordStatus)
	}
	return p
}

// Config returns the process's config store
func (p *Process) Config() *config.Store {
	return p.store
}

// Settings returns the process settings
func (p *Process) Settings() *Settings {
	return p.settings
}

// App returns the application service
func (p *Process) App() *Service {
	return p.app
}

// Metrics returns the process metrics, for use by the application's services
func (p *Process) Metrics() *Metrics {
	return p.metrics
}

// Registry returns the Prometheus registry served by the metrics server
func (p *Process) Registry() *prometheus.Registry {
	return p.registry
}

// MetricsAddr returns the metrics server's listen address once started, or
// an empty string
func (p *Process) MetricsAddr() string {
	if p.server == nil {
		return ""
	}
	return p.server.Addr()
}

// OnStop logs the shutdown
func (p *Process) OnStop(context.Context) error {
	p.logger.Info("stopping", slog.Int("pid", os.Getpid()))
	return nil
}

func (p *Process) recordStatus(Transition) {
	path := p.settings.Statusfile.Value()
	if path == "" {
		return
	}
	rec := Snapshot(p)
	rec.PID = os.Getpid()
	if err := WriteStatus(path, rec); err != nil {
		p.logger.Warn("status file not written", slog.Any("error", err))
	}
}
