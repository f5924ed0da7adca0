package svctree

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Node is anything that embeds *Service
type Node interface {
	node() *Service
}

// StartHook is implemented by services with their own startup logic. Returning
// ErrNotReady defers readiness until the service calls SetReady.
type StartHook interface {
	OnStart(ctx context.Context) error
}

// StopHook is implemented by services with their own shutdown logic. It only
// runs if the service had become ready.
type StopHook interface {
	OnStop(ctx context.Context) error
}

// ReloadHook is implemented by services that can reload their configuration
type ReloadHook interface {
	OnReload(ctx context.Context) error
}

// PreStartHook runs when a start begins, before any child starts
type PreStartHook interface {
	PreStart()
}

// PostStartHook runs when the service becomes ready
type PostStartHook interface {
	PostStart()
}

// PreStopHook runs when a stop begins, before any child stops
type PreStopHook interface {
	PreStop()
}

// PostStopHook runs when the stop completes
type PostStopHook interface {
	PostStop()
}

// ServiceOption configures a Service
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	startTimeout time.Duration
	spawnerKind  SpawnerKind
	spawnerOpts  []SpawnerOption
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

// WithStartTimeout sets how long a blocking Start waits for deferred readiness
func WithStartTimeout(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		o.startTimeout = d
	}
}

// WithSpawnerKind selects the spawner implementation
func WithSpawnerKind(kind SpawnerKind) ServiceOption {
	return func(o *serviceOptions) {
		o.spawnerKind = kind
	}
}

// WithSpawnerOptions passes extra options to the service's spawner
func WithSpawnerOptions(opts ...SpawnerOption) ServiceOption {
	return func(o *serviceOptions) {
		o.spawnerOpts = append(o.spawnerOpts, opts...)
	}
}

// WithStopGrace sets the spawner's grace period
func WithStopGrace(d time.Duration) ServiceOption {
	return WithSpawnerOptions(WithGracePeriod(d))
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records lifecycle and task metrics in m
func WithMetrics(m *Metrics) ServiceOption {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for lifecycle spans
func WithTracer(t trace.Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Service is a lifecycle-managed node in a service tree. Types with their own
// behaviour embed *Service and implement any of the hook interfaces:
//
//	type Server struct {
//		*svctree.Service
//	}
//
//	srv := &Server{}
//	srv.Service = svctree.New("server", srv)
type Service struct {
	name    string
	impl    any
	opts    serviceOptions
	logger  *slog.Logger
	machine *StateMachine
	spawner Spawner

	mu        sync.RWMutex
	children  []*Service
	startedAt time.Time

	handlersMu sync.RWMutex
	handlers   []errorHandler
}

// New creates a service in StateInit. impl receives the lifecycle hooks it
// implements; it may be nil.
func New(name string, impl any, opts ...ServiceOption) *Service {
	o := serviceOptions{
		startTimeout: DefaultStartTimeout,
		spawnerKind:  SpawnerGoroutine,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = defaultTracer()
	}

	s := &Service{
		name:   name,
		impl:   impl,
		opts:   o,
		logger: o.logger.With(slog.String("service", name)),
	}
	s.machine = NewStateMachine(
		WithMachineName(name),
		WithCallback(s.callback),
		WithObserver(s.observe),
	)

	spawnerOpts := append([]SpawnerOption{
		WithSpawnerName(name),
		WithSpawnerLogger(o.logger),
		WithSpawnerMetrics(o.metrics),
		WithErrorHandler(s.handleTaskError),
	}, o.spawnerOpts...)
	sp, err := NewSpawner(o.spawnerKind, spawnerOpts...)
	if err != nil {
		s.logger.Warn("falling back to goroutine spawner", slog.Any("error", err))
		sp = NewGoroutineSpawner(spawnerOpts...)
	}
	s.spawner = sp
	return s
}

func (s *Service) node() *Service {
	return s
}

// Name returns the service name
func (s *Service) Name() string {
	return s.name
}

// State returns the current lifecycle state
func (s *Service) State() State {
	return s.machine.Current()
}

// Ready reports whether the service is in StateReady
func (s *Service) Ready() bool {
	return s.machine.Is(StateReady)
}

// Machine returns the service's state machine
func (s *Service) Machine() *StateMachine {
	return s.machine
}

// Spawner returns the spawner owning the service's tasks
func (s *Service) Spawner() Spawner {
	return s.spawner
}

// Logger returns the service's logger
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// OnTransition registers fn to be called after every state change
func (s *Service) OnTransition(fn func(Transition)) {
	s.machine.Observe(fn)
}

// AddService appends child to the child list. It does not change the
// child's state.
func (s *Service) AddService(child Node) {
	c := child.node()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, c)
}

// RemoveService removes child from the child list. The child keeps running.
func (s *Service) RemoveService(child Node) error {
	c := child.node()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.children {
		if existing == c {
			s.children = append(s.children[:i:i], s.children[i+1:]...)
			return nil
		}
	}
	return &OpError{Op: OpStatus, Service: c.name, Err: ErrServiceNotFound}
}

// Children returns the child services in add order
func (s *Service) Children() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Service, len(s.children))
	copy(out, s.children)
	return out
}

// Spawn runs fn on the service's spawner
func (s *Service) Spawn(fn TaskFunc) (*Task, error) {
	return s.spawner.Spawn(fn)
}

// SpawnLater runs fn on the service's spawner after delay
func (s *Service) SpawnLater(delay time.Duration, fn TaskFunc) (*Task, error) {
	return s.spawner.SpawnLater(delay, fn)
}

// Start starts the tree rooted at s and blocks until s is ready. A service
// whose OnStart returned ErrNotReady is waited on for the start timeout; when
// that elapses Start returns a *StartTimeoutError and the service stays
// starting. Any other startup error stops the tree and is returned.
func (s *Service) Start(ctx context.Context) error {
	return s.start(ctx, true)
}

// StartAsync is Start without waiting for deferred readiness
func (s *Service) StartAsync(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *Service) start(ctx context.Context, block bool) error {
	ctx, span := startSpan(ctx, s.opts.tracer, OpStart, s.name)
	err := s.doStart(ctx, block)
	endSpan(span, err)
	return err
}

func (s *Service) doStart(ctx context.Context, block bool) error {
	if err := s.machine.Fire(EventStartServices); err != nil {
		return err
	}

	if err := s.spawner.Start(ctx); err != nil {
		s.abort(ctx)
		return err
	}

	for _, child := range s.Children() {
		if child.machine.Is(StateReady, StateStarting, StateStartingServices) {
			continue
		}
		if err := child.start(ctx, block); err != nil {
			if errors.Is(err, ErrStartTimeout) {
				continue
			}
			s.abort(ctx)
			return err
		}
	}

	if err := s.machine.Fire(EventServicesStarted); err != nil {
		return err
	}

	err := s.onStart(ctx)
	switch {
	case err == nil:
		if s.machine.Is(StateReady) {
			return nil
		}
		return s.machine.Fire(EventReady)
	case errors.Is(err, ErrNotReady):
		if !block {
			return nil
		}
		return s.awaitReady(ctx)
	default:
		s.logger.Error("start failed", slog.Any("error", err))
		s.abort(ctx)
		return err
	}
}

func (s *Service) awaitReady(ctx context.Context) error {
	ok, err := s.machine.Wait(ctx, StateReady, s.opts.startTimeout)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.opts.metrics.startTimeout(s.name)
	terr := &StartTimeoutError{Service: s.name, Timeout: s.opts.startTimeout}
	s.logger.Warn("service not ready", slog.Any("error", terr))
	return terr
}

// abort stops a service whose start failed part way
func (s *Service) abort(ctx context.Context) {
	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("stop after failed start", slog.Any("error", err))
	}
}

// SetReady marks a service that deferred readiness as ready
func (s *Service) SetReady() error {
	return s.machine.Fire(EventReady)
}

// Stop stops the tree rooted at s: children in reverse add order, then the
// service's own OnStop if it had been ready, then its tasks. Stopping a
// service in init or stopped does nothing. A Stop issued from a task running
// anywhere in the tree is carried out on a new goroutine and returns at once.
func (s *Service) Stop(ctx context.Context) error {
	if s.machine.Is(StateInit, StateStopped) {
		return nil
	}
	if t := TaskFromContext(ctx); t != nil && s.ownsTask(t) {
		s.logger.Debug("stop requested from own task, deferring", slog.String("task", t.ID()))
		go func() {
			if err := s.Stop(context.Background()); err != nil {
				s.logger.Error("deferred stop failed", slog.Any("error", err))
			}
		}()
		return nil
	}

	ctx, span := startSpan(ctx, s.opts.tracer, OpStop, s.name)
	err := s.doStop(ctx)
	endSpan(span, err)
	return err
}

func (s *Service) doStop(ctx context.Context) error {
	wasReady := s.machine.Is(StateReady)
	if err := s.machine.Fire(EventStopServices); err != nil {
		switch {
		case s.machine.Is(StateStoppingServices, StateStopping):
			// another caller is stopping the service
			_, _ = s.machine.Wait(ctx, StateStopped, 0)
			return nil
		case s.machine.Is(StateInit, StateStopped):
			return nil
		default:
			return err
		}
	}

	var errs MultiError
	children := s.Children()
	for i := len(children) - 1; i >= 0; i-- {
		errs.Add(children[i].Stop(ctx))
	}

	errs.Add(s.machine.Fire(EventServicesStopped))
	if wasReady {
		errs.Add(s.onStop(ctx))
	}
	errs.Add(s.spawner.Stop(ctx))
	errs.Add(s.machine.Fire(EventStopped))
	return errs.Err()
}

// ownsTask reports whether t belongs to a spawner anywhere in the tree
func (s *Service) ownsTask(t *Task) bool {
	if s.spawner.Owns(t) {
		return true
	}
	for _, child := range s.Children() {
		if child.ownsTask(t) {
			return true
		}
	}
	return false
}

// Reload reloads every child in add order, then the service itself. It
// does not change state. Every node is attempted and errors are collected.
func (s *Service) Reload(ctx context.Context) error {
	ctx, span := startSpan(ctx, s.opts.tracer, OpReload, s.name)

	var errs MultiError
	for _, child := range s.Children() {
		errs.Add(child.Reload(ctx))
	}
	if r, ok := s.impl.(ReloadHook); ok {
		if err := r.OnReload(ctx); err != nil {
			s.logger.Error("reload failed", slog.Any("error", err))
			errs.Add(err)
		}
	}

	err := errs.Err()
	endSpan(span, err)
	return err
}

// ServeForever starts the service if needed and blocks until it stops. A
// service that is already running is not an error, and a start timeout is
// only logged. If ctx ends first the service is stopped and ctx's error is
// returned.
func (s *Service) ServeForever(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			s.logger.Debug("already started")
		case errors.Is(err, ErrStartTimeout):
		default:
			return err
		}
	}

	select {
	case <-s.machine.Gate(StateStopped).Done():
		return nil
	case <-ctx.Done():
		var errs MultiError
		errs.Add(ctx.Err())
		errs.Add(s.Stop(context.WithoutCancel(ctx)))
		return errs.Err()
	}
}

// WaitReady blocks until the service is ready. A timeout <= 0 waits without
// limit. It reports whether the service became ready.
func (s *Service) WaitReady(ctx context.Context, timeout time.Duration) bool {
	ok, _ := s.machine.Wait(ctx, StateReady, timeout)
	return ok
}

// WaitStopped blocks until the service is stopped
func (s *Service) WaitStopped(ctx context.Context, timeout time.Duration) bool {
	ok, _ := s.machine.Wait(ctx, StateStopped, timeout)
	return ok
}

func (s *Service) onStart(ctx context.Context) error {
	if h, ok := s.impl.(StartHook); ok {
		return h.OnStart(ctx)
	}
	return nil
}

func (s *Service) onStop(ctx context.Context) error {
	if h, ok := s.impl.(StopHook); ok {
		return h.OnStop(ctx)
	}
	return nil
}

// callback dispatches a state machine callback to the impl's hooks
func (s *Service) callback(cb Callback) {
	switch cb {
	case CallbackPreStart:
		if h, ok := s.impl.(PreStartHook); ok {
			h.PreStart()
		}
	case CallbackPostStart:
		if h, ok := s.impl.(PostStartHook); ok {
			h.PostStart()
		}
	case CallbackPreStop:
		if h, ok := s.impl.(PreStopHook); ok {
			h.PreStop()
		}
	case CallbackPostStop:
		if h, ok := s.impl.(PostStopHook); ok {
			h.PostStop()
		}
	}
}

func (s *Service) observe(tr Transition) {
	s.logger.Debug("transition",
		slog.String("event", tr.Event.String()),
		slog.String("from", tr.From.String()),
		slog.String("to", tr.To.String()))
	s.opts.metrics.transition(s.name, tr.From, tr.To)

	switch tr.To {
	case StateStartingServices:
		s.mu.Lock()
		s.startedAt = tr.At
		s.mu.Unlock()
	case StateReady:
		s.mu.RLock()
		began := s.startedAt
		s.mu.RUnlock()
		s.opts.metrics.started(s.name, tr.At.Sub(began))
		s.logger.Info("service ready")
	case StateStopped:
		s.logger.Info("service stopped")
	}
}
