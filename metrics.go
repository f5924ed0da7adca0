package svctree

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a service tree. A nil *Metrics
// records nothing, so services and spawners can be built without one.
type Metrics struct {
	transitions    *prometheus.CounterVec
	state          *prometheus.GaugeVec
	startDuration  *prometheus.HistogramVec
	startTimeouts  *prometheus.CounterVec
	tasksSpawned   *prometheus.CounterVec
	tasksActive    *prometheus.GaugeVec
	taskFailures   *prometheus.CounterVec
	forcedAbandons *prometheus.CounterVec
}

// NewMetrics registers the svctree collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// transitions counts state changes by service and target state
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctree_transitions_total",
				Help: "Total state transitions by service and target state",
			},
			[]string{"service", "state"},
		),
		// state is 1 for the state each service is currently in
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "svctree_service_state",
				Help: "Current service state, 1 for the active state and 0 otherwise",
			},
			[]string{"service", "state"},
		),
		startDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "svctree_start_duration_seconds",
				Help:    "Time from start_services to ready by service",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"service"},
		),
		startTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctree_start_timeouts_total",
				Help: "Total starts that did not reach ready within the start timeout",
			},
			[]string{"service"},
		),
		tasksSpawned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctree_tasks_spawned_total",
				Help: "Total tasks spawned by service",
			},
			[]string{"service"},
		),
		tasksActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "svctree_tasks_active",
				Help: "Tasks currently pending or running by service",
			},
			[]string{"service"},
		),
		taskFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctree_task_failures_total",
				Help: "Total failed tasks by service and kind (error or panic)",
			},
			[]string{"service", "kind"},
		),
		forcedAbandons: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svctree_tasks_abandoned_total",
				Help: "Total tasks abandoned after ignoring cancellation",
			},
			[]string{"service"},
		),
	}
}

func (m *Metrics) transition(service string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(service, to.String()).Inc()
	m.state.WithLabelValues(service, from.String()).Set(0)
	m.state.WithLabelValues(service, to.String()).Set(1)
}

func (m *Metrics) started(service string, d time.Duration) {
	if m == nil {
		return
	}
	m.startDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) startTimeout(service string) {
	if m == nil {
		return
	}
	m.startTimeouts.WithLabelValues(service).Inc()
}

func (m *Metrics) taskSpawned(service string) {
	if m == nil {
		return
	}
	m.tasksSpawned.WithLabelValues(service).Inc()
	m.tasksActive.WithLabelValues(service).Inc()
}

func (m *Metrics) taskFinished(service string) {
	if m == nil {
		return
	}
	m.tasksActive.WithLabelValues(service).Dec()
}

func (m *Metrics) taskFailed(service string, err error) {
	if m == nil {
		return
	}
	kind := "error"
	var te *TaskError
	if errors.As(err, &te) && te.Panic {
		kind = "panic"
	}
	m.taskFailures.WithLabelValues(service, kind).Inc()
}

func (m *Metrics) forcedTermination(service string, n int) {
	if m == nil {
		return
	}
	m.forcedAbandons.WithLabelValues(service).Add(float64(n))
}
