package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the runtime.
// All record methods are safe on a nil receiver so components may run unmetered.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	LaunchesTotal    *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	CrashesTotal     *prometheus.CounterVec
	InstancesActive  prometheus.Gauge
	StackDepth       prometheus.Gauge
	LeaksTotal       prometheus.Counter
	FrameDuration    prometheus.Histogram

	// Background metrics
	TasksPending   prometheus.Gauge
	TasksDrained   prometheus.Counter
	TasksCancelled prometheus.Counter

	// Package metrics
	Packages        *prometheus.GaugeVec
	InstallsTotal   *prometheus.CounterVec
	InstallDuration prometheus.Histogram

	// Notification stream
	WSConnections prometheus.Gauge

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current metric values for the JSON stats API
type Snapshot struct {
	Launches      int64   `json:"launches"`
	LaunchErrors  int64   `json:"launch_errors"`
	Crashes       int64   `json:"crashes"`
	Leaks         int64   `json:"leaks"`
	Installs      int64   `json:"installs"`
	InstallErrors int64   `json:"install_errors"`
	Drained       int64   `json:"drained"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMetrics creates the runtime collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appruntime_http_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appruntime_http_request_duration_seconds",
			Help:    "Admin API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	m.LaunchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appruntime_launches_total",
			Help: "Launch requests by outcome",
		},
		[]string{"outcome"},
	)
	m.TransitionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appruntime_transitions_total",
			Help: "Lifecycle transitions by target state",
		},
		[]string{"state"},
	)
	m.CrashesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appruntime_crashes_total",
			Help: "Instances force-destroyed by cause",
		},
		[]string{"cause"},
	)
	m.InstancesActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "appruntime_instances_active",
		Help: "Number of live instances",
	})
	m.StackDepth = f.NewGauge(prometheus.GaugeOpts{
		Name: "appruntime_stack_depth",
		Help: "Number of navigation entries",
	})
	m.LeaksTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "appruntime_resource_leaks_total",
		Help: "Instances that still owned resources after destruction",
	})
	m.FrameDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "appruntime_frame_duration_seconds",
		Help:    "Time spent in one loop cycle",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	m.TasksPending = f.NewGauge(prometheus.GaugeOpts{
		Name: "appruntime_tasks_pending",
		Help: "Background units in flight",
	})
	m.TasksDrained = f.NewCounter(prometheus.CounterOpts{
		Name: "appruntime_tasks_drained_total",
		Help: "Background completions handed back to the loop",
	})
	m.TasksCancelled = f.NewCounter(prometheus.CounterOpts{
		Name: "appruntime_tasks_cancelled_total",
		Help: "Background units cancelled by their owner",
	})

	m.Packages = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appruntime_packages",
			Help: "Registered packages by location",
		},
		[]string{"location"},
	)
	m.InstallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appruntime_installs_total",
			Help: "Installer operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)
	m.InstallDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "appruntime_install_duration_seconds",
		Help:    "Bundle install duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.WSConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "appruntime_ws_connections",
		Help: "Number of notification stream subscribers",
	})

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "appruntime_uptime_seconds",
		Help: "Runtime uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// RecordHTTPRequest records an admin API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLaunch records a launch outcome
func (m *Metrics) RecordLaunch(outcome string) {
	if m == nil {
		return
	}
	m.LaunchesTotal.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.Launches++
	if outcome != "created" && outcome != "reused" {
		m.snapshot.LaunchErrors++
	}
	m.mu.Unlock()
}

// RecordTransition records entry into a lifecycle state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(state).Inc()
}

// RecordCrash records a forced destruction
func (m *Metrics) RecordCrash(cause string) {
	if m == nil {
		return
	}
	m.CrashesTotal.WithLabelValues(cause).Inc()
	m.mu.Lock()
	m.snapshot.Crashes++
	m.mu.Unlock()
}

// RecordLeak records a leak diagnostic
func (m *Metrics) RecordLeak() {
	if m == nil {
		return
	}
	m.LeaksTotal.Inc()
	m.mu.Lock()
	m.snapshot.Leaks++
	m.mu.Unlock()
}

// ObserveFrame records a loop cycle duration
func (m *Metrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.FrameDuration.Observe(d.Seconds())
}

// SetRuntime updates the instance and stack gauges
func (m *Metrics) SetRuntime(instances, depth int) {
	if m == nil {
		return
	}
	m.InstancesActive.Set(float64(instances))
	m.StackDepth.Set(float64(depth))
}

// SetTasksPending sets the number of in-flight background units
func (m *Metrics) SetTasksPending(n int) {
	if m == nil {
		return
	}
	m.TasksPending.Set(float64(n))
}

// AddTasksDrained counts completions handed back to the loop
func (m *Metrics) AddTasksDrained(n int) {
	if m == nil || n == 0 {
		return
	}
	m.TasksDrained.Add(float64(n))
	m.mu.Lock()
	m.snapshot.Drained += int64(n)
	m.mu.Unlock()
}

// IncTasksCancelled counts a cancelled background unit
func (m *Metrics) IncTasksCancelled() {
	if m == nil {
		return
	}
	m.TasksCancelled.Inc()
}

// SetPackages sets package counts per location
func (m *Metrics) SetPackages(builtin, installed int) {
	if m == nil {
		return
	}
	m.Packages.WithLabelValues("builtin").Set(float64(builtin))
	m.Packages.WithLabelValues("installed").Set(float64(installed))
}

// RecordInstall records an installer operation
func (m *Metrics) RecordInstall(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.InstallsTotal.WithLabelValues(op, outcome).Inc()
	if op == "install" {
		m.InstallDuration.Observe(duration.Seconds())
	}
	m.mu.Lock()
	m.snapshot.Installs++
	if outcome != "success" {
		m.snapshot.InstallErrors++
	}
	m.mu.Unlock()
}

// IncWSConnections increments notification subscribers
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements notification subscribers
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current counters for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
