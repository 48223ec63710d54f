package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for sqlwire.
type Collector struct {
	Registry          *prometheus.Registry
	tasksTotal        *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	reconnectsTotal   *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec
	preparesTotal     *prometheus.CounterVec
	preparedCacheSize *prometheus.GaugeVec
	longDataBytes     *prometheus.CounterVec
	targetHealth      *prometheus.GaugeVec

	// Health check metrics
	healthCheckDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics using a custom
// registry. Safe to call multiple times (e.g., in tests or on config
// reload) — each call creates an independent registry that doesn't
// conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlwire_tasks_total",
				Help: "Completed tasks per target by kind and status",
			},
			[]string{"target", "kind", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlwire_task_duration_seconds",
				Help:    "Duration from task submission to resolution",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"target", "kind"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlwire_queue_depth",
				Help: "Tasks waiting behind the in-flight slot per target",
			},
			[]string{"target"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlwire_reconnects_total",
				Help: "Successful transport connects per target (first connect included)",
			},
			[]string{"target"},
		),
		authFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlwire_auth_failures_total",
				Help: "Login failures per target",
			},
			[]string{"target"},
		),
		preparesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlwire_prepares_total",
				Help: "COM_STMT_PREPARE round-trips per target (cache misses)",
			},
			[]string{"target"},
		),
		preparedCacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlwire_prepared_cache_size",
				Help: "Prepared statements cached on the current session per target",
			},
			[]string{"target"},
		),
		longDataBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlwire_long_data_bytes_total",
				Help: "Bytes streamed as long data per target and direction",
			},
			[]string{"target", "direction"},
		),
		targetHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqlwire_target_health",
				Help: "Health status of target database (1=healthy, 0=unhealthy)",
			},
			[]string{"target"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlwire_health_check_duration_seconds",
				Help:    "Duration of health check pings",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"target", "status"},
		),
	}

	reg.MustRegister(
		c.tasksTotal,
		c.taskDuration,
		c.queueDepth,
		c.reconnectsTotal,
		c.authFailuresTotal,
		c.preparesTotal,
		c.preparedCacheSize,
		c.longDataBytes,
		c.targetHealth,
		c.healthCheckDuration,
	)

	return c
}

// TaskCompleted records a resolved task and its duration.
func (c *Collector) TaskCompleted(target, kind, status string, d time.Duration) {
	c.tasksTotal.WithLabelValues(target, kind, status).Inc()
	c.taskDuration.WithLabelValues(target, kind).Observe(d.Seconds())
}

// SetQueueDepth updates the queue depth gauge for a target.
func (c *Collector) SetQueueDepth(target string, depth int) {
	c.queueDepth.WithLabelValues(target).Set(float64(depth))
}

// Reconnect increments the connect counter.
func (c *Collector) Reconnect(target string) {
	c.reconnectsTotal.WithLabelValues(target).Inc()
}

// AuthFailure increments the login failure counter.
func (c *Collector) AuthFailure(target string) {
	c.authFailuresTotal.WithLabelValues(target).Inc()
}

// PrepareIssued records a COM_STMT_PREPARE round-trip.
func (c *Collector) PrepareIssued(target string) {
	c.preparesTotal.WithLabelValues(target).Inc()
}

// SetPreparedCacheSize updates the prepared cache gauge.
func (c *Collector) SetPreparedCacheSize(target string, size int) {
	c.preparedCacheSize.WithLabelValues(target).Set(float64(size))
}

// LongData records streamed long-data bytes. direction is "in" or
// "out".
func (c *Collector) LongData(target, direction string, n int64) {
	c.longDataBytes.WithLabelValues(target, direction).Add(float64(n))
}

// SetTargetHealth sets the health gauge for a target.
func (c *Collector) SetTargetHealth(target string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.targetHealth.WithLabelValues(target).Set(val)
}

// HealthCheckCompleted records a health check ping duration and result.
func (c *Collector) HealthCheckCompleted(target string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(target, status).Observe(d.Seconds())
}

// RemoveTarget removes all metrics for a target.
func (c *Collector) RemoveTarget(target string) {
	labels := prometheus.Labels{"target": target}
	c.tasksTotal.DeletePartialMatch(labels)
	c.taskDuration.DeletePartialMatch(labels)
	c.queueDepth.DeleteLabelValues(target)
	c.reconnectsTotal.DeleteLabelValues(target)
	c.authFailuresTotal.DeleteLabelValues(target)
	c.preparesTotal.DeleteLabelValues(target)
	c.preparedCacheSize.DeleteLabelValues(target)
	c.longDataBytes.DeletePartialMatch(labels)
	c.targetHealth.DeleteLabelValues(target)
	c.healthCheckDuration.DeletePartialMatch(labels)
}
