// Package health pings every configured target on an interval and
// tracks per-target status for the /health and /ready endpoints.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlwire/sqlwire/internal/config"
	"github.com/sqlwire/sqlwire/internal/metrics"
	"github.com/sqlwire/sqlwire/internal/registry"
)

// Status represents the health status of a target's database.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// TargetHealth holds health information for a target.
type TargetHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic COM_PING health checks on targets.
type Checker struct {
	mu      sync.RWMutex
	targets map[string]*TargetHealth
	reg     *registry.Registry
	metrics *metrics.Collector

	interval         time.Duration
	failureThreshold int
	pingTimeout      time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker.
func NewChecker(r *registry.Registry, m *metrics.Collector, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		targets:          make(map[string]*TargetHealth),
		reg:              r,
		metrics:          m,
		interval:         hcCfg.Interval,
		failureThreshold: hcCfg.FailureThreshold,
		pingTimeout:      hcCfg.PingTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	// Run immediately on start
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	for name := range c.reg.List() {
		if c.reg.IsPaused(name) {
			continue
		}
		c.checkTarget(name)
	}
}

func (c *Checker) checkTarget(name string) {
	start := time.Now()
	err := c.ping(name)
	elapsed := time.Since(start)

	c.mu.Lock()
	th, ok := c.targets[name]
	if !ok {
		th = &TargetHealth{}
		c.targets[name] = th
	}
	th.LastCheck = time.Now()
	if err != nil {
		th.ConsecutiveFailures++
		th.LastError = err.Error()
		if th.ConsecutiveFailures >= c.failureThreshold {
			th.Status = StatusUnhealthy
		}
	} else {
		th.ConsecutiveFailures = 0
		th.LastError = ""
		th.Status = StatusHealthy
	}
	healthy := th.Status == StatusHealthy
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.HealthCheckCompleted(name, elapsed, healthy)
		c.metrics.SetTargetHealth(name, healthy)
	}
	if err != nil {
		slog.Warn("health check failed", "target", name, "err", err)
	}
}

func (c *Checker) ping(name string) error {
	cl, err := c.reg.Client(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.pingTimeout)
	defer cancel()
	return cl.Ping(ctx)
}

// GetStatus returns the health of one target.
func (c *Checker) GetStatus(name string) TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if th, ok := c.targets[name]; ok {
		return *th
	}
	return TargetHealth{}
}

// GetAllStatuses returns a copy of every target's health.
func (c *Checker) GetAllStatuses() map[string]TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]TargetHealth, len(c.targets))
	for name, th := range c.targets {
		out[name] = *th
	}
	return out
}

// IsHealthy reports whether a target is currently healthy. A target
// that has never been checked counts as healthy.
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	th, ok := c.targets[name]
	if !ok {
		return true
	}
	return th.Status != StatusUnhealthy
}

// OverallHealthy reports whether no target is unhealthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, th := range c.targets {
		if th.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
