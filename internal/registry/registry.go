// Package registry resolves target names to their configurations and
// owns the live client per target. Reads are lock-free via an
// immutable snapshot; mutations swap in a new one.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sqlwire/sqlwire/internal/client"
	"github.com/sqlwire/sqlwire/internal/config"
	"github.com/sqlwire/sqlwire/internal/metrics"
)

// snapshot is an immutable point-in-time view of the target table.
type snapshot struct {
	targets  map[string]config.TargetConfig
	defaults config.ClientDefaults
	paused   map[string]bool
}

// Registry maps target names to configs and lazily-created clients.
type Registry struct {
	snap atomic.Value // holds *snapshot
	wmu  sync.Mutex   // serializes snapshot mutations

	cmu     sync.Mutex
	clients map[string]*client.Client
	metrics *metrics.Collector
}

// New creates a Registry populated from the given config.
func New(cfg *config.Config, m *metrics.Collector) *Registry {
	snap := &snapshot{
		targets:  make(map[string]config.TargetConfig, len(cfg.Targets)),
		defaults: cfg.Defaults,
		paused:   make(map[string]bool),
	}
	for id, tc := range cfg.Targets {
		snap.targets[id] = tc
	}

	r := &Registry{
		clients: make(map[string]*client.Client),
		metrics: m,
	}
	r.snap.Store(snap)
	return r
}

func (r *Registry) load() *snapshot {
	return r.snap.Load().(*snapshot)
}

// Resolve looks up the TargetConfig for the given name. Lock-free.
func (r *Registry) Resolve(name string) (config.TargetConfig, error) {
	snap := r.load()
	tc, ok := snap.targets[name]
	if !ok {
		return config.TargetConfig{}, fmt.Errorf("unknown target: %q", name)
	}
	return tc, nil
}

// Defaults returns the current client defaults. Lock-free.
func (r *Registry) Defaults() config.ClientDefaults {
	return r.load().defaults
}

// List returns all target names and their configs.
func (r *Registry) List() map[string]config.TargetConfig {
	snap := r.load()
	result := make(map[string]config.TargetConfig, len(snap.targets))
	for id, tc := range snap.targets {
		result[id] = tc
	}
	return result
}

// IsPaused returns whether a target is currently paused. Lock-free.
func (r *Registry) IsPaused(name string) bool {
	return r.load().paused[name]
}

// Pause marks a target paused. Returns false if the target is unknown.
func (r *Registry) Pause(name string) bool {
	return r.setPaused(name, true)
}

// Resume unpauses a target. Returns false if the target is unknown.
func (r *Registry) Resume(name string) bool {
	return r.setPaused(name, false)
}

func (r *Registry) setPaused(name string, paused bool) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.targets[name]; !ok {
		return false
	}
	next := cur.clone()
	if paused {
		next.paused[name] = true
	} else {
		delete(next.paused, name)
	}
	r.snap.Store(next)
	return true
}

func (s *snapshot) clone() *snapshot {
	targets := make(map[string]config.TargetConfig, len(s.targets))
	for id, tc := range s.targets {
		targets[id] = tc
	}
	paused := make(map[string]bool, len(s.paused))
	for id, v := range s.paused {
		paused[id] = v
	}
	return &snapshot{targets: targets, defaults: s.defaults, paused: paused}
}

// Client returns the live client for a target, creating it on first
// use.
func (r *Registry) Client(name string) (*client.Client, error) {
	tc, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	r.cmu.Lock()
	defer r.cmu.Unlock()
	if c, ok := r.clients[name]; ok {
		return c, nil
	}

	opts := []client.Option{}
	if r.metrics != nil {
		opts = append(opts, client.WithMetrics(r.metrics))
	}
	c := client.New(name, clientConfig(tc, r.Defaults()), opts...)
	r.clients[name] = c
	return c, nil
}

// clientConfig maps a target configuration onto a client one.
func clientConfig(tc config.TargetConfig, defaults config.ClientDefaults) client.Config {
	return client.Config{
		Host:               tc.Host,
		Port:               tc.Port,
		User:               tc.User,
		Password:           tc.Password,
		Database:           tc.Database,
		Charset:            tc.EffectiveCharacter(defaults),
		ConvertToTimestamp: tc.EffectiveConvertToTimestamp(defaults),
		RetryDelay:         tc.EffectiveRetryDelayTime(defaults),
		MaxRetries:         tc.EffectiveMaxRetryTimes(defaults),
	}
}

// Reload replaces the target table from a new config. Clients whose
// target vanished or changed are closed; they are recreated on next
// use.
func (r *Registry) Reload(cfg *config.Config) {
	r.wmu.Lock()
	cur := r.load()
	targets := make(map[string]config.TargetConfig, len(cfg.Targets))
	for id, tc := range cfg.Targets {
		targets[id] = tc
	}
	paused := make(map[string]bool)
	for id, v := range cur.paused {
		if _, exists := targets[id]; exists {
			paused[id] = v
		}
	}
	r.snap.Store(&snapshot{targets: targets, defaults: cfg.Defaults, paused: paused})
	r.wmu.Unlock()

	r.cmu.Lock()
	defer r.cmu.Unlock()
	for id, c := range r.clients {
		tc, exists := targets[id]
		if exists && clientConfig(tc, cfg.Defaults) == clientConfig(cur.targets[id], cur.defaults) {
			continue
		}
		slog.Info("closing client after config change", "target", id)
		c.Close()
		delete(r.clients, id)
		if !exists && r.metrics != nil {
			r.metrics.RemoveTarget(id)
		}
	}
}

// Close shuts down every live client.
func (r *Registry) Close() {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
