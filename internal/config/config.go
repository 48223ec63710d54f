package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for sqlwired.
type Config struct {
	Listen      ListenConfig            `yaml:"listen"`
	Defaults    ClientDefaults          `yaml:"defaults"`
	HealthCheck HealthCheckConfig       `yaml:"health_check"`
	Targets     map[string]TargetConfig `yaml:"targets"`
}

// ListenConfig defines the HTTP bridge bind address.
type ListenConfig struct {
	APIPort int    `yaml:"api_port"`
	APIBind string `yaml:"api_bind"`
}

// ClientDefaults defines client settings applied when targets don't
// override.
type ClientDefaults struct {
	Character          string        `yaml:"character"`
	ConvertToTimestamp bool          `yaml:"convert_to_timestamp"`
	RetryDelayTime     time.Duration `yaml:"retry_delay_time"`
	MaxRetryTimes      int           `yaml:"max_retry_times"`
}

// HealthCheckConfig controls the periodic target pinger.
type HealthCheckConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
}

// TargetConfig holds the connection configuration for a single MySQL
// target.
type TargetConfig struct {
	Host               string         `yaml:"host"`
	Port               int            `yaml:"port"`
	User               string         `yaml:"user"`
	Password           string         `yaml:"password"`
	Database           string         `yaml:"database"`
	Character          *string        `yaml:"character,omitempty"`
	ConvertToTimestamp *bool          `yaml:"convert_to_timestamp,omitempty"`
	RetryDelayTime     *time.Duration `yaml:"retry_delay_time,omitempty"`
	MaxRetryTimes      *int           `yaml:"max_retry_times,omitempty"`
}

// EffectiveCharacter returns the target's character set or the default.
func (t TargetConfig) EffectiveCharacter(defaults ClientDefaults) string {
	if t.Character != nil {
		return *t.Character
	}
	return defaults.Character
}

// EffectiveConvertToTimestamp returns the target's timestamp policy or
// the default.
func (t TargetConfig) EffectiveConvertToTimestamp(defaults ClientDefaults) bool {
	if t.ConvertToTimestamp != nil {
		return *t.ConvertToTimestamp
	}
	return defaults.ConvertToTimestamp
}

// EffectiveRetryDelayTime returns the target's reconnect delay or the
// default.
func (t TargetConfig) EffectiveRetryDelayTime(defaults ClientDefaults) time.Duration {
	if t.RetryDelayTime != nil {
		return *t.RetryDelayTime
	}
	return defaults.RetryDelayTime
}

// EffectiveMaxRetryTimes returns the target's retry bound or the
// default. Zero means unlimited, negative disables reconnection.
func (t TargetConfig) EffectiveMaxRetryTimes(defaults ClientDefaults) int {
	if t.MaxRetryTimes != nil {
		return *t.MaxRetryTimes
	}
	return defaults.MaxRetryTimes
}

// Redacted returns a copy of the TargetConfig with the password masked.
func (t TargetConfig) Redacted() TargetConfig {
	c := t
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Defaults.Character == "" {
		cfg.Defaults.Character = "utf8mb4"
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 15 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
	if cfg.HealthCheck.PingTimeout == 0 {
		cfg.HealthCheck.PingTimeout = 5 * time.Second
	}
	for id, t := range cfg.Targets {
		if t.Host == "" {
			t.Host = "127.0.0.1"
		}
		if t.Port == 0 {
			t.Port = 3306
		}
		cfg.Targets[id] = t
	}
}

func validate(cfg *Config) error {
	for id, target := range cfg.Targets {
		if target.User == "" {
			return fmt.Errorf("target %q: user is required", id)
		}
		if target.Character != nil && *target.Character != "utf8" && *target.Character != "utf8mb4" {
			return fmt.Errorf("target %q: unsupported character %q (must be utf8 or utf8mb4)", id, *target.Character)
		}
	}
	if cfg.Defaults.Character != "" && cfg.Defaults.Character != "utf8" && cfg.Defaults.Character != "utf8mb4" {
		return fmt.Errorf("defaults: unsupported character %q (must be utf8 or utf8mb4)", cfg.Defaults.Character)
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
