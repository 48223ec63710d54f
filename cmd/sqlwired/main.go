package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlwire/sqlwire/internal/api"
	"github.com/sqlwire/sqlwire/internal/config"
	"github.com/sqlwire/sqlwire/internal/health"
	"github.com/sqlwire/sqlwire/internal/metrics"
	"github.com/sqlwire/sqlwire/internal/registry"
)

func main() {
	configPath := flag.String("config", "configs/sqlwired.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("sqlwired starting...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d targets)", *configPath, len(cfg.Targets))

	// Initialize components
	m := metrics.New()
	r := registry.New(cfg, m)
	hc := health.NewChecker(r, m, cfg.HealthCheck)

	// Start health checker
	hc.Start()

	// Start REST API
	apiServer := api.NewServer(r, hc, m, cfg.Listen)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// Set up config hot-reload
	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		r.Reload(newCfg)
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("sqlwired ready - API:%d", cfg.Listen.APIPort)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	// Graceful shutdown
	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	r.Close()

	log.Printf("sqlwired stopped")
}
