// reservoird runs a standalone resource layer: a set of dialed
// connection pools and a stats/metrics HTTP endpoint, driven by a TOML
// configuration file.
//
// Usage:
//
//	reservoird [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.reservoir/config.toml")
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torontoai/reservoir/lib/core"
	"github.com/torontoai/reservoir/lib/logger"
	"github.com/torontoai/reservoir/lib/metrics"
	"github.com/torontoai/reservoir/lib/pool"
	"github.com/torontoai/reservoir/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".reservoir", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reservoird version %s\n", version.Full())
		return 0
	}

	log := logger.Get()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		return 1
	}

	// Standalone pools are dialed from their configured endpoints.
	lifecycles := make(map[string]pool.Lifecycle, len(cfg.Pools))
	for _, pc := range cfg.Pools {
		lc, err := pc.DialLifecycle()
		if err != nil {
			log.WithError(err).WithField("pool", pc.Name).Error("invalid pool endpoint")
			return 1
		}
		lifecycles[pc.Name] = lc
	}

	_, reg, err := cfg.Build(lifecycles)
	if err != nil {
		log.WithError(err).Error("failed to build resource layer")
		return 1
	}
	defer reg.Close()

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/stats", reg.Handler())

		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("stats server failed")
			}
		}()
		log.WithField("listen", cfg.Metrics.Listen).Info("stats server started")
	}

	log.WithField("pools", len(cfg.Pools)).WithField("version", version.Version).Info("reservoird started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("stats server shutdown error")
		}
	}

	log.Info("reservoird stopped")
	return 0
}
