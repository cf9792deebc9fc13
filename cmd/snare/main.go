// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeema/snare/pkg/agent"
	"github.com/mbeema/snare/pkg/capture"
	"github.com/mbeema/snare/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath     string
		iface          string
		filterExpr     string
		logLevel       string
		showVersion    bool
		listInterfaces bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&iface, "i", "", "interface to capture on (overrides config)")
	flag.StringVar(&filterExpr, "f", "", "filter expression (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&listInterfaces, "list-interfaces", false, "list capturable interfaces and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("snare %s (commit: %s, built: %s)\n", version, commit, buildDate)
		fmt.Println(capture.LibVersion())
		os.Exit(0)
	}

	if listInterfaces {
		printInterfaces()
		os.Exit(0)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config and environment
	if iface != "" {
		cfg.Capture.Interface = iface
	}
	if filterExpr != "" {
		cfg.Capture.Filter = filterExpr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting snare agent",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	a, err := agent.New(cfg, version, logger)
	if err != nil {
		logger.Fatal("failed to create agent", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}

	// Watch the config file for live filter reload
	var watcher *config.Watcher
	if configPath != "" {
		watcher = config.NewWatcher(configPath, a.Reload, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP for config reload
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			// Graceful shutdown with 30s timeout
			shutdownDone := make(chan struct{})
			go func() {
				if err := a.Stop(); err != nil {
					logger.Error("error during shutdown", zap.Error(err))
				}
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logger.Info("snare agent stopped")
			case <-time.After(30 * time.Second):
				logger.Error("shutdown timed out after 30s, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			a.Reload(newCfg)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/snare.yaml",
		"/etc/snare/snare.yaml",
		"/etc/snare.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	// Defaults plus environment; validated in main after flag overrides
	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func printInterfaces() {
	devices, err := capture.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list interfaces: %v\n", err)
		os.Exit(1)
	}
	for _, d := range devices {
		kind := ""
		if d.Loopback {
			kind = " (loopback)"
		}
		fmt.Printf("%d. %s%s [%s]\n", d.Index, d.Name, kind, d.Status)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
