// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent wires the capture session, sinks, exporters, and health
// server together and runs the capture loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/mbeema/snare/pkg/capture"
	"github.com/mbeema/snare/pkg/config"
	"github.com/mbeema/snare/pkg/export"
	"github.com/mbeema/snare/pkg/filter"
	"github.com/mbeema/snare/pkg/health"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Agent owns one capture session and everything downstream of it.
// Config is stored as an atomic pointer, safe for concurrent reload.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	session      *capture.Session
	exporter     *export.Manager
	healthServer *health.Server
	healthStats  *health.Stats
	version      string

	// Filter reloads cross into the capture goroutine through this
	// channel; SetFilter must not race with ReadPacket.
	filterCh chan []bpf.Instruction

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an agent from configuration. The capture session is
// created but not activated; Start activates it.
func New(cfg *config.Config, version string, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		logger:      logger,
		version:     version,
		healthStats: health.NewStats(),
		filterCh:    make(chan []bpf.Instruction, 1),
	}
	a.cfg.Store(cfg)

	// Fail on an uncompilable filter before touching the interface.
	if _, err := filter.Compile(cfg.Capture.Filter); err != nil {
		return nil, err
	}

	session, err := capture.NewSession(cfg.Capture.Interface, capture.Config{
		SnapLen:     cfg.Capture.SnapLen,
		Promiscuous: cfg.Capture.Promiscuous,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	a.session = session

	return a, nil
}

// Start activates the session and begins capturing.
func (a *Agent) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx
	a.cancel = cancel

	cfg := a.cfg.Load()

	if info, err := host.Info(); err == nil {
		a.logger.Info("host info",
			zap.String("hostname", info.Hostname),
			zap.String("platform", info.Platform),
			zap.String("kernel", info.KernelVersion),
		)
	}

	if err := a.session.Activate(); err != nil {
		if !errors.Is(err, capture.ErrPromiscNotSupported) {
			return fmt.Errorf("activate capture: %w", err)
		}
		// Session is usable, just not promiscuous.
		a.logger.Warn("promiscuous mode not supported on this interface",
			zap.String("interface", cfg.Capture.Interface),
		)
	}

	if err := a.session.SetNonblock(true); err != nil {
		a.session.Close()
		return fmt.Errorf("set nonblocking: %w", err)
	}

	prog, err := filter.Compile(cfg.Capture.Filter)
	if err != nil {
		a.session.Close()
		return err
	}
	if err := a.session.SetFilter(prog); err != nil {
		a.session.Close()
		return fmt.Errorf("install filter: %w", err)
	}

	exporter, err := export.NewManager(cfg, a.session.LinkType(), a.session.SnapLen(), a.logger)
	if err != nil {
		a.session.Close()
		return fmt.Errorf("create exporter: %w", err)
	}
	a.exporter = exporter

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, a.version, cfg.Capture.Interface, a.healthStats, a.logger)
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server start error", zap.Error(err))
		} else {
			a.healthServer.SetReady(true)
		}
	}

	a.wg.Add(1)
	go a.captureLoop(ctx)

	a.wg.Add(1)
	go a.statsLoop(ctx)

	a.logger.Info("agent started",
		zap.String("interface", cfg.Capture.Interface),
		zap.String("link_type", a.session.LinkType().String()),
		zap.Int("snaplen", a.session.SnapLen()),
		zap.Bool("promiscuous", cfg.Capture.Promiscuous),
		zap.String("filter", cfg.Capture.Filter),
	)

	return nil
}

// Reload applies a new configuration. Only the filter expression is
// applied live; other changes take effect on restart.
func (a *Agent) Reload(cfg *config.Config) {
	old := a.cfg.Load()

	if cfg.Capture.Interface != old.Capture.Interface {
		a.logger.Warn("interface change requires restart, ignoring",
			zap.String("current", old.Capture.Interface),
			zap.String("requested", cfg.Capture.Interface),
		)
	}

	if cfg.Capture.Filter != old.Capture.Filter {
		prog, err := filter.Compile(cfg.Capture.Filter)
		if err != nil {
			a.logger.Error("new filter rejected, keeping current", zap.Error(err))
			return
		}
		// Replace any pending program rather than queue behind it.
		select {
		case <-a.filterCh:
		default:
		}
		a.filterCh <- prog
		a.logger.Info("filter updated", zap.String("filter", cfg.Capture.Filter))
	}

	a.cfg.Store(cfg)
}

// captureLoop polls the capture descriptor and drains the socket queue
// on each wakeup. Runs until the context is cancelled or BreakLoop is
// called.
func (a *Agent) captureLoop(ctx context.Context) {
	defer a.wg.Done()

	cfg := a.cfg.Load()
	timeoutMs := int(cfg.Capture.PollTimeout.Milliseconds())
	fds := []unix.PollFd{{Fd: int32(a.session.Fd()), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		case prog := <-a.filterCh:
			if err := a.session.SetFilter(prog); err != nil {
				a.logger.Error("filter install failed", zap.Error(err))
			}
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			a.logger.Error("poll failed", zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}

		// Drain everything queued before polling again.
		for {
			n, err := a.session.ReadPacket(a.handlePacket)
			if err != nil {
				if errors.Is(err, capture.ErrLoopBroken) {
					return
				}
				a.logger.Warn("read failed", zap.Error(err))
				break
			}
			if n == 0 {
				break
			}
		}
	}
}

// handlePacket hands one packet to the sinks. The health counters are
// owned by the stats ticker, which refreshes them from Session.Stats;
// counting here as well would have the two sources fight.
func (a *Agent) handlePacket(data []byte, ci gopacket.CaptureInfo) {
	a.exporter.WritePacket(data, ci)
}

// statsLoop periodically reads session counters, refreshes the health
// stats, and ships a snapshot via OTLP.
func (a *Agent) statsLoop(ctx context.Context) {
	defer a.wg.Done()

	cfg := a.cfg.Load()
	ticker := time.NewTicker(cfg.Capture.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.publishStats(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) publishStats(ctx context.Context) {
	cfg := a.cfg.Load()

	st, err := a.session.Stats()
	if err != nil {
		a.logger.Warn("stats read failed", zap.Error(err))
		return
	}

	a.healthStats.PacketsCaptured.Store(int64(st.Received))
	a.healthStats.PacketsFiltered.Store(int64(st.DroppedByFilter))
	a.healthStats.KernelDrops.Store(int64(st.InterfaceDrops))
	a.healthStats.PacketsWritten.Store(int64(a.exporter.Written()))
	a.healthStats.WriteErrors.Store(int64(a.exporter.WriteErrors()))

	fields := []zap.Field{
		zap.Uint64("received", st.Received),
		zap.Uint64("dropped_by_filter", st.DroppedByFilter),
		zap.Uint64("interface_drops", st.InterfaceDrops),
		zap.Uint64("written", a.exporter.Written()),
	}
	if counters, err := psnet.IOCounters(true); err == nil {
		for _, c := range counters {
			if c.Name == cfg.Capture.Interface {
				fields = append(fields,
					zap.Uint64("if_bytes_recv", c.BytesRecv),
					zap.Uint64("if_bytes_sent", c.BytesSent),
				)
				break
			}
		}
	}
	a.logger.Info("capture stats", fields...)

	a.exporter.ExportStats(ctx, export.StatsPoint{
		Timestamp:       time.Now(),
		Interface:       cfg.Capture.Interface,
		Received:        st.Received,
		DroppedByFilter: st.DroppedByFilter,
		InterfaceDrops:  st.InterfaceDrops,
	})
}

// Stop shuts the agent down. Safe to call more than once.
func (a *Agent) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.cancel != nil {
			a.cancel()
		}
		a.session.BreakLoop()
		a.wg.Wait()

		if a.healthServer != nil {
			a.healthServer.SetReady(false)
			a.healthServer.Stop()
		}

		if a.exporter != nil {
			if cerr := a.exporter.Close(); cerr != nil {
				a.logger.Error("exporter close error", zap.Error(cerr))
				err = cerr
			}
		}

		a.session.Close()

		a.logger.Info("agent stopped")
	})
	return err
}
