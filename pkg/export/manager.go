// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mbeema/snare/pkg/config"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0

	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Manager fans captured packets out to the configured sinks and ships
// statistics snapshots to the OTLP exporter.
type Manager struct {
	logger *zap.Logger
	sinks  []Sink
	otlp   *OTLPExporter
	brk    *breaker

	written     atomic.Uint64
	writeErrors atomic.Uint64
}

// NewManager builds the sinks and exporters selected by the config.
// linkType and snapLen describe the capture session feeding the manager
// and are recorded in the pcap file header.
func NewManager(cfg *config.Config, linkType layers.LinkType, snapLen int, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger,
		brk:    newBreaker(breakerThreshold, breakerCooldown),
	}

	if cfg.Output.PCAP.Enabled {
		sink, err := NewPCAPSink(cfg.Output.PCAP.Path, snapLen, linkType)
		if err != nil {
			return nil, err
		}
		m.sinks = append(m.sinks, sink)
	}

	if cfg.Output.Stdout.Enabled {
		m.sinks = append(m.sinks, NewStdoutSink(cfg.Output.Stdout.Format, linkType))
	}

	if cfg.Exporters.OTLP.Enabled {
		exp, err := NewOTLPExporter(&cfg.Exporters.OTLP, logger)
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			m.otlp = exp
		}
	}

	m.logger.Info("export manager started",
		zap.Int("sinks", len(m.sinks)),
		zap.Bool("otlp", m.otlp != nil),
	)

	return m, nil
}

// WritePacket delivers one packet to every sink. A failing sink does not
// stop delivery to the others.
func (m *Manager) WritePacket(data []byte, ci gopacket.CaptureInfo) {
	var failed bool
	for _, sink := range m.sinks {
		if err := sink.WritePacket(data, ci); err != nil {
			failed = true
			m.writeErrors.Add(1)
			m.logger.Warn("sink write failed",
				zap.String("sink", sink.Name()),
				zap.Error(err),
			)
		}
	}
	if !failed {
		m.written.Add(1)
	}
}

// ExportStats ships one statistics snapshot via OTLP with retry and a
// circuit breaker. A no-op when OTLP is disabled.
func (m *Manager) ExportStats(ctx context.Context, p StatsPoint) {
	if m.otlp == nil {
		return
	}

	p.Written = m.written.Load()
	p.WriteErrors = m.writeErrors.Load()

	if !m.brk.allow() {
		m.logger.Debug("circuit breaker open, dropping stats export")
		return
	}

	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		expCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := m.otlp.ExportStats(expCtx, p)
		cancel()

		if err == nil {
			m.brk.success()
			return
		}

		m.brk.failure()

		if attempt == maxRetries {
			m.logger.Error("stats export failed after retries",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return
		}

		m.logger.Warn("stats export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		// Exponential backoff with cap
		backoff = time.Duration(math.Min(
			float64(backoff)*backoffFactor,
			float64(maxBackoff),
		))
	}
}

// Written returns the number of packets delivered to all sinks.
func (m *Manager) Written() uint64 { return m.written.Load() }

// WriteErrors returns the number of failed sink writes.
func (m *Manager) WriteErrors() uint64 { return m.writeErrors.Load() }

// Close flushes and closes every sink and shuts down the OTLP exporter.
func (m *Manager) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			m.logger.Error("sink close error",
				zap.String("sink", sink.Name()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if m.otlp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.otlp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("export manager stopped",
		zap.Uint64("packets_written", m.written.Load()),
		zap.Uint64("write_errors", m.writeErrors.Load()),
	)

	return firstErr
}

// breaker is a small circuit breaker guarding the OTLP export path.
// After threshold consecutive failures the path is blocked for the
// cooldown; the first probe after the cooldown re-opens it on failure.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !time.Now().Before(b.openUntil)
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}
