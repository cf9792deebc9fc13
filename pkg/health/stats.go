// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the agent.
type Stats struct {
	startTime time.Time

	PacketsCaptured atomic.Int64 // pulled off the capture socket, including filter-rejected
	PacketsFiltered atomic.Int64 // rejected by the filter
	KernelDrops     atomic.Int64 // dropped by the kernel on the interface
	PacketsWritten  atomic.Int64 // delivered to every sink
	WriteErrors     atomic.Int64
	ExportFailures  atomic.Int64 // failed OTLP stats exports
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns agent uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	MemoryRSSBytes  uint64  `json:"memory_rss_bytes"`
	PacketsCaptured int64   `json:"packets_captured"`
	PacketsFiltered int64   `json:"packets_filtered"`
	KernelDrops     int64   `json:"kernel_drops"`
	PacketsWritten  int64   `json:"packets_written"`
	WriteErrors     int64   `json:"write_errors"`
	ExportFailures  int64   `json:"export_failures"`
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		UptimeSeconds:   s.Uptime().Seconds(),
		Goroutines:      runtime.NumGoroutine(),
		MemoryRSSBytes:  memStats.Sys,
		PacketsCaptured: s.PacketsCaptured.Load(),
		PacketsFiltered: s.PacketsFiltered.Load(),
		KernelDrops:     s.KernelDrops.Load(),
		PacketsWritten:  s.PacketsWritten.Load(),
		WriteErrors:     s.WriteErrors.Load(),
		ExportFailures:  s.ExportFailures.Load(),
	}
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	return prometheusFormat(snap)
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "snare_agent_uptime_seconds", "gauge", "Agent uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "snare_agent_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "snare_agent_memory_rss_bytes", "gauge", "Memory usage in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "snare_packets_captured_total", "counter", "Total packets received from the capture socket", float64(snap.PacketsCaptured))
	b = appendMetric(b, "snare_packets_filtered_total", "counter", "Total packets rejected by the filter", float64(snap.PacketsFiltered))
	b = appendMetric(b, "snare_kernel_drops_total", "counter", "Total packets dropped by the kernel", float64(snap.KernelDrops))
	b = appendMetric(b, "snare_packets_written_total", "counter", "Total packets delivered to all sinks", float64(snap.PacketsWritten))
	b = appendMetric(b, "snare_write_errors_total", "counter", "Total failed sink writes", float64(snap.WriteErrors))
	b = appendMetric(b, "snare_export_failures_total", "counter", "Total failed stats exports", float64(snap.ExportFailures))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, f float64) []byte {
	// Use simple formatting; avoid importing strconv for this
	if f == float64(int64(f)) {
		return append(b, []byte(intToStr(int64(f)))...)
	}
	return append(b, []byte(floatToStr(f))...)
}

func intToStr(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte(n%10) + '0'
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func floatToStr(f float64) string {
	// Simple 6 decimal place formatting
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := int64((f - float64(whole)) * 1000000)
	if frac < 0 {
		frac = -frac
	}

	s := intToStr(whole) + "."
	fracStr := intToStr(frac)
	// Pad to 6 digits
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	s += fracStr

	// Trim trailing zeros after decimal
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}

	if neg {
		s = "-" + s
	}
	return s
}
