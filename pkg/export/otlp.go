// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/mbeema/snare/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

// OTLPExporter sends capture statistics via OTLP gRPC with automatic
// reconnection.
type OTLPExporter struct {
	logger    *zap.Logger
	endpoint  string
	opts      []grpc.DialOption
	startTime time.Time // session activation, for cumulative sums

	mu        sync.RWMutex
	conn      *grpc.ClientConn
	metricSvc colmetricspb.MetricsServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC exporter for capture
// statistics.
func NewOTLPExporter(cfg *config.OTLPConfig, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Enable gzip compression for gRPC (default: gzip)
	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	e := &OTLPExporter{
		logger:    logger,
		endpoint:  cfg.Endpoint,
		opts:      opts,
		startTime: time.Now(),
	}

	if err := e.connect(); err != nil {
		return nil, err
	}

	return e, nil
}

// connect establishes or re-establishes the gRPC connection.
func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}

	e.conn = conn
	e.metricSvc = colmetricspb.NewMetricsServiceClient(conn)

	return nil
}

// ensureConnected checks connection health and reconnects if needed.
func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}

	state := conn.GetState()
	switch state {
	case connectivity.Ready, connectivity.Idle:
		return nil
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	case connectivity.Connecting:
		// Let it finish connecting
		return nil
	default:
		return nil
	}
}

// reconnect closes the old connection and creates a new one.
func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check under write lock
	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))

	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}

	e.logger.Info("reconnected to OTLP endpoint")
	return nil
}

// resource returns the OTEL resource attributes for this agent.
func (e *OTLPExporter) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()

	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
		strAttr("service.name", "snare"),
		strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, os.Getpid())),
		strAttr("telemetry.sdk.name", "snare"),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", "0.1.0"),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(os.Getpid())),
	}}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

// ExportStats sends one statistics snapshot as cumulative sums.
func (e *OTLPExporter) ExportStats(ctx context.Context, p StatsPoint) error {
	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	req := &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{
			{
				Resource: e.resource(),
				ScopeMetrics: []*metricspb.ScopeMetrics{
					{
						Scope: &commonpb.InstrumentationScope{
							Name:    "snare",
							Version: "0.1.0",
						},
						Metrics: e.convertStats(p),
					},
				},
			},
		},
	}

	e.mu.RLock()
	svc := e.metricSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, req)
	return err
}

func (e *OTLPExporter) convertStats(p StatsPoint) []*metricspb.Metric {
	attrs := []*commonpb.KeyValue{
		strAttr("network.interface.name", p.Interface),
	}

	counters := []struct {
		name string
		desc string
		val  uint64
	}{
		{"snare.packets.received", "Packets pulled off the capture socket, including filter-rejected", p.Received},
		{"snare.packets.dropped_by_filter", "Packets rejected by the capture filter", p.DroppedByFilter},
		{"snare.packets.interface_drops", "Packets dropped by the kernel on the interface", p.InterfaceDrops},
		{"snare.packets.written", "Packets delivered to all sinks", p.Written},
		{"snare.sink.write_errors", "Failed sink writes", p.WriteErrors},
	}

	ts := uint64(p.Timestamp.UnixNano())
	startTs := uint64(e.startTime.UnixNano())

	metrics := make([]*metricspb.Metric, 0, len(counters))
	for _, c := range counters {
		metrics = append(metrics, &metricspb.Metric{
			Name:        c.name,
			Description: c.desc,
			Unit:        "{packet}",
			Data: &metricspb.Metric_Sum{
				Sum: &metricspb.Sum{
					IsMonotonic:            true,
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					DataPoints: []*metricspb.NumberDataPoint{
						{
							StartTimeUnixNano: startTs,
							TimeUnixNano:      ts,
							Value:             &metricspb.NumberDataPoint_AsInt{AsInt: int64(c.val)},
							Attributes:        attrs,
						},
					},
				},
			},
		})
	}
	return metrics
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
