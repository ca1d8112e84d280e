// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and Prometheus
// metrics into the agent runtime.
//
// Spans follow the GenAI semantic conventions (gen_ai.* attributes) so
// agent runs, model calls and tool executions show up coherently in any
// OTel-compatible backend. Metrics are exported through the OTel
// Prometheus bridge and served from a plain promhttp handler.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/praxisagents/praxis/pkg/config"
)

// DefaultMetricsEndpoint is where the Prometheus scrape handler mounts.
const DefaultMetricsEndpoint = "/metrics"

var (
	globalMu      sync.RWMutex
	globalMetrics *Metrics
)

// SetGlobalMetrics installs the process-wide metrics recorder. Initialize
// calls this; tests may install their own.
func SetGlobalMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GlobalMetrics returns the process-wide metrics recorder, or nil when
// metrics are off. All recorder methods are nil-safe.
func GlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// GlobalTracer returns a span helper bound to the global tracer
// provider. Until Initialize installs a real provider the spans are
// no-ops, so runtime code can call this unconditionally.
func GlobalTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("praxis")}
}

// Manager owns the tracer and meter providers for one process.
type Manager struct {
	mu sync.RWMutex

	cfg         config.ObservabilityConfig
	serviceName string
	version     string

	tracerProvider trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	tracer         *Tracer
	metrics        *Metrics
}

// NewManager creates an uninitialized manager. Call Initialize before
// use; an uninitialized or disabled manager hands out no-op tracers.
func NewManager(cfg config.ObservabilityConfig, serviceName, version string) *Manager {
	if serviceName == "" {
		serviceName = "praxis"
	}
	return &Manager{
		cfg:            cfg,
		serviceName:    serviceName,
		version:        version,
		tracerProvider: noop.NewTracerProvider(),
	}
}

// NoopManager returns a manager that records nothing. Handy for tests
// and for callers that want the wiring without the overhead.
func NoopManager() *Manager {
	return NewManager(config.ObservabilityConfig{}, "praxis", "")
}

// Initialize builds the exporters and installs the global providers.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Enabled {
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(m.serviceName),
			semconv.ServiceVersion(m.version),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, m.cfg)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	m.tracerProvider = tp

	if m.cfg.Metrics {
		m.registry = prometheus.NewRegistry()
		promExporter, err := otelprom.New(otelprom.WithRegisterer(m.registry))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(promExporter),
			sdkmetric.WithResource(res),
		)
		metrics, err := newMetrics(m.meterProvider.Meter(m.serviceName))
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		m.metrics = metrics
		SetGlobalMetrics(metrics)
	}

	return nil
}

// Tracer returns the GenAI span helper bound to this manager's
// provider. Safe to call on a disabled manager.
func (m *Manager) Tracer() *Tracer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracer == nil {
		m.tracer = &Tracer{tracer: m.tracerProvider.Tracer(m.serviceName)}
	}
	return m.tracer
}

// Metrics returns the metrics recorder, or nil when metrics are off.
// All recorder methods are nil-safe.
func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsEnabled reports whether the Prometheus endpoint should be
// mounted.
func (m *Manager) MetricsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics != nil
}

// MetricsEndpoint returns the scrape path.
func (m *Manager) MetricsEndpoint() string { return DefaultMetricsEndpoint }

// MetricsHandler serves the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if tp, ok := m.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %v", errs)
	}
	return nil
}
