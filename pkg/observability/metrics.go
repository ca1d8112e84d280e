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

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records runtime counters and histograms through the OTel
// Prometheus bridge. All Record methods are safe on a nil receiver so
// call sites do not have to guard for disabled metrics.
type Metrics struct {
	agentDuration metric.Float64Histogram
	agentRuns     metric.Int64Counter
	agentErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmRequests     metric.Int64Counter
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.agentDuration, err = meter.Float64Histogram(
		"praxis_agent_run_duration_seconds",
		metric.WithDescription("Agent invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("agent duration histogram: %w", err)
	}
	if m.agentRuns, err = meter.Int64Counter(
		"praxis_agent_runs_total",
		metric.WithDescription("Total agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("agent runs counter: %w", err)
	}
	if m.agentErrors, err = meter.Int64Counter(
		"praxis_agent_errors_total",
		metric.WithDescription("Total failed agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("agent errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"praxis_llm_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("llm duration histogram: %w", err)
	}
	if m.llmRequests, err = meter.Int64Counter(
		"praxis_llm_requests_total",
		metric.WithDescription("Total model requests"),
	); err != nil {
		return nil, fmt.Errorf("llm requests counter: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"praxis_llm_input_tokens_total",
		metric.WithDescription("Total input tokens sent to the model"),
	); err != nil {
		return nil, fmt.Errorf("llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"praxis_llm_output_tokens_total",
		metric.WithDescription("Total output tokens from the model"),
	); err != nil {
		return nil, fmt.Errorf("llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"praxis_llm_errors_total",
		metric.WithDescription("Total failed model requests"),
	); err != nil {
		return nil, fmt.Errorf("llm errors counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"praxis_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("tool duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter(
		"praxis_tool_calls_total",
		metric.WithDescription("Total tool executions"),
	); err != nil {
		return nil, fmt.Errorf("tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"praxis_tool_errors_total",
		metric.WithDescription("Total failed tool executions"),
	); err != nil {
		return nil, fmt.Errorf("tool errors counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"praxis_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(
		"praxis_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("http requests counter: %w", err)
	}

	return m, nil
}

// RecordAgentRun records one agent invocation.
func (m *Metrics) RecordAgentRun(ctx context.Context, agentName string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agentName))
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRuns.Add(ctx, 1, attrs)
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

// RecordLLMCall records one model request with token usage.
func (m *Metrics) RecordLLMCall(ctx context.Context, modelName string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", modelName))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(ctx context.Context, toolName string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", toolName))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}
