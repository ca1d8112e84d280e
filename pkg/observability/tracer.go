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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisagents/praxis/pkg/config"
)

// GenAI semantic convention attribute keys.
const (
	AttrOperationName = "gen_ai.operation.name"
	AttrSystem        = "gen_ai.system"
	AttrAgentName     = "gen_ai.agent.name"
	AttrRequestModel  = "gen_ai.request.model"
	AttrInputTokens   = "gen_ai.usage.input_tokens"
	AttrOutputTokens  = "gen_ai.usage.output_tokens"
	AttrFinishReasons = "gen_ai.response.finish_reasons"
	AttrToolName      = "gen_ai.tool.name"
	AttrToolCallID    = "gen_ai.tool.call.id"

	AttrInvocationID = "praxis.invocation_id"
	AttrSessionID    = "praxis.session_id"
)

// GenAI operation names.
const (
	OpInvokeAgent     = "invoke_agent"
	OpGenerateContent = "generate_content"
	OpExecuteTool     = "execute_tool"
)

func newSpanExporter(ctx context.Context, cfg config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		return exporter, nil
	case "stdout", "":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// Tracer starts spans named and attributed per the GenAI semantic
// conventions. The zero helper methods on a disabled manager produce
// no-op spans, so call sites never need to branch.
type Tracer struct {
	tracer trace.Tracer
}

// Start opens a plain span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartAgentRun opens an invoke_agent span for one agent invocation.
func (t *Tracer) StartAgentRun(ctx context.Context, agentName, invocationID, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, OpInvokeAgent+" "+agentName,
		trace.WithAttributes(
			attribute.String(AttrOperationName, OpInvokeAgent),
			attribute.String(AttrAgentName, agentName),
			attribute.String(AttrInvocationID, invocationID),
			attribute.String(AttrSessionID, sessionID),
		),
	)
}

// StartLLMCall opens a generate_content span for one model request.
func (t *Tracer) StartLLMCall(ctx context.Context, provider, modelName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, OpGenerateContent+" "+modelName,
		trace.WithAttributes(
			attribute.String(AttrOperationName, OpGenerateContent),
			attribute.String(AttrSystem, provider),
			attribute.String(AttrRequestModel, modelName),
		),
	)
}

// StartToolExecution opens an execute_tool span.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, OpExecuteTool+" "+toolName,
		trace.WithAttributes(
			attribute.String(AttrOperationName, OpExecuteTool),
			attribute.String(AttrToolName, toolName),
			attribute.String(AttrToolCallID, callID),
		),
	)
}

// AddLLMUsage records token consumption on a generate_content span.
func AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	)
}

// AddFinishReason records why generation stopped.
func AddFinishReason(span trace.Span, reason string) {
	if reason == "" {
		return
	}
	span.SetAttributes(attribute.StringSlice(AttrFinishReasons, []string{reason}))
}

// RecordError marks the span failed and attaches the error.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
