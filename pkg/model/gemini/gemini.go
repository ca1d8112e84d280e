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

// Package gemini implements model.LLM for Google Gemini models using the
// official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/tool"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// Config configures the Gemini provider.
type Config struct {
	// APIKey is the Google AI API key. Falls back to GOOGLE_API_KEY.
	APIKey string

	// Model is the model name (e.g. "gemini-2.0-flash").
	Model string

	// Temperature and MaxTokens are defaults applied when the request
	// config leaves them unset.
	Temperature float64
	MaxTokens   int
}

type geminiModel struct {
	client *genai.Client
	name   string
	cfg    Config
}

// New creates a Gemini model.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required (set GOOGLE_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, cfg: cfg}, nil
}

func (m *geminiModel) Name() string             { return m.name }
func (m *geminiModel) Provider() model.Provider { return model.ProviderGemini }
func (m *geminiModel) Close() error             { return nil }

// GenerateContent generates a response, streaming when requested.
func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return m.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *geminiModel) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents, system := m.buildRequest(req)
	config := m.buildConfig(req.Config, system, req.Tools)

	genResp, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	resp, err := m.parseResponse(genResp)
	if err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		resp.Usage = estimatedUsage(req, resp)
	}
	return resp, nil
}

func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	agg := model.NewStreamingAggregator()
	emitted := make(map[string]bool)

	return func(yield func(*model.Response, error) bool) {
		contents, system := m.buildRequest(req)
		config := m.buildConfig(req.Config, system, req.Tools)

		for genResp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini: stream: %w", err))
				return
			}
			for resp, err := range m.processChunk(agg, genResp, emitted) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if final := agg.Close(); final != nil {
			if final.Usage == nil {
				final.Usage = estimatedUsage(req, final)
			}
			yield(final, nil)
		}
	}
}

// estimatedUsage approximates token usage locally when the API response
// carries no usage metadata, so downstream accounting always has numbers.
func estimatedUsage(req *model.Request, resp *model.Response) *model.Usage {
	usage := &model.Usage{
		InputTokens:  model.EstimateRequestTokens(req),
		OutputTokens: model.EstimateTokens(resp.TextContent()),
	}
	if resp.Thinking != nil {
		usage.ThinkingTokens = model.EstimateTokens(resp.Thinking.Text)
	}
	return usage
}

// stableCallID derives a deterministic ID from the call name and args.
// Gemini may resend a function call with an empty ID across chunks; hashing
// makes the duplicates collapse to one ID.
func stableCallID(name string, args map[string]any) string {
	raw, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("call-%x", sum[:16])
}

func (m *geminiModel) processChunk(agg *model.StreamingAggregator, genResp *genai.GenerateContentResponse, emitted map[string]bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if len(genResp.Candidates) == 0 {
			return
		}
		candidate := genResp.Candidates[0]

		if candidate.FinishReason != "" {
			agg.SetFinishReason(mapFinishReason(candidate.FinishReason))
		}
		if genResp.UsageMetadata != nil {
			agg.SetUsage(usageFromMetadata(genResp.UsageMetadata))
		}

		if candidate.Content == nil {
			return
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					for resp, err := range agg.ProcessThinkingDelta(part.Text) {
						if !yield(resp, err) {
							return
						}
					}
				} else {
					for resp, err := range agg.ProcessTextDelta(part.Text) {
						if !yield(resp, err) {
							return
						}
					}
				}
			}

			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				if emitted[callID] {
					continue
				}
				emitted[callID] = true

				tc := tool.ToolCall{
					ID:   callID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}
				for resp, err := range agg.ProcessToolCall(tc) {
					if !yield(resp, err) {
						return
					}
				}
			}
		}
	}
}

// buildRequest converts the request messages to genai contents plus an
// optional system instruction.
func (m *geminiModel) buildRequest(req *model.Request) ([]*genai.Content, *genai.Content) {
	var system *genai.Content
	if req.SystemInstruction != "" {
		system = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
			Role:  "user",
		}
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if content := messageToContent(msg); content != nil {
			contents = append(contents, content)
		}
	}
	return contents, system
}

func messageToContent(msg *a2a.Message) *genai.Content {
	if msg == nil {
		return nil
	}

	var parts []*genai.Part
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case a2a.TextPart:
			parts = append(parts, &genai.Part{Text: part.Text})

		case a2a.DataPart:
			kind, _ := part.Data["type"].(string)
			switch kind {
			case "tool_use":
				name, _ := part.Data["name"].(string)
				if name == "" {
					continue
				}
				args, _ := part.Data["arguments"].(map[string]any)
				id, _ := part.Data["id"].(string)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args},
				})
			case "tool_result":
				name, _ := part.Data["tool_name"].(string)
				id, _ := part.Data["tool_call_id"].(string)

				var response map[string]any
				if content, ok := part.Data["content"].(string); ok {
					response = map[string]any{"result": content}
				} else if result, ok := part.Data["result"].(map[string]any); ok {
					response = result
				}

				if name != "" || id != "" {
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{ID: id, Name: name, Response: response},
					})
				}
			}

		case a2a.FilePart:
			switch f := part.File.(type) {
			case a2a.FileBytes:
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: f.MimeType, Data: []byte(f.Bytes)},
				})
			case a2a.FileURI:
				parts = append(parts, &genai.Part{
					FileData: &genai.FileData{MIMEType: f.MimeType, FileURI: f.URI},
				})
			}
		}
	}

	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == a2a.MessageRoleAgent {
		role = "model"
	}
	return &genai.Content{Parts: parts, Role: role}
}

func (m *geminiModel) buildConfig(cfg *model.GenerateConfig, system *genai.Content, tools []tool.Definition) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: system}

	if cfg != nil {
		if cfg.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			config.MaxOutputTokens = int32(*cfg.MaxTokens)
		}
		if cfg.TopP != nil {
			config.TopP = genai.Ptr(float32(*cfg.TopP))
		}
		if cfg.TopK != nil {
			config.TopK = genai.Ptr(float32(*cfg.TopK))
		}
		if len(cfg.StopSequences) > 0 {
			config.StopSequences = cfg.StopSequences
		}
		if cfg.ResponseMIMEType != "" {
			config.ResponseMIMEType = cfg.ResponseMIMEType
		}
		if cfg.ResponseSchema != nil {
			config.ResponseSchema = toGenaiSchema(cfg.ResponseSchema)
			if config.ResponseMIMEType == "" {
				config.ResponseMIMEType = "application/json"
			}
		}
		if cfg.EnableThinking {
			thinking := &genai.ThinkingConfig{IncludeThoughts: true}
			if cfg.ThinkingBudget > 0 {
				budget := int32(cfg.ThinkingBudget)
				thinking.ThinkingBudget = &budget
			}
			config.ThinkingConfig = thinking
		}
	}

	if config.Temperature == nil && m.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(m.cfg.Temperature))
	}
	if config.MaxOutputTokens == 0 && m.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(m.cfg.MaxTokens)
	}

	if len(tools) > 0 {
		config.Tools = buildTools(tools)
	}
	return config
}

func buildTools(tools []tool.Definition) []*genai.Tool {
	var out []*genai.Tool
	for _, t := range tools {
		out = append(out, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}},
		})
	}
	return out
}

// toGenaiSchema converts a JSON schema map to a genai.Schema.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func (m *geminiModel) parseResponse(genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}
	candidate := genResp.Candidates[0]

	resp := &model.Response{
		TurnComplete: true,
		FinishReason: mapFinishReason(candidate.FinishReason),
	}

	if candidate.Content != nil {
		var parts []a2a.Part
		var toolCalls []tool.ToolCall
		var thinking string

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					thinking += part.Text
				} else {
					parts = append(parts, a2a.TextPart{Text: part.Text})
				}
			}
			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				tc := tool.ToolCall{ID: callID, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}
				toolCalls = append(toolCalls, tc)
				parts = append(parts, a2a.DataPart{
					Data: map[string]any{
						"type":      "tool_use",
						"id":        tc.ID,
						"name":      tc.Name,
						"arguments": tc.Args,
					},
				})
			}
		}

		role := a2a.MessageRoleAgent
		if candidate.Content.Role == "user" {
			role = a2a.MessageRoleUser
		}

		resp.Content = &model.Content{Parts: parts, Role: role}
		resp.ToolCalls = toolCalls
		if thinking != "" {
			resp.Thinking = &model.ThinkingBlock{Text: thinking, Complete: true}
		}
	}

	if genResp.UsageMetadata != nil {
		resp.Usage = usageFromMetadata(genResp.UsageMetadata)
	}
	return resp, nil
}

func usageFromMetadata(md *genai.GenerateContentResponseUsageMetadata) *model.Usage {
	return &model.Usage{
		InputTokens:    int(md.PromptTokenCount),
		OutputTokens:   int(md.CandidatesTokenCount),
		ThinkingTokens: int(md.ThoughtsTokenCount),
	}
}

func mapFinishReason(reason genai.FinishReason) model.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return model.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return model.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent:
		return model.FinishReasonContentFilter
	default:
		return model.FinishReasonStop
	}
}

var _ model.LLM = (*geminiModel)(nil)
