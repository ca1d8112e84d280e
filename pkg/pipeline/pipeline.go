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

// Package pipeline builds the retail location strategy pipeline: a
// sequential chain of specialized agents that takes a target location
// and business type through market research, competitor mapping, gap
// analysis, strategy synthesis and report generation.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/agent/llmagent"
	"github.com/praxisagents/praxis/pkg/agent/workflowagent"
	"github.com/praxisagents/praxis/pkg/model"
	"github.com/praxisagents/praxis/pkg/tool"
)

// Pipeline stage names, in execution order.
const (
	StageIntake      = "intake"
	StageResearch    = "market_research"
	StageCompetitors = "competitor_mapping"
	StageGapAnalysis = "gap_analysis"
	StageStrategy    = "strategy_synthesis"
	StageReport      = "report_generation"
	StageInfographic = "infographic_generation"
)

// Session state keys the stages read and write.
const (
	StateTargetLocation  = "target_location"
	StateBusinessType    = "business_type"
	StateParsedRequest   = "parsed_request"
	StateResearch        = "market_research_findings"
	StateCompetitors     = "competitor_analysis"
	StateGapAnalysis     = "gap_analysis"
	StateReport          = "strategic_report"
	StateReportHTML      = "report_generation_result"
	StateInfographic     = "infographic_result"
	StateStage           = "pipeline_stage"
	StateStagesCompleted = "stages_completed"
	StateCurrentDate     = "current_date"
)

// ReportArtifactName is the JSON artifact saved after strategy
// synthesis.
const ReportArtifactName = "intelligence_report.json"

// ProgressFunc is notified after each stage completes, with the full
// list of completed stages so far.
type ProgressFunc func(stage string, completed []string)

// Config configures the pipeline.
type Config struct {
	// Model drives the parsing, research and generation stages.
	Model model.LLM

	// StrategyModel drives strategy synthesis; falls back to Model.
	StrategyModel model.LLM

	// SearchTools are made available to the research and competitor
	// stages, e.g. web search and place lookup tools.
	SearchTools []tool.Tool

	// Progress, when set, observes stage completion.
	Progress ProgressFunc

	// Now stamps analysis dates; defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// New assembles the sequential pipeline agent.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("pipeline: model is required")
	}
	if cfg.StrategyModel == nil {
		cfg.StrategyModel = cfg.Model
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	reportSchema, err := ReportSchema()
	if err != nil {
		return nil, err
	}
	requestSchema, err := requestSchema()
	if err != nil {
		return nil, err
	}

	intake, err := llmagent.New(llmagent.Config{
		Name:                 "intake",
		Description:          "Parses the user request into target location and business type",
		Model:                cfg.Model,
		Instruction:          intakeInstruction,
		OutputSchema:         requestSchema,
		OutputKey:            StateParsedRequest,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageIntake, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterIntake, afterStage(StageIntake, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	research, err := llmagent.New(llmagent.Config{
		Name:                 "market_research",
		Description:          "Validates macro market viability for the target location",
		Model:                cfg.Model,
		Instruction:          researchInstruction,
		Tools:                cfg.SearchTools,
		OutputKey:            StateResearch,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageResearch, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStage(StageResearch, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	competitors, err := llmagent.New(llmagent.Config{
		Name:                 "competitor_mapping",
		Description:          "Maps competitors around the target location",
		Model:                cfg.Model,
		Instruction:          competitorInstruction,
		Tools:                cfg.SearchTools,
		OutputKey:            StateCompetitors,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageCompetitors, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStage(StageCompetitors, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	gaps, err := llmagent.New(llmagent.Config{
		Name:                 "gap_analysis",
		Description:          "Ranks zones quantitatively from the research and competitor data",
		Model:                cfg.Model,
		Instruction:          gapInstruction,
		OutputKey:            StateGapAnalysis,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageGapAnalysis, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStage(StageGapAnalysis, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	strategy, err := llmagent.New(llmagent.Config{
		Name:                 "strategy_advisor",
		Description:          "Synthesizes all findings into a structured intelligence report",
		Model:                cfg.StrategyModel,
		Instruction:          strategyInstruction,
		OutputSchema:         reportSchema,
		OutputKey:            StateReport,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageStrategy, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStrategy, afterStage(StageStrategy, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	report, err := llmagent.New(llmagent.Config{
		Name:                 "report_generator",
		Description:          "Renders the intelligence report as an HTML executive summary",
		Model:                cfg.Model,
		Instruction:          reportInstruction,
		OutputKey:            StateReportHTML,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageReport, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStage(StageReport, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	infographic, err := llmagent.New(llmagent.Config{
		Name:                 "infographic_generator",
		Description:          "Produces an infographic brief summarizing the recommendation",
		Model:                cfg.Model,
		Instruction:          infographicInstruction,
		OutputKey:            StateInfographic,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{beforeStage(StageInfographic, cfg.Now)},
		AfterAgentCallbacks:  []agent.AfterAgentCallback{afterStage(StageInfographic, cfg.Progress)},
	})
	if err != nil {
		return nil, err
	}

	return workflowagent.NewSequential(workflowagent.SequentialConfig{
		Name:        "location_strategy_pipeline",
		Description: "End-to-end retail location intelligence analysis",
		SubAgents:   []agent.Agent{intake, research, competitors, gaps, strategy, report, infographic},
	})
}

// beforeStage stamps the stage marker and the current date into state
// before the agent runs.
func beforeStage(stage string, now func() time.Time) agent.BeforeAgentCallback {
	return func(ctx agent.CallbackContext) (*agent.Content, error) {
		slog.Info("pipeline stage starting", "stage", stage,
			"targetLocation", stateString(ctx, StateTargetLocation),
			"businessType", stateString(ctx, StateBusinessType))
		ctx.State().Set(StateStage, stage)
		ctx.State().Set(StateCurrentDate, now().Format("2006-01-02"))
		return nil, nil
	}
}

// afterStage appends the stage to the completed list and fires the
// progress callback.
func afterStage(stage string, progress ProgressFunc) agent.AfterAgentCallback {
	return func(ctx agent.CallbackContext) (*agent.Content, error) {
		completed := completedStages(ctx)
		completed = append(completed, stage)
		ctx.State().Set(StateStagesCompleted, completed)
		slog.Info("pipeline stage complete", "stage", stage, "completed", len(completed))
		if progress != nil {
			progress(stage, completed)
		}
		return nil, nil
	}
}

// afterIntake copies the parsed request fields into the flat state
// keys the later instructions interpolate.
func afterIntake(ctx agent.CallbackContext) (*agent.Content, error) {
	raw := stateString(ctx, StateParsedRequest)
	if raw == "" {
		return nil, nil
	}
	var parsed struct {
		TargetLocation    string `json:"target_location"`
		BusinessType      string `json:"business_type"`
		AdditionalContext string `json:"additional_context"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse intake output: %w", err)
	}
	ctx.State().Set(StateTargetLocation, parsed.TargetLocation)
	ctx.State().Set(StateBusinessType, parsed.BusinessType)
	if parsed.AdditionalContext != "" {
		ctx.State().Set("additional_context", parsed.AdditionalContext)
	}
	return nil, nil
}

// afterStrategy validates the synthesized report and saves it as a
// JSON artifact.
func afterStrategy(ctx agent.CallbackContext) (*agent.Content, error) {
	raw := stateString(ctx, StateReport)
	if raw == "" {
		return nil, fmt.Errorf("strategy synthesis produced no report")
	}
	report, err := ParseReport(raw)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report artifact: %w", err)
	}
	if arts := ctx.Artifacts(); arts != nil {
		if _, err := arts.Save(ctx, ReportArtifactName, data, "application/json"); err != nil {
			// The report is still in state; a failed artifact write
			// should not abort the remaining stages.
			slog.Warn("failed to save report artifact", "error", err)
		}
	}
	return nil, nil
}

// ReportFromState reads the validated report out of session state
// after a pipeline run.
func ReportFromState(state agent.ReadonlyState) (*Report, error) {
	raw, ok := state.Get(StateReport)
	if !ok {
		return nil, fmt.Errorf("no report in state")
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("report state is %T, want string", raw)
	}
	return ParseReport(text)
}

func stateString(ctx agent.CallbackContext, key string) string {
	if v, ok := ctx.State().Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func completedStages(ctx agent.CallbackContext) []string {
	v, ok := ctx.State().Get(StateStagesCompleted)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
