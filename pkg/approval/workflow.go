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

package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/model"
)

// Executor carries out an approved action plan and returns a result
// description.
type Executor func(ctx context.Context, plan *ActionPlan) (string, error)

// Result is the outcome of a workflow run or resume.
type Result struct {
	TaskID string
	Status string
	Plan   *ActionPlan

	// Answer is the user-facing response. Empty while the task waits
	// for review.
	Answer string
}

// Workflow drives a request through analyze, triage, optional human
// review, execution and response generation.
type Workflow struct {
	llm     model.LLM
	store   *Store
	cfg     config.ApprovalConfig
	execute Executor
}

const analyzeInstruction = `You are a security analyst. Assess the user request, plan the
action it implies, and grade its risk.`

const analyzePrompt = `Analyze the following user request and produce an action plan.

User request: %s

Respond with JSON only (no markdown fences):
{
    "analysis": "what the user wants",
    "action_type": "one of: query_info, modify_data, delete_data, send_message, make_payment, bulk_action, other",
    "description": "the concrete action to perform",
    "risk_level": "low, medium, high or critical",
    "parameters": {},
    "reason": "why this action is needed"
}

Risk guidance:
- low: read-only queries, no side effects
- medium: reversible data changes
- high: deletions, external API calls, outbound messages
- critical: payments, bulk operations, anything irreversible`

// NewWorkflow creates a workflow. A nil executor installs a simulated
// one, which is useful for demos and tests.
func NewWorkflow(llm model.LLM, store *Store, cfg config.ApprovalConfig, executor Executor) (*Workflow, error) {
	if llm == nil {
		return nil, fmt.Errorf("model is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.SetDefaults()
	if executor == nil {
		executor = simulateExecution
	}
	return &Workflow{llm: llm, store: store, cfg: cfg, execute: executor}, nil
}

// Run starts a new workflow for a user request. Low-risk actions run to
// completion; medium and high risk park the task in waiting_approval
// for Resume; critical actions are rejected without review.
func (w *Workflow) Run(ctx context.Context, userInput string) (*Result, error) {
	task := &Task{
		ID:          uuid.NewString(),
		ThreadID:    uuid.NewString(),
		UserInput:   userInput,
		CurrentNode: "analyze",
	}
	if err := w.store.Create(ctx, task); err != nil {
		return nil, err
	}

	plan, err := w.analyze(ctx, userInput)
	if err != nil {
		return nil, w.fail(ctx, task, fmt.Errorf("analyze: %w", err))
	}
	task.PendingAction = plan

	risk := TriageRisk(plan)
	plan.RiskLevel = risk
	slog.Info("approval triage",
		"taskID", task.ID, "actionType", plan.ActionType, "risk", risk)

	switch risk {
	case RiskLow:
		return w.executeAndRespond(ctx, task, "")
	case RiskCritical:
		task.Status = StatusRejected
		task.CurrentNode = "reject"
		task.ErrorMessage = "critical risk actions are rejected automatically"
		if err := w.store.Update(ctx, task); err != nil {
			return nil, err
		}
		return w.respond(ctx, task, "The action was rejected: critical risk operations require a change request, not chat approval.")
	default: // medium, high
		task.Status = StatusWaitingApproval
		task.CurrentNode = "review"
		if err := w.store.Update(ctx, task); err != nil {
			return nil, err
		}
		return &Result{TaskID: task.ID, Status: StatusWaitingApproval, Plan: plan}, nil
	}
}

// Resume continues a task parked in waiting_approval with the human
// decision.
func (w *Workflow) Resume(ctx context.Context, taskID string, approved bool, comment string) (*Result, error) {
	task, err := w.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusWaitingApproval {
		return nil, fmt.Errorf("task %s is %s, not waiting for approval", taskID, task.Status)
	}

	if !approved {
		task.Status = StatusRejected
		task.CurrentNode = "reject"
		if err := w.store.Update(ctx, task); err != nil {
			return nil, err
		}
		note := "The reviewer rejected the action."
		if comment != "" {
			note = fmt.Sprintf("The reviewer rejected the action: %s", comment)
		}
		return w.respond(ctx, task, note)
	}

	task.Status = StatusApproved
	if err := w.store.Update(ctx, task); err != nil {
		return nil, err
	}
	return w.executeAndRespond(ctx, task, comment)
}

// ExpireStale fails tasks that have waited for review longer than the
// configured timeout. Returns the IDs of expired tasks.
func (w *Workflow) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	waiting, err := w.store.PendingApprovals(ctx)
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, task := range waiting {
		if now.Sub(task.UpdatedAt) < w.cfg.Timeout {
			continue
		}
		task.Status = StatusFailed
		task.ErrorMessage = "approval timed out"
		if err := w.store.Update(ctx, task); err != nil {
			return expired, err
		}
		slog.Warn("approval expired", "taskID", task.ID, "waitedSince", task.UpdatedAt)
		expired = append(expired, task.ID)
	}
	return expired, nil
}

// StartSweeper runs ExpireStale on the configured interval until ctx is
// canceled.
func (w *Workflow) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := w.ExpireStale(ctx, now); err != nil {
					slog.Error("approval sweep failed", "error", err)
				}
			}
		}
	}()
}

func (w *Workflow) analyze(ctx context.Context, userInput string) (*ActionPlan, error) {
	resp, err := w.generate(ctx, &model.Request{
		SystemInstruction: analyzeInstruction,
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: fmt.Sprintf(analyzePrompt, userInput)}),
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Analysis    string         `json:"analysis"`
		ActionType  string         `json:"action_type"`
		Description string         `json:"description"`
		RiskLevel   RiskLevel      `json:"risk_level"`
		Parameters  map[string]any `json:"parameters"`
		Reason      string         `json:"reason"`
	}
	text := stripCodeFence(resp.TextContent())
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		// Unparseable analysis gets the conservative treatment: an
		// unknown high-risk plan that a human has to look at.
		slog.Warn("approval analysis not parseable, escalating", "error", err)
		return &ActionPlan{
			ActionType:  "other",
			Description: userInput,
			RiskLevel:   RiskHigh,
			Reason:      "analysis could not be parsed; manual judgment required",
		}, nil
	}

	return &ActionPlan{
		ActionType:  parsed.ActionType,
		Description: parsed.Description,
		RiskLevel:   parsed.RiskLevel,
		Parameters:  parsed.Parameters,
		Reason:      parsed.Reason,
	}, nil
}

func (w *Workflow) executeAndRespond(ctx context.Context, task *Task, comment string) (*Result, error) {
	task.CurrentNode = "execute"
	if err := w.store.Update(ctx, task); err != nil {
		return nil, err
	}

	outcome, err := w.execute(ctx, task.PendingAction)
	if err != nil {
		return nil, w.fail(ctx, task, fmt.Errorf("execute: %w", err))
	}

	task.Status = StatusCompleted
	if err := w.store.Update(ctx, task); err != nil {
		return nil, err
	}

	if comment != "" {
		outcome = fmt.Sprintf("%s (reviewer note: %s)", outcome, comment)
	}
	return w.respond(ctx, task, outcome)
}

func (w *Workflow) respond(ctx context.Context, task *Task, outcome string) (*Result, error) {
	prompt := fmt.Sprintf(`User request: %s
Planned action: %s
Outcome: %s

Write a short, clear reply to the user about what happened.`,
		task.UserInput, planDescription(task.PendingAction), outcome)

	resp, err := w.generate(ctx, &model.Request{
		SystemInstruction: "You report workflow outcomes to users, plainly and without inventing details.",
		Messages: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: prompt}),
		},
	})

	answer := outcome
	if err != nil {
		// The task already reached its terminal status; a response
		// generation failure should not undo that.
		slog.Error("approval response generation failed", "taskID", task.ID, "error", err)
	} else {
		answer = resp.TextContent()
	}

	task.CurrentNode = "respond"
	if err := w.store.Update(ctx, task); err != nil {
		return nil, err
	}
	return &Result{TaskID: task.ID, Status: task.Status, Plan: task.PendingAction, Answer: answer}, nil
}

func (w *Workflow) fail(ctx context.Context, task *Task, cause error) error {
	task.Status = StatusFailed
	task.ErrorMessage = cause.Error()
	if err := w.store.Update(ctx, task); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (w *Workflow) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	var final *model.Response
	for resp, err := range w.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return nil, err
		}
		final = resp
	}
	if final == nil {
		return nil, errors.New("model returned no response")
	}
	return final, nil
}

func simulateExecution(_ context.Context, plan *ActionPlan) (string, error) {
	if plan == nil {
		return "", errors.New("no action plan to execute")
	}
	switch plan.ActionType {
	case "query_info":
		return fmt.Sprintf("Query completed: %s", plan.Description), nil
	case "modify_data":
		return fmt.Sprintf("Data modified: %s", plan.Description), nil
	case "delete_data":
		return fmt.Sprintf("Data deleted: %s", plan.Description), nil
	case "send_message":
		return fmt.Sprintf("Message sent: %s", plan.Description), nil
	case "make_payment":
		return fmt.Sprintf("Payment processed: %s", plan.Description), nil
	default:
		return fmt.Sprintf("Action completed: %s", plan.Description), nil
	}
}

func planDescription(plan *ActionPlan) string {
	if plan == nil {
		return "(none)"
	}
	return plan.Description
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
