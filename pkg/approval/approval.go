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

// Package approval implements a human-in-the-loop workflow for risky
// actions: a request is analyzed into an action plan, triaged by risk,
// and either executed directly, parked for human review, or rejected
// outright. Paused tasks survive restarts through a SQL store and are
// continued with Resume.
package approval

import "time"

// RiskLevel grades how dangerous a planned action is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Task statuses.
const (
	StatusPending         = "pending"
	StatusWaitingApproval = "waiting_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// ActionPlan is the analyzed intent behind a user request.
type ActionPlan struct {
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Task is the persisted record of one approval workflow run.
type Task struct {
	ID            string
	ThreadID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Status        string
	CurrentNode   string
	PendingAction *ActionPlan
	UserInput     string
	ErrorMessage  string
}

// riskByActionType is the rule table consulted before trusting the
// model's own risk estimate. Known action types always win.
var riskByActionType = map[string]RiskLevel{
	"query_info":   RiskLow,
	"modify_data":  RiskMedium,
	"delete_data":  RiskHigh,
	"send_message": RiskHigh,
	"make_payment": RiskCritical,
	"bulk_action":  RiskCritical,
}

// TriageRisk resolves the effective risk for a plan: rule table first,
// then the model's estimate, then medium as the conservative default.
func TriageRisk(plan *ActionPlan) RiskLevel {
	if plan == nil {
		return RiskHigh
	}
	if level, ok := riskByActionType[plan.ActionType]; ok {
		return level
	}
	switch plan.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return plan.RiskLevel
	}
	return RiskMedium
}
