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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/praxisagents/praxis/pkg/approval"
	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/model/gemini"
)

// TasksCmd is the reviewer console for the approval workflow.
type TasksCmd struct {
	List    TasksListCmd   `cmd:"" help:"List tasks waiting for approval."`
	Approve TasksDecideCmd `cmd:"" help:"Approve a waiting task."`
	Reject  TasksDecideCmd `cmd:"" help:"Reject a waiting task."`
}

// TasksListCmd lists approval tasks.
type TasksListCmd struct {
	DB     string `help:"Approval database path." default:"praxis.db"`
	Status string `help:"Filter by status (pending, waiting_approval, approved, rejected, completed, failed)." default:"waiting_approval"`
}

func (c *TasksListCmd) Run() error {
	ctx := context.Background()

	store, closeDB, err := openApprovalStore(c.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	tasks, err := store.ListByStatus(ctx, c.Status)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Printf("No tasks with status %q\n", c.Status)
		return nil
	}

	for _, t := range tasks {
		age := time.Since(t.UpdatedAt).Round(time.Second)
		fmt.Printf("%s  (%s, waiting %s)\n", t.ID, t.Status, age)
		fmt.Printf("    request: %s\n", t.UserInput)
		if t.PendingAction != nil {
			fmt.Printf("    action:  %s [%s risk] - %s\n",
				t.PendingAction.ActionType, t.PendingAction.RiskLevel, t.PendingAction.Description)
		}
		if t.ErrorMessage != "" {
			fmt.Printf("    error:   %s\n", t.ErrorMessage)
		}
	}
	fmt.Printf("\n%d task(s)\n", len(tasks))
	return nil
}

// TasksDecideCmd resumes a waiting task with an approve or reject
// decision. The command name decides which.
type TasksDecideCmd struct {
	ID      string `arg:"" help:"Task ID."`
	Comment string `help:"Reviewer comment, passed through to the response."`
	DB      string `help:"Approval database path." default:"praxis.db"`
	Model   string `help:"Model used to generate the outcome response." default:"gemini-2.0-flash"`
	APIKey  string `name:"api-key" help:"API key (defaults to GOOGLE_API_KEY)."`
}

func (c *TasksDecideCmd) Run(kctx *kong.Context) error {
	ctx := context.Background()
	approved := kctx.Selected().Name == "approve"

	store, closeDB, err := openApprovalStore(c.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	llm, err := gemini.New(gemini.Config{APIKey: c.APIKey, Model: c.Model})
	if err != nil {
		return err
	}
	workflow, err := approval.NewWorkflow(llm, store, config.ApprovalConfig{}, nil)
	if err != nil {
		return err
	}

	result, err := workflow.Resume(ctx, c.ID, approved, c.Comment)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s is now %s\n", result.TaskID, result.Status)
	if result.Answer != "" {
		fmt.Printf("\n%s\n", result.Answer)
	}
	return nil
}

func openApprovalStore(path string) (*approval.Store, func(), error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open approval database: %w", err)
	}
	store, err := approval.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
