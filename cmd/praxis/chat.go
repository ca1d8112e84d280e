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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"

	"github.com/praxisagents/praxis/pkg/agent"
	"github.com/praxisagents/praxis/pkg/runner"
	"github.com/praxisagents/praxis/pkg/session"
)

// ChatCmd runs a local REPL against one agent, without an A2A server in
// between. Approval pauses are resolved inline at the prompt.
type ChatCmd struct {
	Agent string `arg:"" optional:"" help:"Agent name (default: the only configured agent)."`

	Model        string  `help:"Model name (zero-config mode)." default:"gemini-2.0-flash"`
	APIKey       string  `name:"api-key" help:"API key (defaults to GOOGLE_API_KEY)."`
	Temperature  float64 `help:"Temperature for generation." default:"0.7"`
	MaxTokens    int     `name:"max-tokens" help:"Max tokens for generation." default:"4096"`
	Instruction  string  `help:"System instruction for the agent."`
	Tools        string  `help:"Enable builtin tools: 'all' or a comma-separated list."`
	ApproveTools string  `name:"approve-tools" help:"Require approval for specific tools (comma-separated)."`
	MCPURL       string  `name:"mcp-url" help:"MCP server URL to expose as tools."`

	Session string `help:"Session ID to resume a previous conversation."`
	UserID  string `name:"user" help:"User ID for session ownership." default:"local"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()

	serve := ServeCmd{
		Model:        c.Model,
		APIKey:       c.APIKey,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		Instruction:  c.Instruction,
		Tools:        c.Tools,
		ApproveTools: c.ApproveTools,
		MCPURL:       c.MCPURL,
		Port:         8080,
	}
	cfg, err := serve.loadConfig(cli.Config)
	if err != nil {
		return err
	}

	agentName := c.Agent
	if agentName == "" {
		if len(cfg.Agents) != 1 {
			return fmt.Errorf("config defines %d agents, pick one with: praxis chat <name>", len(cfg.Agents))
		}
		for name := range cfg.Agents {
			agentName = name
		}
	}

	root, err := newBuilder(cfg).Agent(agentName)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	sessionSvc := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:         cfg.Name,
		Agent:           root,
		SessionService:  sessionSvc,
		ArtifactService: session.InMemoryArtifacts(),
	})
	if err != nil {
		return err
	}

	sessionID := c.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	chat := &chatLoop{
		runner:     r,
		sessionSvc: sessionSvc,
		appName:    cfg.Name,
		agentName:  agentName,
		userID:     c.UserID,
		sessionID:  sessionID,
		reader:     bufio.NewReader(os.Stdin),
	}
	return chat.run(ctx)
}

type chatLoop struct {
	runner     *runner.Runner
	sessionSvc session.Service
	appName    string
	agentName  string
	userID     string
	sessionID  string
	reader     *bufio.Reader
}

func (c *chatLoop) run(ctx context.Context) error {
	fmt.Printf("\nChatting with %s (session %s)\n", c.agentName, c.sessionID)
	fmt.Println("Type your messages below. /quit ends the session.")
	fmt.Println()

	for {
		fmt.Print("You: ")
		input, err := c.reader.ReadString('\n')
		if err != nil {
			return nil // EOF ends the chat
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			fmt.Println("Chat session ended")
			return nil
		}

		content := &agent.Content{
			Role:  a2a.MessageRoleUser,
			Parts: []a2a.Part{a2a.TextPart{Text: input}},
		}
		if err := c.turn(ctx, content); err != nil {
			fmt.Printf("\nError: %v\n\n", err)
		}
	}
}

// turn runs one invocation, printing output as it streams. When the run
// pauses for approval the decision is taken at the prompt and the
// invocation resumed, repeating until the turn completes.
func (c *chatLoop) turn(ctx context.Context, content *agent.Content) error {
	fmt.Printf("\n%s: ", c.agentName)

	for {
		pausedCalls, err := c.stream(ctx, content)
		if err != nil {
			return err
		}
		fmt.Println()
		if len(pausedCalls) == 0 {
			return nil
		}

		decision, err := c.askDecision()
		if err != nil {
			return err
		}
		if err := c.storeDecision(ctx, pausedCalls, decision); err != nil {
			return err
		}

		// Resume: the next run picks up the stored decisions.
		content = nil
		fmt.Printf("\n%s: ", c.agentName)
	}
}

// stream runs the agent once and returns the tool call IDs that paused
// for approval, if any.
func (c *chatLoop) stream(ctx context.Context, content *agent.Content) ([]string, error) {
	var paused []string
	printedText := false

	for event, err := range c.runner.Run(ctx, c.userID, c.sessionID, content, agent.RunConfig{
		StreamingMode: agent.StreamingModeSSE,
	}) {
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		if event.IsError() {
			return nil, fmt.Errorf("%s", event.ErrorMessage)
		}

		if event.Partial {
			if event.Message != nil {
				for _, part := range event.Message.Parts {
					if text, ok := part.(a2a.TextPart); ok {
						fmt.Print(text.Text)
						printedText = true
					}
				}
			}
			continue
		}

		for _, tc := range event.ToolCalls {
			if tc.Status == "pending_approval" {
				continue // reported via the pause below
			}
			fmt.Printf("\n[tool] %s\n", tc.Name)
		}

		if len(event.LongRunningToolIDs) > 0 {
			paused = append(paused, event.LongRunningToolIDs...)
			if event.Actions.InputPrompt != "" {
				fmt.Printf("\n%s", event.Actions.InputPrompt)
			}
		}

		// Streaming already printed this text as partial deltas.
		if !printedText && event.Message != nil {
			for _, part := range event.Message.Parts {
				if text, ok := part.(a2a.TextPart); ok {
					fmt.Print(text.Text)
				}
			}
		}
	}
	return paused, nil
}

func (c *chatLoop) askDecision() (string, error) {
	fmt.Print("\nApprove? [y/N]: ")
	answer, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "approve":
		return "approve", nil
	default:
		return "deny", nil
	}
}

// storeDecision writes the decision into session state under the approval
// keys the agent flow reads on resume.
func (c *chatLoop) storeDecision(ctx context.Context, callIDs []string, decision string) error {
	resp, err := c.sessionSvc.Get(ctx, &session.GetRequest{
		AppName:   c.appName,
		UserID:    c.userID,
		SessionID: c.sessionID,
	})
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	delta := make(map[string]any, len(callIDs))
	for _, id := range callIDs {
		delta["_approval:"+id] = decision
	}

	event := agent.NewEvent("approval")
	event.Author = agent.AuthorUser
	event.Actions = agent.EventActions{StateDelta: delta}
	return c.sessionSvc.AppendEvent(ctx, resp.Session, event)
}
