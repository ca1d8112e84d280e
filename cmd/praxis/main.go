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

// Command praxis is the CLI for the praxis agent platform.
//
// Usage:
//
//	praxis serve --config praxis.yaml
//	praxis serve --model gemini-2.0-flash --tools all
//	praxis chat --config praxis.yaml assistant
//	praxis tasks list
//	praxis validate --config praxis.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/praxisagents/praxis/pkg/config"
	"github.com/praxisagents/praxis/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the A2A server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with an agent locally, without a server."`
	Tasks    TasksCmd    `cmd:"" help:"Review and resolve pending approval tasks."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("praxis version %s\n", version)
	return nil
}

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	_ = config.LoadDotEnvForConfig(cli.Config)
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (%d models, %d agents, %d tools)\n",
		cli.Config, len(cfg.Models), len(cfg.Agents), len(cfg.Tools))
	return nil
}

func initLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("praxis"),
		kong.Description("praxis - A2A agent platform"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogging(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
