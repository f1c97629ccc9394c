// Copyright 2025 Tom Barlow
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

// Package cli assembles the thin operator-facing command surface named
// in SPEC_FULL.md's AMBIENT STACK: run a single flow line interactively,
// run a batch, and inspect a run's local storage. It is grounded on the
// base code's internal/cli/root.go shape (a cobra root command plus
// shared version/exit-code plumbing), narrowed to this module's own
// flag and command set -- the full authoring/collaboration CLI the base
// code ships is out of scope.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build-time version information for the version
// command and command annotations.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// Version returns the build-time version information set by SetVersion.
func Version() (string, string, string) {
	return version, commit, buildDate
}

// GlobalFlags holds the root command's persistent flags, populated by
// cobra and read by subcommands via the pointers NewRootCommand returns.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSON       bool
}

// NewRootCommand creates the root cobra command and its global flags.
func NewRootCommand() (*cobra.Command, *GlobalFlags) {
	flags := &GlobalFlags{}

	cmd := &cobra.Command{
		Use:   "promptflow",
		Short: "PromptFlow - DAG-based prompt and tool orchestration",
		Long: `PromptFlow executes flows: directed acyclic graphs of named nodes,
each a registered tool invocation, resolved against flow inputs and
prior nodes' outputs.

Run 'promptflow flow validate' to check a flow definition.
Run 'promptflow flow test' to execute one line interactively.
Run 'promptflow run create' to execute a batch against a data file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Path to config file (default: ~/.promptflow/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "Output in JSON format")

	return cmd, flags
}
