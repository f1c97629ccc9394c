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

package main

import (
	"github.com/tombee/promptflow/internal/cli"
	"github.com/tombee/promptflow/internal/commands/flow"
	"github.com/tombee/promptflow/internal/commands/run"
	"github.com/tombee/promptflow/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

func main() {
	cli.SetVersion(buildVersion, buildCommit, buildDate)

	rootCmd, flags := cli.NewRootCommand()

	rootCmd.AddCommand(flow.NewValidateCommand())
	rootCmd.AddCommand(flow.NewTestCommand(flags))

	rootCmd.AddCommand(run.NewCreateCommand(flags))
	rootCmd.AddCommand(run.NewShowCommand())

	rootCmd.AddCommand(version.NewVersionCommand(flags))

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
