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

// Package flow holds the "flow" command group: validate and test,
// the two in-scope operator commands for iterating on a flow
// definition, named in SPEC_FULL.md's CLI surface.
package flow

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/promptflow/internal/cli"
	pfflow "github.com/tombee/promptflow/pkg/flow"
)

// NewValidateCommand creates the "flow validate" command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow-path>",
		Short: "Validate a flow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowFile := cli.DefaultFlowFile(args[0])

			data, err := os.ReadFile(flowFile)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidFlow, Message: "reading flow definition", Cause: err}
			}

			def, err := pfflow.ParseDefinition(data)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidFlow, Message: "parsing flow definition", Cause: err}
			}

			if err := def.Validate(); err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidFlow, Message: "validating flow definition", Cause: err}
			}

			if _, err := pfflow.BuildGraph(def); err != nil {
				return &cli.ExitError{Code: cli.ExitInvalidFlow, Message: "building dependency graph", Cause: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d node(s)\n", flowFile, len(def.Nodes))
			return nil
		},
	}
}
