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

package run

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/promptflow/internal/cli"
	"github.com/tombee/promptflow/pkg/localstorage"
)

// NewShowCommand creates the "run show" command: reconstruct a run's
// metrics, exception, and detail records from its local storage
// directory without re-running anything.
func NewShowCommand() *cobra.Command {
	var showDetail bool

	cmd := &cobra.Command{
		Use:   "show <output-path>",
		Short: "Inspect a run's local storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := localstorage.New(args[0], nil)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitMissingInput, Message: "opening run storage", Cause: err}
			}

			metrics, err := storage.LoadMetrics()
			if err != nil {
				return err
			}
			exception, err := storage.LoadException()
			if err != nil {
				return err
			}

			report := map[string]interface{}{
				"metrics":   metrics,
				"exception": exception,
			}

			if showDetail {
				detail, err := storage.LoadDetail()
				if err != nil {
					return err
				}
				report["detail"] = detail
			}

			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDetail, "detail", false, "Include per-node and per-line run records")
	return cmd
}
