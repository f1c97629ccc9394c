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

package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/tombee/promptflow/pkg/errors"
)

// Exit codes for the promptflow CLI, grounded on the base code's
// internal/commands/shared/exit_codes.go scheme, narrowed to this
// module's own error taxonomy.
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidFlow     = 2
	ExitMissingInput    = 3
	ExitToolError       = 4
)

// ExitError is an error that carries a process exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// exitCodeFor maps this module's error taxonomy to a CLI exit code.
func exitCodeFor(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var userErr *pkgerrors.UserError
	if errors.As(err, &userErr) {
		return ExitInvalidFlow
	}
	var toolErr *pkgerrors.ToolExecutionError
	if errors.As(err, &toolErr) {
		return ExitToolError
	}
	var bulkErr *pkgerrors.BulkRunError
	if errors.As(err, &bulkErr) {
		return ExitExecutionFailed
	}
	return ExitExecutionFailed
}

// HandleExitError prints err to stderr and exits the process with the
// exit code its error taxonomy maps to.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCodeFor(err))
}
