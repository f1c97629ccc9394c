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
	"fmt"

	"github.com/tombee/promptflow/internal/cli"
	pfrun "github.com/tombee/promptflow/pkg/run"
)

// openRunStore builds the configured run metadata backend.
func openRunStore(env *cli.Environment) (pfrun.Store, error) {
	switch env.Config.Run.Backend {
	case "memory":
		return pfrun.NewMemoryStore(), nil
	case "sqlite":
		return pfrun.NewSQLiteStore(pfrun.SQLiteConfig{Path: env.Config.Run.SQLitePath, WAL: true})
	default:
		return nil, fmt.Errorf("unknown run backend %q", env.Config.Run.Backend)
	}
}
