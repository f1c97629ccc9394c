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

import "context"

// RunStore is the minimal contract a run persistence backend must
// satisfy. Callers that only need to record and look up runs (not list
// or delete them) should depend on this interface rather than Store.
type RunStore interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, r *Run) error
}

// RunLister is the optional listing/deletion contract. Use a type
// assertion against a RunStore value to detect support:
//
//	if lister, ok := store.(RunLister); ok {
//	    runs, err := lister.List(ctx, run.Filter{})
//	}
type RunLister interface {
	List(ctx context.Context, filter Filter) ([]*Run, error)
	Delete(ctx context.Context, id string) error
}

// Store is the full contract both the in-memory and SQLite backends
// implement.
type Store interface {
	RunStore
	RunLister
}
