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
	"context"
	"sync"
	"time"

	"github.com/tombee/promptflow/pkg/errors"
)

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store, suitable for testing or a
// single-process CLI invocation. It is thread-safe and returns copies on
// every read and write so a caller's mutations to a returned *Run never
// alias the store's own state -- grounded on pkg/workflow/store.go's
// MemoryStore copy-on-read/write pattern.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Create stores r, rejecting a duplicate ID.
func (s *MemoryStore) Create(ctx context.Context, r *Run) error {
	if r == nil || r.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "run ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.ID]; exists {
		return &errors.RunExistsError{Name: r.ID}
	}

	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.runs[r.ID] = copyRun(r)
	return nil
}

// Get returns a copy of the run with id, or a *errors.RunNotFoundError.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.runs[id]
	if !exists {
		return nil, &errors.RunNotFoundError{Name: id}
	}
	return copyRun(r), nil
}

// Update overwrites the stored run matching r.ID, bumping UpdatedAt.
func (s *MemoryStore) Update(ctx context.Context, r *Run) error {
	if r == nil || r.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "run ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.ID]; !exists {
		return &errors.RunNotFoundError{Name: r.ID}
	}

	r.UpdatedAt = time.Now()
	s.runs[r.ID] = copyRun(r)
	return nil
}

// Delete removes the run with id, if present.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return &errors.RunNotFoundError{Name: id}
	}
	delete(s.runs, id)
	return nil
}

// List returns copies of every run matching filter, most recently
// created first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.FlowPath != "" && r.FlowPath != filter.FlowPath {
			continue
		}
		matches = append(matches, r)
	}

	sortRunsByCreatedAtDesc(matches)

	if filter.Offset > 0 {
		if filter.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}

	out := make([]*Run, len(matches))
	for i, r := range matches {
		out[i] = copyRun(r)
	}
	return out, nil
}

func sortRunsByCreatedAtDesc(runs []*Run) {
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].CreatedAt.After(runs[j-1].CreatedAt); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
}

func copyRun(r *Run) *Run {
	cp := *r
	if r.Inputs != nil {
		cp.Inputs = make(map[string]any, len(r.Inputs))
		for k, v := range r.Inputs {
			cp.Inputs[k] = v
		}
	}
	if r.InputsMapping != nil {
		cp.InputsMapping = make(map[string]string, len(r.InputsMapping))
		for k, v := range r.InputsMapping {
			cp.InputsMapping[k] = v
		}
	}
	return &cp
}
