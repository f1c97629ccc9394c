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

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/flow"
)

// StartMethod mirrors the original implementation's PF_BATCH_METHOD
// env var (fork/spawn process start strategy). Go has no OS-process line
// pool to switch between, so both values select the same goroutine pool;
// the field exists for compatibility and documentation, and a read of a
// non-default value is logged once.
type StartMethod string

const (
	StartMethodSpawn StartMethod = "spawn"
	StartMethodFork  StartMethod = "fork"

	envBatchMethod = "PF_BATCH_METHOD"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Concurrency bounds how many lines run at once.
	Concurrency int
	// LineTimeout bounds a single line's execution. Zero means no timeout.
	LineTimeout time.Duration
	// StartMethod is read from PF_BATCH_METHOD for compatibility; it does
	// not change this pool's implementation.
	StartMethod StartMethod
	// Heartbeat is the interval at which progress is logged. Zero disables
	// heartbeat logging.
	Heartbeat time.Duration
}

// Pool runs a batch's lines across a bounded worker pool of goroutines.
// It is the Go re-architecture of the original implementation's
// LineExecutionProcessPool: since goroutines cannot be forcibly killed
// the way an OS process can, a line that exceeds LineTimeout is abandoned
// rather than terminated -- the pool stops waiting on its goroutine,
// records a failed LineResult carrying LineTimeoutError, and discards
// whatever that goroutine eventually returns. Grounded on
// tests/executor/unittests/processpool/test_line_execution_process_pool.py
// for the protocol's observable behavior and on
// internal/daemon/runner/runner.go's semaphore-bounded-pool-with-
// graceful-drain mechanics (draining atomic.Bool, StartDraining/
// WaitForDrain).
type Pool struct {
	exec    *flow.Executor
	runID   string
	persist flow.PersistFunc
	logger  *slog.Logger

	concurrency int
	lineTimeout time.Duration
	heartbeat   time.Duration

	canceling atomic.Bool
}

// NewPool creates a Pool that runs lines against exec under one batch
// run's runID, persisting each line's node runs via persist.
func NewPool(exec *flow.Executor, runID string, persist flow.PersistFunc, logger *slog.Logger, cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = flow.DefaultConcurrencyFlow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		exec:        exec,
		runID:       runID,
		persist:     persist,
		logger:      logger,
		concurrency: cfg.Concurrency,
		lineTimeout: cfg.LineTimeout,
		heartbeat:   cfg.Heartbeat,
	}
}

// Cancel requests that the pool stop submitting new lines and, once every
// in-flight line has finished or timed out, return. It does not interrupt
// lines already running.
func (p *Pool) Cancel() {
	p.canceling.Store(true)
}

// Run submits every line in order, bounded by the pool's concurrency, and
// returns their LineResults sorted by line index -- workers may finish
// out of order, so the caller never observes submission order.
func (p *Pool) Run(ctx context.Context, lines []map[string]interface{}) []flow.LineResult {
	total := len(lines)
	sem := make(chan struct{}, p.concurrency)
	results := make(chan flow.LineResult, total)

	var wg sync.WaitGroup
	var completed atomic.Int64
	start := time.Now()

	stopHeartbeat := p.startHeartbeat(&completed, total)
	defer stopHeartbeat()

	for i, inputs := range lines {
		if p.canceling.Load() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(index int, inputs map[string]interface{}) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- p.runLine(ctx, index, inputs)
			completed.Add(1)
		}(i, inputs)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]flow.LineResult, 0, total)
	for r := range results {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return indexOf(out[i]) < indexOf(out[j])
	})

	p.logger.Info("batch line pool finished", "completed", len(out), "total", total, "elapsed", time.Since(start))
	return out
}

// runLine executes one line under its own timeout, abandoning the line's
// goroutine on timeout rather than canceling it -- its eventual result is
// simply discarded into a buffered channel nobody reads further.
func (p *Pool) runLine(ctx context.Context, index int, inputs map[string]interface{}) flow.LineResult {
	lineCtx := ctx
	var cancel context.CancelFunc
	if p.lineTimeout > 0 {
		lineCtx, cancel = context.WithTimeout(ctx, p.lineTimeout)
		defer cancel()
	}

	idx := index
	resultCh := make(chan flow.LineResult, 1)
	go func() {
		// allowGeneratorOutput=false: batch results are persisted as JSON,
		// so any streaming node's output must already be materialized.
		resultCh <- p.exec.ExecLine(lineCtx, p.runID, inputs, &idx, p.persist, false)
	}()

	select {
	case res := <-resultCh:
		return res
	case <-lineCtx.Done():
		return flow.LineResult{
			Index: &idx,
			Err:   &errors.LineTimeoutError{Line: idx, Timeout: p.lineTimeout.Seconds()},
		}
	}
}

func (p *Pool) startHeartbeat(completed *atomic.Int64, total int) func() {
	if p.heartbeat <= 0 || total == 0 {
		return func() {}
	}
	stop := make(chan struct{})
	start := time.Now()
	go func() {
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				done := completed.Load()
				elapsed := time.Since(start)
				var eta time.Duration
				if done > 0 {
					perLine := elapsed / time.Duration(done)
					eta = perLine * time.Duration(int64(total)-done)
				}
				p.logger.Info("batch progress", "completed", done, "total", total, "elapsed", elapsed, "eta", eta)
			}
		}
	}()
	return func() { close(stop) }
}

func indexOf(r flow.LineResult) int {
	if r.Index == nil {
		return 0
	}
	return *r.Index
}

// startMethodFromEnv reads PF_BATCH_METHOD, defaulting to
// StartMethodSpawn, and warns once via logger if the value read is not
// the default -- both values select the same goroutine pool here, so the
// warning documents the discrepancy rather than changing behavior.
func startMethodFromEnv(lookup func(string) (string, bool), logger *slog.Logger) StartMethod {
	v, ok := lookup(envBatchMethod)
	if !ok || v == "" {
		return StartMethodSpawn
	}
	method := StartMethod(v)
	if method != StartMethodSpawn {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("PF_BATCH_METHOD is not used to select a process start method in this implementation; the goroutine pool is used regardless", "value", fmt.Sprint(v))
	}
	return method
}
