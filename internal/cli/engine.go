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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/promptflow/internal/config"
	"github.com/tombee/promptflow/internal/log"
	"github.com/tombee/promptflow/internal/tracing"
	"github.com/tombee/promptflow/pkg/flow"
	"github.com/tombee/promptflow/pkg/tools"
)

// Environment bundles the process-level dependencies every command
// needs to build a flow Executor: configuration, a logger, the tool
// registry, the node cache, and an OTel tracer with its shutdown hook.
// It is the CLI's equivalent of the base code's per-command dependency
// wiring in internal/commands/shared.
type Environment struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *tools.Registry
	Cache    *flow.CacheManager

	tracerProvider trace.TracerProvider
	shutdown       func(context.Context) error
}

// NewEnvironment loads configuration and builds the shared dependencies
// a command needs. Callers must call Close when done to flush the
// tracer provider.
func NewEnvironment(ctx context.Context, flags *GlobalFlags) (*Environment, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logCfg := log.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = log.Format(cfg.Log.Format)
	if flags.Verbose {
		logCfg.Level = "debug"
	}
	if flags.Quiet {
		logCfg.Output = os.Stderr
	}
	logger := log.New(logCfg)

	tp, shutdown, err := tracing.NewTracerProvider(ctx, cfg.Tracing, "promptflow", version)
	if err != nil {
		return nil, fmt.Errorf("building tracer provider: %w", err)
	}

	var cache *flow.CacheManager
	if cfg.Cache.Enabled {
		cache = flow.NewCacheManager(cfg.Cache.Dir, logger)
	}

	registry := tools.NewRegistry()
	if cfg.RateLimit.Enabled {
		registry.SetInterceptor(tools.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	}

	return &Environment{
		Config:         cfg,
		Logger:         logger,
		Registry:       registry,
		Cache:          cache,
		tracerProvider: tp,
		shutdown:       shutdown,
	}, nil
}

// Tracer returns a named tracer from the environment's TracerProvider.
func (e *Environment) Tracer(name string) trace.Tracer {
	return e.tracerProvider.Tracer(name)
}

// Close flushes the tracer provider.
func (e *Environment) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// LoadExecutor parses and validates the flow definition at flowPath and
// builds an Executor ready to run lines against it.
func (e *Environment) LoadExecutor(flowPath string, concurrency int) (*flow.Executor, *flow.Definition, error) {
	data, err := os.ReadFile(flowPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading flow definition %s: %w", flowPath, err)
	}

	def, err := flow.ParseDefinition(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing flow definition %s: %w", flowPath, err)
	}

	exec, err := flow.NewExecutor(def, e.Registry, e.Cache, e.Tracer("promptflow"), e.Logger, concurrency)
	if err != nil {
		return nil, nil, err
	}
	return exec, def, nil
}

// DefaultFlowFile resolves a flow directory argument to its
// flow.dag.yaml file, the convention ParseDefinition's callers use
// throughout this module and original_source's flow.dag.yaml layout.
func DefaultFlowFile(pathArg string) string {
	info, err := os.Stat(pathArg)
	if err == nil && info.IsDir() {
		return filepath.Join(pathArg, "flow.dag.yaml")
	}
	return pathArg
}
