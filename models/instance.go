package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/inferno-ml/inferno/log"
)

// Instance owns one constructed runner plus its lifecycle state. The
// loaded flag and the load itself live here so every runner gets the
// same lazy-load and re-load-after-cleanup behavior.
type Instance struct {
	mu     sync.Mutex
	cfg    ModelConfig
	runner Runner
	loaded bool
}

func newInstance(cfg ModelConfig, r Runner) *Instance {
	return &Instance{cfg: cfg, runner: r}
}

// Config returns the config the instance was built with.
func (i *Instance) Config() ModelConfig {
	return i.cfg
}

// Loaded reports whether the model is resident.
func (i *Instance) Loaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loaded
}

// Run executes the full pipeline: lazy load, prepare, infer,
// postprocess. The instance mutex serializes concurrent callers; a
// worker slot runs one job at a time anyway.
func (i *Instance) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.loaded {
		if err := i.runner.Load(ctx); err != nil {
			return nil, fmt.Errorf("load %s: %w", i.cfg.Name, err)
		}
		i.loaded = true
		log.Logger.Info().Str("model", i.cfg.Name).Int("device", i.cfg.DeviceID).Msg("model loaded")
	}

	in, err := i.runner.Prepare(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	out, err := i.runner.Infer(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}

	result, err := i.runner.Postprocess(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("postprocess: %w", err)
	}
	return result, nil
}

// Cleanup releases the model. A later Run re-loads.
func (i *Instance) Cleanup() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.runner.Close()
	i.loaded = false
	return err
}
