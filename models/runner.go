// Package models defines the runner contract and the model registry.
package models

import (
	"context"
	"fmt"
)

// ModelConfig identifies a runner instance: one model on one device.
type ModelConfig struct {
	Name     string
	Device   string // "cuda" or "cpu"
	DeviceID int    // accelerator index; -1 for CPU-only
	Extra    map[string]any
}

// CacheKey keys the per-process instance cache by (model, device).
func (c ModelConfig) CacheKey() string {
	return fmt.Sprintf("%s_%d", c.Name, c.DeviceID)
}

// Tensor is the opaque value passed between pipeline phases. Runners
// agree on its meaning among their own phases; the core never looks
// inside.
type Tensor struct {
	Shape []int
	Data  []float32
	// Meta carries phase-to-phase context (decoded sizes, formats).
	Meta map[string]any
}

// Runner is the capability set of one model pipeline. Implementations
// are not required to be goroutine-safe; the Instance wrapper
// serializes access.
type Runner interface {
	// Load brings the model into device memory. Called lazily by
	// Instance.Run on first use and again after Cleanup.
	Load(ctx context.Context) error
	// Prepare turns client input into the model's input tensor. It
	// must accept either image_url or image_base64; neither is a
	// client error.
	Prepare(ctx context.Context, input map[string]any) (*Tensor, error)
	// Infer runs the forward pass. No gradient state is kept.
	Infer(ctx context.Context, t *Tensor) (*Tensor, error)
	// Postprocess turns the output tensor into the result map. Raw
	// binary artifacts may appear under well-known keys (image_bytes);
	// the worker externalizes them.
	Postprocess(ctx context.Context, t *Tensor) (map[string]any, error)
	// Close releases the loaded model and device memory.
	Close() error
}

// Constructor builds a Runner for a config. Registered once per model
// name at startup.
type Constructor func(cfg ModelConfig) Runner
