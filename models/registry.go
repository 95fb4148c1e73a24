package models

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inferno-ml/inferno/log"
)

// ErrUnknownModel is returned for names with no registered constructor.
var ErrUnknownModel = errors.New("model not registered")

// Registry is the catalog of runner constructors plus the per-device
// instance cache. It is an explicit collaborator, not a process
// singleton, so tests can build isolated registries.
type Registry struct {
	mu        sync.Mutex
	ctors     map[string]Constructor
	order     []string
	instances map[string]*Instance
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors:     make(map[string]Constructor),
		instances: make(map[string]*Instance),
	}
}

// Register adds a constructor under name. Re-registration warns and
// overwrites; last writer wins.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[name]; exists {
		log.Logger.Warn().Str("model", name).Msg("model already registered, overwriting")
	} else {
		r.order = append(r.order, name)
	}
	r.ctors[name] = ctor
	log.Logger.Info().Str("model", name).Msg("registered model runner")
}

// List returns model names in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether name has a registered constructor.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ctors[name]
	return ok
}

// CreateRunner builds a fresh, uncached Instance.
func (r *Registry) CreateRunner(cfg ModelConfig) (*Instance, error) {
	r.mu.Lock()
	ctor, ok := r.ctors[cfg.Name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, cfg.Name)
	}
	return newInstance(cfg, ctor(cfg)), nil
}

// GetOrCreateRunner returns the cached Instance for (model, device),
// building it once. Construction is serialized by the registry mutex
// so concurrent demand never builds two instances for one key.
func (r *Registry) GetOrCreateRunner(cfg ModelConfig) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cfg.CacheKey()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	ctor, ok := r.ctors[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, cfg.Name)
	}
	inst := newInstance(cfg, ctor(cfg))
	r.instances[key] = inst
	log.Logger.Info().Str("key", key).Msg("created runner instance")
	return inst, nil
}

// Cleanup evicts and destroys one cached instance when both name and
// device are given, or every instance otherwise.
func (r *Registry) Cleanup(name string, deviceID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		key := ModelConfig{Name: name, DeviceID: deviceID}.CacheKey()
		if inst, ok := r.instances[key]; ok {
			if err := inst.Cleanup(); err != nil {
				log.Logger.Error().Err(err).Str("key", key).Msg("runner cleanup failed")
			}
			delete(r.instances, key)
		}
		return
	}

	for key, inst := range r.instances {
		if err := inst.Cleanup(); err != nil {
			log.Logger.Error().Err(err).Str("key", key).Msg("runner cleanup failed")
		}
	}
	r.instances = make(map[string]*Instance)
}
