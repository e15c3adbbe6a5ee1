// Package registry builds backends and stores from configuration on first
// use. Backends are constructed lazily and shared: every store that names
// the same backend gets the same instance, and Close tears down each
// backend exactly once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/starford/odal"
	"github.com/starford/odal/backend/azure"
	"github.com/starford/odal/backend/localfs"
	"github.com/starford/odal/backend/memory"
	"github.com/starford/odal/backend/s3"
	"github.com/starford/odal/backend/sftp"
	"github.com/starford/odal/config"
)

// Factory builds a backend from its decoded option map.
type Factory func(ctx context.Context, options map[string]any) (odal.Backend, error)

// Registry resolves store names to ready Store instances. Safe for
// concurrent use.
type Registry struct {
	cfg       config.Config
	factories map[string]Factory
	log       *slog.Logger

	mu       sync.Mutex
	backends map[string]odal.Backend
	closed   bool
}

// New returns a registry over cfg with the builtin factories registered.
func New(cfg config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		cfg:       cfg,
		factories: make(map[string]Factory),
		log:       logger,
		backends:  make(map[string]odal.Backend),
	}
	r.Register("local", localFactory)
	r.Register("memory", memoryFactory)
	r.Register("s3", s3Factory)
	r.Register("sftp", sftpFactory)
	r.Register("azure", azureFactory)
	return r
}

// Register adds or replaces the factory for a backend type.
func (r *Registry) Register(backendType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backendType] = factory
}

// Store resolves a configured store by name, constructing its backend on
// first use.
func (r *Registry) Store(ctx context.Context, name string) (*odal.Store, error) {
	storeCfg, ok := r.cfg.Stores[name]
	if !ok {
		return nil, fmt.Errorf("registry: store %q is not configured", name)
	}
	backend, err := r.Backend(ctx, storeCfg.Backend)
	if err != nil {
		return nil, err
	}
	return odal.New(backend, storeCfg.RootPath)
}

// Backend resolves a configured backend by name, constructing and caching
// it on first use.
func (r *Registry) Backend(ctx context.Context, name string) (odal.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("registry: closed")
	}
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	backendCfg, ok := r.cfg.Backends[name]
	if !ok {
		return nil, fmt.Errorf("registry: backend %q is not configured", name)
	}
	factory, ok := r.factories[backendCfg.Type]
	if !ok {
		return nil, fmt.Errorf("registry: no factory for backend type %q", backendCfg.Type)
	}
	start := time.Now()
	backend, err := factory(ctx, backendCfg.Options)
	if err != nil {
		return nil, fmt.Errorf("registry: build backend %q: %w", name, err)
	}
	r.backends[name] = backend
	r.log.Info("backend ready",
		"name", name, "type", backendCfg.Type, "took", time.Since(start))
	return backend, nil
}

// Close closes every constructed backend. The registry rejects further
// resolution afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for name, backend := range r.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %q: %w", name, err))
		}
	}
	r.backends = nil
	return errors.Join(errs...)
}

// decodeOptions maps a loosely-typed option map onto a backend option
// struct, rejecting unknown keys so config typos surface at build time.
func decodeOptions[T any](options map[string]any, target *T) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

func localFactory(_ context.Context, options map[string]any) (odal.Backend, error) {
	var opts localfs.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return localfs.New(opts)
}

func memoryFactory(_ context.Context, options map[string]any) (odal.Backend, error) {
	if len(options) > 0 {
		return nil, errors.New("memory backend takes no options")
	}
	return memory.New(), nil
}

func s3Factory(ctx context.Context, options map[string]any) (odal.Backend, error) {
	var opts s3.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return s3.New(ctx, opts)
}

func sftpFactory(ctx context.Context, options map[string]any) (odal.Backend, error) {
	var opts sftp.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return sftp.New(ctx, opts)
}

func azureFactory(_ context.Context, options map[string]any) (odal.Backend, error) {
	var opts azure.Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return azure.New(opts)
}
