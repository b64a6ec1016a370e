package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/internal/storage"
	"github.com/MrWong99/readalong/pkg/provider/vad"
	"github.com/MrWong99/readalong/pkg/transport"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// StoreFactory opens a store. The returned close function releases it.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (storage.Store, func() error, error)

// TransportFactory builds a transport for one backend.
type TransportFactory func(cfg BackendConfig) (transport.Transport, error)

// Registry maps config names to constructors for the pluggable components.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	vad        map[VADKind]func(RecorderConfig) (vad.Engine, error)
	stores     map[StorageDriver]StoreFactory
	transports map[TransportKind]TransportFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:        make(map[VADKind]func(RecorderConfig) (vad.Engine, error)),
		stores:     make(map[StorageDriver]StoreFactory),
		transports: make(map[TransportKind]TransportFactory),
	}
}

// RegisterVAD registers a VAD engine factory. A later call with the same
// kind replaces the earlier one.
func (r *Registry) RegisterVAD(kind VADKind, factory func(RecorderConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[kind] = factory
}

// RegisterStore registers a storage driver.
func (r *Registry) RegisterStore(driver StorageDriver, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[driver] = factory
}

// RegisterTransport registers a transport kind.
func (r *Registry) RegisterTransport(kind TransportKind, factory TransportFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[kind] = factory
}

// CreateVAD builds the engine named by cfg.VAD.
func (r *Registry) CreateVAD(cfg RecorderConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VAD]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, cfg.VAD)
	}
	return factory(cfg)
}

// CreateStore opens the store named by cfg.Driver.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (storage.Store, func() error, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: storage/%q", ErrNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}

// CreateTransport builds the transport named by cfg.Transport.
func (r *Registry) CreateTransport(cfg BackendConfig) (transport.Transport, error) {
	r.mu.RLock()
	factory, ok := r.transports[cfg.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrNotRegistered, cfg.Transport)
	}
	return factory(cfg)
}

// Names lists the registered names per component kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{}
	for k := range r.vad {
		out["vad"] = append(out["vad"], string(k))
	}
	for k := range r.stores {
		out["storage"] = append(out["storage"], string(k))
	}
	for k := range r.transports {
		out["transport"] = append(out["transport"], string(k))
	}
	for _, v := range out {
		slices.Sort(v)
	}
	return out
}
