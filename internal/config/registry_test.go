package config_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/storage"
	"github.com/MrWong99/readalong/pkg/provider/vad"
	"github.com/MrWong99/readalong/pkg/provider/vad/energy"
	"github.com/MrWong99/readalong/pkg/transport"
	"github.com/MrWong99/readalong/pkg/transport/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterVAD(config.VADEnergy, func(config.RecorderConfig) (vad.Engine, error) { return energy.New(), nil })
	r.RegisterStore(config.StorageMemory, func(context.Context, config.StorageConfig) (storage.Store, func() error, error) {
		return storage.NewMemory(), func() error { return nil }, nil
	})
	r.RegisterTransport(config.TransportStream, func(config.BackendConfig) (transport.Transport, error) {
		return &mock.Transport{}, nil
	})

	if _, err := r.CreateVAD(config.RecorderConfig{VAD: config.VADEnergy}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	if _, err := r.CreateVAD(config.RecorderConfig{VAD: config.VADSilero}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateVAD(silero) = %v, want ErrNotRegistered", err)
	}
	store, closeFn, err := r.CreateStore(context.Background(), config.StorageConfig{Driver: config.StorageMemory})
	if err != nil || store == nil || closeFn() != nil {
		t.Errorf("CreateStore = %v, %v", store, err)
	}
	if _, _, err := r.CreateStore(context.Background(), config.StorageConfig{Driver: config.StorageBadger}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateStore(badger) = %v", err)
	}
	if _, err := r.CreateTransport(config.BackendConfig{Transport: config.TransportStream}); err != nil {
		t.Errorf("CreateTransport: %v", err)
	}

	names := r.Names()
	if !slices.Equal(names["vad"], []string{"energy"}) || !slices.Equal(names["transport"], []string{"stream"}) {
		t.Errorf("Names = %v", names)
	}
}
