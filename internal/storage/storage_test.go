package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/readalong/internal/storage"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var m storage.Memory

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}

	val := []byte(`{"a":1}`)
	if err := m.Set(ctx, "k", val); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val[0] = 'X'
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("Get = %q, %v (stored value must be a copy)", got, err)
	}

	_ = m.Set(ctx, "a", nil)
	if keys := m.Keys(); len(keys) != 2 || keys[0] != "a" {
		t.Errorf("Keys = %v", keys)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}
