package badger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/readalong/internal/storage"
	"github.com/MrWong99/readalong/internal/storage/badger"
)

func newStore(t *testing.T) *badger.Store {
	t.Helper()
	s, err := badger.Open(badger.Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := badger.Open(badger.Options{}); err == nil {
		t.Fatal("expected error without Dir")
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	if _, err := s.Get(ctx, "readalong.performance.metrics"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "readalong.performance.metrics", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "readalong.performance.metrics", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := s.Get(ctx, "readalong.performance.metrics")
	if err != nil || string(got) != `{"v":2}` {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "readalong.performance.metrics"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "never.set"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, err := s.Get(ctx, "readalong.performance.metrics"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s, err := badger.Open(badger.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "readalong.local_processing.prompt_dismissed", []byte("true")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = badger.Open(badger.Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "readalong.local_processing.prompt_dismissed")
	if err != nil || string(got) != "true" {
		t.Errorf("after reopen Get = %q, %v", got, err)
	}
}
