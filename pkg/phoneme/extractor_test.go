package phoneme_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/phoneme/mock"
)

func wav48k(n int) []byte {
	return audio.EncodeWAV(make([]float32, n), 48000)
}

func TestExtractPhonemes_BeforeLoad(t *testing.T) {
	t.Parallel()

	ex := phoneme.NewExtractor(&mock.Loader{})
	_, err := ex.ExtractPhonemes(context.Background(), wav48k(480))
	if !errors.Is(err, phoneme.ErrModelNotLoaded) {
		t.Fatalf("err = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoadModel_ProgressMonotonic(t *testing.T) {
	t.Parallel()

	ex := phoneme.NewExtractor(&mock.Loader{Progress: []float64{10, 5, 50, 150, 40}})

	var got []float64
	if err := ex.LoadModel(context.Background(), func(p float64) { got = append(got, p) }); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	want := []float64{10, 50, 100}
	if !slices.Equal(got, want) {
		t.Errorf("progress = %v, want %v", got, want)
	}
	if !ex.IsLoaded() {
		t.Error("IsLoaded = false after successful load")
	}

	// Already loaded: returns without invoking the loader or progress.
	got = nil
	if err := ex.LoadModel(context.Background(), func(p float64) { got = append(got, p) }); err != nil {
		t.Fatalf("second LoadModel: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("progress on loaded model = %v, want none", got)
	}
}

func TestLoadModel_ConcurrentCallersShareOneLoad(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	loader := &mock.Loader{Gate: gate, Started: started}
	ex := phoneme.NewExtractor(loader)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ex.LoadModel(context.Background(), nil)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("load never started")
	}
	if !ex.IsLoading() {
		t.Error("IsLoading = false while load is gated")
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("LoadModel: %v", err)
		}
	}
	if n := loader.LoadCalls(); n != 1 {
		t.Errorf("loader ran %d times, want 1", n)
	}
	if ex.IsLoading() {
		t.Error("IsLoading = true after load finished")
	}
}

func TestLoadModel_FailureIsRecoverable(t *testing.T) {
	t.Parallel()

	loader := &mock.Loader{LoadErr: errors.New("download interrupted")}
	ex := phoneme.NewExtractor(loader)

	if err := ex.LoadModel(context.Background(), nil); err == nil {
		t.Fatal("expected load error")
	}
	if ex.IsLoaded() || ex.IsLoading() {
		t.Fatalf("state after failure: loaded=%v loading=%v", ex.IsLoaded(), ex.IsLoading())
	}

	loader.LoadErr = nil
	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !ex.IsLoaded() {
		t.Error("retry did not load the model")
	}
}

func TestLoadModel_RecordsDuration(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return t0.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
	}
	ex := phoneme.NewExtractor(&mock.Loader{}, phoneme.WithClock(clock))
	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if got := ex.LoadDuration(); got != 1500*time.Millisecond {
		t.Errorf("LoadDuration = %v, want 1.5s", got)
	}
}

func TestExtractPhonemes_ResamplesAndGroups(t *testing.T) {
	t.Parallel()

	model := &mock.Model{Tokens: []string{"k", "æ", "t"}}
	ex := phoneme.NewExtractor(&mock.Loader{Model: model})
	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	words, err := ex.ExtractPhonemes(context.Background(), wav48k(4800))
	if err != nil {
		t.Fatalf("ExtractPhonemes: %v", err)
	}
	if len(words) != 1 || !slices.Equal(words[0], []string{"k", "æ", "t"}) {
		t.Errorf("words = %v", words)
	}
	if n := model.LastSampleCount(); n != 1600 {
		t.Errorf("model saw %d samples, want 1600 at 16 kHz", n)
	}
}

func TestExtractPhonemes_InferenceFailureUnloads(t *testing.T) {
	t.Parallel()

	model := &mock.Model{InferErr: errors.New("tensor shape mismatch")}
	ex := phoneme.NewExtractor(&mock.Loader{Model: model})
	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	if _, err := ex.ExtractPhonemes(context.Background(), wav48k(480)); err == nil {
		t.Fatal("expected inference error")
	}
	if ex.IsLoaded() {
		t.Error("model still loaded after inference failure")
	}
	if !model.Closed() {
		t.Error("failed model was not closed")
	}
	if _, err := ex.ExtractPhonemes(context.Background(), wav48k(480)); !errors.Is(err, phoneme.ErrModelNotLoaded) {
		t.Errorf("err = %v, want ErrModelNotLoaded", err)
	}
}

func TestExtractPhonemes_BadAudioKeepsModel(t *testing.T) {
	t.Parallel()

	ex := phoneme.NewExtractor(&mock.Loader{})
	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if _, err := ex.ExtractPhonemes(context.Background(), []byte("not a wav")); err == nil {
		t.Fatal("expected decode error")
	}
	if !ex.IsLoaded() {
		t.Error("decode error must not unload the model")
	}
}

func TestUnloadModel(t *testing.T) {
	t.Parallel()

	model := &mock.Model{}
	ex := phoneme.NewExtractor(&mock.Loader{Model: model})
	ex.UnloadModel() // never loaded

	if err := ex.LoadModel(context.Background(), nil); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	ex.UnloadModel()
	ex.UnloadModel()
	if ex.IsLoaded() {
		t.Error("IsLoaded after UnloadModel")
	}
	if !model.Closed() {
		t.Error("model not closed on unload")
	}
}
