// Package phoneme runs an optional on-device speech-to-phoneme model so that
// the analysis backend can skip its own phoneme extraction.
//
// An [Extractor] wraps a [ModelLoader]. The model is loaded lazily with
// [Extractor.LoadModel]; concurrent callers join a single in-flight load.
// [Extractor.ExtractPhonemes] decodes a WAV recording, resamples it to 16 kHz,
// runs inference and groups the flat token stream into words.
//
// Every failure leaves the Extractor either loaded and usable or fully
// unloaded, so callers can always fall back to server-side extraction.
package phoneme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/readalong/pkg/audio"
)

// ErrModelNotLoaded is returned by [Extractor.ExtractPhonemes] before a
// successful [Extractor.LoadModel].
var ErrModelNotLoaded = errors.New("phoneme: model not loaded")

// Model is a loaded speech-to-phoneme model. Implementations must be safe for
// concurrent Infer calls.
type Model interface {
	// Infer returns the flat phoneme token stream for 16 kHz mono samples.
	Infer(ctx context.Context, samples []float32) ([]string, error)

	// Close releases the model's native resources.
	Close() error
}

// ModelLoader fetches and initialises a [Model]. onProgress receives
// percentages in [0, 100]; it is never nil.
type ModelLoader interface {
	Load(ctx context.Context, onProgress func(percent float64)) (Model, error)
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithClock overrides the time source used to measure load duration.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// Extractor owns at most one loaded [Model]. Construct one per process and
// share it by dependency injection. It is safe for concurrent use.
type Extractor struct {
	loader ModelLoader
	now    func() time.Time
	group  singleflight.Group

	mu       sync.RWMutex
	model    Model
	loading  bool
	loadTime time.Duration
}

// NewExtractor returns an unloaded Extractor backed by loader.
func NewExtractor(loader ModelLoader, opts ...Option) *Extractor {
	e := &Extractor{loader: loader, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LoadModel loads the model unless it is already loaded. A call made while a
// load is in flight waits for that load instead of starting another one.
// onProgress may be nil; reported values never decrease. On failure the
// Extractor stays unloaded and a later call may retry.
func (e *Extractor) LoadModel(ctx context.Context, onProgress func(percent float64)) error {
	if e.IsLoaded() {
		return nil
	}
	prog := newProgress(onProgress)

	_, err, shared := e.group.Do("model", func() (any, error) {
		if e.IsLoaded() {
			return nil, nil
		}
		e.setLoading(true)
		defer e.setLoading(false)

		start := e.now()
		m, err := e.loader.Load(ctx, prog.report)
		if err != nil {
			return nil, fmt.Errorf("phoneme: load model: %w", err)
		}
		elapsed := e.now().Sub(start)

		e.mu.Lock()
		e.model = m
		e.loadTime = elapsed
		e.mu.Unlock()

		slog.Info("phoneme model loaded", "duration", elapsed)
		return nil, nil
	})
	if err != nil {
		slog.Warn("phoneme model load failed", "err", err, "shared", shared)
		return err
	}
	prog.report(100)
	return nil
}

// ExtractPhonemes returns one phoneme sequence per detected word. An
// inference failure unloads the model before the error is returned.
func (e *Extractor) ExtractPhonemes(ctx context.Context, wav []byte) ([][]string, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m == nil {
		return nil, ErrModelNotLoaded
	}

	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("phoneme: decode audio: %w", err)
	}
	samples = audio.ResampleLinear(samples, rate, audio.TargetSampleRate)

	tokens, err := m.Infer(ctx, samples)
	if err != nil {
		e.release(m)
		return nil, fmt.Errorf("phoneme: inference: %w", err)
	}
	return GroupWords(tokens), nil
}

// UnloadModel releases the model. It is safe to call when nothing is loaded.
func (e *Extractor) UnloadModel() {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m != nil {
		e.release(m)
	}
}

// release closes m if it is still the current model.
func (e *Extractor) release(m Model) {
	e.mu.Lock()
	if e.model != m {
		e.mu.Unlock()
		return
	}
	e.model = nil
	e.mu.Unlock()

	if err := m.Close(); err != nil {
		slog.Warn("phoneme model close failed", "err", err)
	}
}

// IsLoaded reports whether a model is ready for inference.
func (e *Extractor) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// IsLoading reports whether a load is in flight.
func (e *Extractor) IsLoading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loading
}

// LoadDuration returns how long the most recent successful load took.
func (e *Extractor) LoadDuration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadTime
}

func (e *Extractor) setLoading(v bool) {
	e.mu.Lock()
	e.loading = v
	e.mu.Unlock()
}

// progress clamps reports to [0, 100] and drops values that would go
// backwards.
type progress struct {
	mu   sync.Mutex
	last float64
	fn   func(float64)
}

func newProgress(fn func(float64)) *progress {
	return &progress{last: -1, fn: fn}
}

func (p *progress) report(pct float64) {
	pct = min(max(pct, 0), 100)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.fn != nil {
		p.fn(pct)
	}
}
