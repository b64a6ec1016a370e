// Package mock provides test doubles for [phoneme.ModelLoader] and
// [phoneme.Model].
//
// Loader.Gate lets a test hold a load in flight to exercise concurrent
// LoadModel callers:
//
//	gate := make(chan struct{})
//	l := &mock.Loader{Model: &mock.Model{Tokens: toks}, Gate: gate}
//	go ex.LoadModel(ctx, nil)
//	// ... assert IsLoading ...
//	close(gate)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readalong/pkg/phoneme"
)

// Loader is a mock [phoneme.ModelLoader].
type Loader struct {
	mu sync.Mutex

	// Model is returned by a successful Load. If nil a default Model is used.
	Model *Model

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// Progress is reported, in order, before Load returns.
	Progress []float64

	// Gate, if non-nil, blocks Load until it is closed or ctx is done.
	Gate chan struct{}

	// Started, if non-nil, receives a value when Load begins.
	Started chan struct{}

	loadCalls int
}

// Load records the call, reports Progress and returns Model or LoadErr.
func (l *Loader) Load(ctx context.Context, onProgress func(float64)) (phoneme.Model, error) {
	l.mu.Lock()
	l.loadCalls++
	gate, started, prog := l.Gate, l.Started, l.Progress
	l.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	for _, p := range prog {
		onProgress(p)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	if l.Model == nil {
		l.Model = &Model{}
	}
	return l.Model, nil
}

// LoadCalls returns how many times Load ran.
func (l *Loader) LoadCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadCalls
}

var _ phoneme.ModelLoader = (*Loader)(nil)

// Model is a mock [phoneme.Model] returning a fixed token stream.
type Model struct {
	mu sync.Mutex

	// Tokens is returned by every successful Infer.
	Tokens []string

	// InferErr, if non-nil, is returned by Infer.
	InferErr error

	inferCalls int
	samples    int
	closed     bool
}

// Infer records the call and returns Tokens or InferErr.
func (m *Model) Infer(_ context.Context, samples []float32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferCalls++
	m.samples = len(samples)
	if m.InferErr != nil {
		return nil, m.InferErr
	}
	return append([]string(nil), m.Tokens...), nil
}

// Close marks the model closed.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// InferCalls returns how many times Infer ran.
func (m *Model) InferCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferCalls
}

// LastSampleCount returns the number of samples passed to the last Infer.
func (m *Model) LastSampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ phoneme.Model = (*Model)(nil)
