// Package mock provides in-memory implementations of [audio.Source],
// [audio.Stream] and [audio.Player] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(48000, 64)
//	src := &mock.Source{Stream: stream}
//	rec := recorder.New(src, vadEngine, onComplete)
//	rec.Start(ctx)
//	stream.Push(samples)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh Stream at
	// 48 kHz.
	Stream *Stream

	// Fresh makes every Open return a new 48 kHz Stream, as a real device
	// does. Streams records them in order.
	Fresh   bool
	Streams []*Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls counts Open invocations.
	OpenCalls int
}

// Open records the call and returns Stream or OpenErr.
func (s *Source) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Fresh {
		st := NewStream(48000, 64)
		s.Streams = append(s.Streams, st)
		return st, nil
	}
	if s.Stream == nil {
		s.Stream = NewStream(48000, 64)
	}
	return s.Stream, nil
}

// Last returns the most recently opened Stream in Fresh mode, or nil.
func (s *Source) Last() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

var _ audio.Source = (*Source)(nil)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu      sync.Mutex
	rate    int
	chunks  chan audio.Chunk
	closed  bool
	elapsed time.Duration

	// CloseCalls counts Close invocations (including no-op repeats).
	CloseCalls int
}

// NewStream returns a Stream reporting sampleRate with a chunk channel of
// the given capacity.
func NewStream(sampleRate, capacity int) *Stream {
	return &Stream{rate: sampleRate, chunks: make(chan audio.Chunk, capacity)}
}

// Push delivers samples as one chunk. It reports false once the stream is
// closed. Push blocks when the channel is full.
func (s *Stream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	c := audio.Chunk{Samples: samples, SampleRate: s.rate, Timestamp: s.elapsed}
	s.elapsed += c.Duration()
	s.chunks <- c
	return true
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Chunks() <-chan audio.Chunk { return s.chunks }

func (s *Stream) SampleRate() int { return s.rate }

// Close closes the chunk channel. Repeated calls are counted and ignored.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.chunks)
	return nil
}

var _ audio.Stream = (*Stream)(nil)

// ─── Player ──────────────────────────────────────────────────────────────────

// PlayCall records one Player.Play invocation.
type PlayCall struct {
	Samples    []float32
	SampleRate int
}

// Player is a mock [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Calls records every Play invocation.
	Calls []PlayCall

	// Played, if non-nil, receives a value after every Play call.
	Played chan struct{}
}

// Play records the call and returns PlayErr.
func (p *Player) Play(_ context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{Samples: samples, SampleRate: sampleRate})
	err := p.PlayErr
	played := p.Played
	p.mu.Unlock()
	if played != nil {
		played <- struct{}{}
	}
	return err
}

// CallCount returns the number of Play calls so far.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ audio.Player = (*Player)(nil)
