// Package audio defines the capture and playback abstractions used by the
// readalong recording pipeline, plus the PCM helpers and WAV codec that turn
// captured samples into the canonical payload sent for analysis.
//
// The two primary abstractions are:
//
//   - [Source] opens a microphone and returns a [Stream] of float32 chunks.
//   - [Player] plays decoded samples on an output device.
//
// Device-specific implementations live in sub-packages (e.g. audio/miniaudio).
//
// This package lives under pkg/ because external code is expected to supply
// its own [Source] (a browser bridge, a file replay, a test double).
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Source.Open] when the operating system
// refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrNoDevice is returned by [Source.Open] when no capture device is present.
var ErrNoDevice = errors.New("audio: no capture device available")

// Source opens capture streams. A Source may be opened many times, but the
// recorder keeps at most one [Stream] open at a time.
type Source interface {
	// Open acquires the capture device and starts delivering chunks. The
	// returned Stream owns the hardware until [Stream.Close] is called.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live capture session on one device.
//
// Implementations must be safe for concurrent use: Close may be called from a
// goroutine other than the one draining Chunks.
type Stream interface {
	// Chunks returns the channel that delivers captured audio. The channel is
	// closed after Close returns or when the device fails.
	Chunks() <-chan Chunk

	// SampleRate reports the device's native rate in Hz (commonly 44100 or
	// 48000).
	SampleRate() int

	// Close stops the device and releases every hardware track. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Player plays mono float32 samples. Play blocks until playback finished or
// ctx is cancelled.
type Player interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}
