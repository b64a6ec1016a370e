// Package miniaudio provides [audio.Source] and [audio.Player] implementations
// backed by miniaudio through the malgo CGO bindings.
//
// Capture devices are opened in 32-bit float mono at the device's native
// sample rate; resampling to 16 kHz happens later, once per utterance, in the
// recorder. A single malgo context is created per [Device] and shared by every
// capture stream and playback it opens.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/readalong/pkg/audio"
)

// chunkBuffer is the capacity of the chunk channel handed to the recorder.
// At ~10 ms device periods this holds several seconds of audio.
const chunkBuffer = 512

var (
	_ audio.Source = (*Device)(nil)
	_ audio.Player = (*Device)(nil)
)

// Device owns a malgo context. Close must be called when the device is no
// longer needed.
type Device struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises the malgo context. It does not touch any hardware until
// [Device.Open] or [Device.Play] is called.
func New() (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Device{ctx: ctx}, nil
}

// Close releases the malgo context. Streams opened from d must be closed
// first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

// Open starts a capture stream on the default input device.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	mctx := d.ctx
	d.mu.Unlock()
	if mctx == nil {
		return nil, errors.New("miniaudio: device is closed")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = 0 // native rate
	cfg.Alsa.NoMMap = 1

	s := &captureStream{
		chunks: make(chan audio.Chunk, chunkBuffer),
		start:  time.Now(),
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	s.dev = dev
	s.rate = int(dev.SampleRate())

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, classifyOpenErr(err)
	}
	slog.Debug("miniaudio capture started", "sample_rate", s.rate)
	return s, nil
}

// classifyOpenErr maps malgo errors onto the audio package sentinels so that
// callers can distinguish a denied permission from a missing device.
func classifyOpenErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
}

// captureStream is a live malgo capture device. It implements audio.Stream.
type captureStream struct {
	dev    *malgo.Device
	rate   int
	start  time.Time
	chunks chan audio.Chunk

	mu     sync.Mutex
	closed bool
}

// onData runs on the miniaudio device thread. It must not block: chunks are
// dropped when the consumer falls behind.
func (s *captureStream) onData(_, input []byte, _ uint32) {
	samples := audio.Float32FromBytes(input)
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.chunks <- audio.Chunk{
		Samples:    samples,
		SampleRate: s.rate,
		Timestamp:  time.Since(s.start),
	}:
	default:
		slog.Warn("miniaudio: capture chunk dropped, consumer too slow")
	}
}

func (s *captureStream) Chunks() <-chan audio.Chunk { return s.chunks }

func (s *captureStream) SampleRate() int { return s.rate }

// Close stops the device, releases it, and closes the chunk channel.
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.dev.Stop()
	s.dev.Uninit()

	s.mu.Lock()
	close(s.chunks)
	s.mu.Unlock()
	return err
}

// Play renders samples on the default output device and blocks until the
// buffer has been consumed or ctx is cancelled.
func (d *Device) Play(ctx context.Context, samples []float32, sampleRate int) error {
	d.mu.Lock()
	mctx := d.ctx
	d.mu.Unlock()
	if mctx == nil {
		return errors.New("miniaudio: device is closed")
	}
	if len(samples) == 0 {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	pcm := audio.Float32ToBytes(samples)
	var (
		mu     sync.Mutex
		offset int
	)
	done := make(chan struct{})
	var doneOnce sync.Once

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			mu.Lock()
			n := copy(output, pcm[offset:])
			offset += n
			finished := offset >= len(pcm)
			mu.Unlock()
			for i := n; i < len(output); i++ {
				output[i] = 0
			}
			if finished {
				doneOnce.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("miniaudio: init playback: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("miniaudio: start playback: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
