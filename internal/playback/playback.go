// Package playback turns audio_feedback_file events into something a speaker
// can play. Decoded clips are written to a temporary file that lives until
// [Clip.Release]; WAV clips are played through an [audio.Player], any other
// format is kept on disk but not played.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/transport"
)

// ErrUnsupported is returned by [Player.Play] for clips it cannot decode.
var ErrUnsupported = errors.New("playback: unsupported audio format")

// Clip is one decoded feedback clip backed by a temporary file.
type Clip struct {
	Path     string
	MimeType string
	Data     []byte

	once sync.Once
}

// Release removes the backing file. It is safe to call more than once.
func (c *Clip) Release() error {
	var err error
	c.once.Do(func() {
		if rmErr := os.Remove(c.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("playback: release %s: %w", c.Path, rmErr)
		}
	})
	return err
}

// IsWAV reports whether the clip is a RIFF/WAVE file, by mimetype or magic.
func (c *Clip) IsWAV() bool {
	switch strings.ToLower(c.MimeType) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return len(c.Data) >= 12 && string(c.Data[0:4]) == "RIFF" && string(c.Data[8:12]) == "WAVE"
}

// Decode base64-decodes fb into a temporary file under dir (os.TempDir when
// empty).
func Decode(fb transport.AudioFeedback, dir string) (*Clip, error) {
	data, err := base64.StdEncoding.DecodeString(fb.Base64)
	if err != nil {
		return nil, fmt.Errorf("playback: decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("playback: decode: empty clip")
	}
	pattern := "feedback-*" + ext(fb)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("playback: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("playback: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("playback: close temp file: %w", err)
	}
	mt := fb.MimeType
	if mt == "" {
		mt = "audio/wav"
	}
	return &Clip{Path: f.Name(), MimeType: mt, Data: data}, nil
}

func ext(fb transport.AudioFeedback) string {
	if e := filepath.Ext(fb.Filename); e != "" && !strings.ContainsAny(e, `/\*`) {
		return e
	}
	switch strings.ToLower(fb.MimeType) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	}
	return ".wav"
}

// Player plays feedback clips on an [audio.Player].
type Player struct {
	out audio.Player
	dir string
}

// Option configures a [Player].
type Option func(*Player)

// WithTempDir sets where clips are written.
func WithTempDir(dir string) Option {
	return func(p *Player) { p.dir = dir }
}

// NewPlayer returns a Player writing to out.
func NewPlayer(out audio.Player, opts ...Option) *Player {
	p := &Player{out: out}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlayFeedback decodes fb, plays it and releases the clip. Non-WAV clips are
// logged and reported as [ErrUnsupported].
func (p *Player) PlayFeedback(ctx context.Context, fb transport.AudioFeedback) error {
	clip, err := Decode(fb, p.dir)
	if err != nil {
		return err
	}
	defer clip.Release()
	return p.Play(ctx, clip)
}

// Play decodes a WAV clip and blocks until playback finishes.
func (p *Player) Play(ctx context.Context, clip *Clip) error {
	if !clip.IsWAV() {
		slog.Info("playback: skipping unsupported clip", "mimetype", clip.MimeType, "path", clip.Path)
		return fmt.Errorf("%w: %s", ErrUnsupported, clip.MimeType)
	}
	samples, rate, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if err := p.out.Play(ctx, samples, rate); err != nil {
		return fmt.Errorf("playback: play: %w", err)
	}
	return nil
}
