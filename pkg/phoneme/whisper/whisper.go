// Package whisper implements [phoneme.ModelLoader] on top of the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model file is fetched into a cache directory on first use (see
// [modelcache]). Inference transcribes the utterance and converts the text
// into an approximate phoneme token stream with [phoneme.ToPhonemes].
//
//	l, err := whisper.NewLoader(
//	    whisper.WithModelURL("https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin"),
//	    whisper.WithCacheDir(cacheDir),
//	)
//	ex := phoneme.NewExtractor(l)
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/phoneme/modelcache"
)

const (
	defaultLanguage = "en"

	// downloadShare is the part of overall progress attributed to fetching the
	// model file; initialisation accounts for the rest.
	downloadShare = 90.0
)

var _ phoneme.ModelLoader = (*Loader)(nil)

// Loader downloads (when needed) and opens a whisper.cpp model.
type Loader struct {
	modelPath string
	modelURL  string
	cacheDir  string
	language  string
	client    *resty.Client
}

// Option is a functional option for [NewLoader].
type Option func(*Loader)

// WithModelPath uses an existing model file and disables downloading.
func WithModelPath(p string) Option {
	return func(l *Loader) { l.modelPath = p }
}

// WithModelURL sets the URL the model is downloaded from.
func WithModelURL(u string) Option {
	return func(l *Loader) { l.modelURL = u }
}

// WithCacheDir sets where downloaded models are stored. Defaults to
// [modelcache.DefaultDir].
func WithCacheDir(dir string) Option {
	return func(l *Loader) { l.cacheDir = dir }
}

// WithLanguage sets the transcription language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(l *Loader) { l.language = lang }
}

// WithHTTPClient replaces the resty client used for downloads.
func WithHTTPClient(c *resty.Client) Option {
	return func(l *Loader) { l.client = c }
}

// NewLoader validates the options. Either a model path or a model URL is
// required.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{language: defaultLanguage}
	for _, o := range opts {
		o(l)
	}
	if l.modelPath == "" && l.modelURL == "" {
		return nil, errors.New("whisper: model path or model URL is required")
	}
	if l.cacheDir == "" {
		dir, err := modelcache.DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		l.cacheDir = dir
	}
	if l.client == nil {
		l.client = resty.New()
	}
	return l, nil
}

// Load ensures the model file exists locally and opens it.
func (l *Loader) Load(ctx context.Context, onProgress func(float64)) (phoneme.Model, error) {
	p, err := l.Fetch(ctx, func(pct float64) { onProgress(pct * downloadShare / 100) })
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := whisperlib.New(p)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", p, err)
	}
	onProgress(100)
	return &Model{model: m, language: l.language}, nil
}

// Fetch returns the local model path, downloading the file into the cache
// directory if it is not there yet. onProgress receives the download
// percentage.
func (l *Loader) Fetch(ctx context.Context, onProgress func(float64)) (string, error) {
	if l.modelPath != "" {
		if _, err := os.Stat(l.modelPath); err != nil {
			return "", fmt.Errorf("whisper: model file: %w", err)
		}
		onProgress(100)
		return l.modelPath, nil
	}
	p, err := modelcache.New(l.cacheDir, l.client).Fetch(ctx, l.modelURL, onProgress)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return p, nil
}

// Model is a loaded whisper.cpp model producing phoneme tokens.
type Model struct {
	model    whisperlib.Model
	language string
}

var _ phoneme.Model = (*Model)(nil)

// Infer transcribes samples with a fresh whisper context and converts the
// text to phoneme tokens.
func (m *Model) Infer(ctx context.Context, samples []float32) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Contexts are not thread-safe; the model is.
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(m.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", m.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return phoneme.ToPhonemes(strings.Join(parts, " ")), nil
}

// Close releases the native model.
func (m *Model) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}
