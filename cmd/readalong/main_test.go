package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/orchestrator"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/transport"
	"github.com/MrWong99/readalong/pkg/transport/mock"
)

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a := &app{cfg: cfg, level: new(slog.LevelVar), metrics: m, reg: config.NewRegistry()}
	registerBuiltins(a.reg, m)
	t.Cleanup(func() { a.close(context.Background()) })
	return a
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_WritesRotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "readalong.log")
	level := new(slog.LevelVar)
	logger, closeFn := newLogger(config.LogConfig{Level: config.LogWarn, File: path, MaxSizeMB: 1}, level)
	logger.Info("dropped")
	logger.Warn("kept")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Errorf("log file = %q", data)
	}
}

func TestRecorderConfig(t *testing.T) {
	t.Parallel()

	rc := config.RecorderConfig{SilenceTimeout: time.Second, VAD: config.VADSilero, EnergyThreshold: -40, SileroThreshold: 0.7}
	if got := recorderConfig(rc); got.VAD.SpeechThreshold != 0.7 || got.SilenceTimeout != time.Second {
		t.Errorf("silero recorder config = %+v", got)
	}
	rc.VAD = config.VADEnergy
	if got := recorderConfig(rc); got.VAD.SpeechThreshold != -40 {
		t.Errorf("energy threshold = %v", got.VAD.SpeechThreshold)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, config.Default())
	backend := config.BackendConfig{BaseURL: "https://reading.example.com"}

	for _, kind := range []config.TransportKind{config.TransportSocket, config.TransportStream, config.TransportAuto} {
		backend.Transport = kind
		if _, err := a.reg.CreateTransport(backend); err != nil {
			t.Errorf("CreateTransport(%s): %v", kind, err)
		}
	}
	backend.Transport = config.TransportAuto
	tr, _ := a.reg.CreateTransport(backend)
	if fb, ok := tr.(*resilience.TransportFallback); !ok || fb.Breaker("stream") == nil {
		t.Errorf("auto transport = %T, want socket with stream fallback", tr)
	}

	if _, err := a.reg.CreateVAD(config.RecorderConfig{VAD: config.VADEnergy}); err != nil {
		t.Errorf("energy vad: %v", err)
	}
	if _, err := a.reg.CreateVAD(config.RecorderConfig{VAD: config.VADSilero}); err == nil {
		t.Error("silero without a model path was accepted")
	}

	store, closeStore, err := a.reg.CreateStore(context.Background(), config.StorageConfig{Driver: config.StorageMemory})
	if err != nil || store == nil {
		t.Fatalf("memory store: %v", err)
	}
	closeStore()
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, config.Default())
	orch := orchestrator.New(&mock.Transport{})
	defer orch.Close()

	old := config.Default()
	updated := config.Default()
	updated.Log.Level = config.LogDebug
	updated.Phoneme.Enabled = true
	a.applyConfig(orch)(config.Diff(old, updated), updated)

	if a.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", a.level.Level())
	}
	if !orch.LocalEnabled() {
		t.Error("local processing not enabled")
	}
}

func TestAnalyze_StreamBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != transport.PathAnalyzeAudio {
			http.NotFound(w, r)
			return
		}
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"processing_started\"}\n\n"+
			"data: {\"type\":\"analysis\",\"data\":{\"per\":[0,0,0],\"ground_truth_word\":[\"the\",\"cat\",\"sat\"]}}\n\n"+
			"data: {\"type\":\"gpt_response\",\"data\":{\"sentence\":\"the dog ran\",\"feedback\":\"great job\"}}\n\n")
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.Transport = config.TransportStream
	cfg.Storage = config.StorageConfig{Driver: config.StorageMemory}
	cfg.Phoneme.Enabled = false
	a := newTestApp(t, cfg)

	path := filepath.Join(t.TempDir(), "reading.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(make([]float32, 16000), 16000), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := a.analyze(ctx, path, "the cat sat", &out); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"Score: 100%", "great job", "the dog ran"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestAnalyze_RejectsNonWAV(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, config.Default())
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hello"), 0o600)
	if err := a.analyze(context.Background(), path, "x", io.Discard); err == nil {
		t.Error("non-WAV input accepted")
	}
}
