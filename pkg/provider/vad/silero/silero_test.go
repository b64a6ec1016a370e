package silero_test

import (
	"os"
	"testing"

	"github.com/MrWong99/readalong/pkg/provider/vad"
	"github.com/MrWong99/readalong/pkg/provider/vad/silero"
)

// testModelPath returns the path to a Silero ONNX model for integration tests.
// It reads from the SILERO_MODEL_PATH environment variable. If unset the test
// is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("SILERO_MODEL_PATH")
	if p == "" {
		t.Skip("SILERO_MODEL_PATH not set; skipping silero test")
	}
	return p
}

func TestNew_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := silero.New(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewSession_ThresholdOutOfRange(t *testing.T) {
	e, err := silero.New("/does/not/matter.onnx")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.NewSession(vad.Config{SampleRate: 16000, SpeechThreshold: 1.5}); err == nil {
		t.Fatal("expected error for threshold > 1")
	}
	if _, err := e.NewSession(vad.Config{SampleRate: 0}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestSession_SilenceIsNotSpeech(t *testing.T) {
	e, err := silero.New(testModelPath(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := e.NewSession(vad.Config{SampleRate: 48000})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	for range 5 {
		ev, err := sess.ProcessFrame(make([]float32, 2400))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Type != vad.VADSilence {
			t.Fatalf("got %v for silence, want silence", ev.Type)
		}
	}
}
