// Package silero provides a VAD engine backed by the Silero ONNX model via
// github.com/streamer45/silero-vad-go. It is more robust than the energy gate
// in noisy classrooms at the cost of loading an ONNX runtime.
//
// Each polled window is resampled to 16 kHz and scored independently; the
// shared [vad.Gate] supplies the start/end hysteresis.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/vad"
)

const (
	modelSampleRate  = 16000
	defaultThreshold = 0.5

	// minWindow is the smallest window (in 16 kHz samples) the model scores.
	minWindow = 512
)

var _ vad.Engine = (*Engine)(nil)

// Engine creates Silero sessions from a model file on disk.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads the ONNX model at modelPath for every
// session. modelPath must be non-empty.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a detector for one recording. SpeechThreshold is a
// probability in (0, 1]; zero selects 0.5.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("silero: speech threshold %.2f is out of range (0, 1]", threshold)
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("silero: sample rate must be positive")
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           modelSampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{
		det:        det,
		sampleRate: cfg.SampleRate,
		gate:       vad.NewGate(cfg),
	}, nil
}

type session struct {
	sampleRate int

	mu   sync.Mutex
	det  *speech.Detector
	gate *vad.Gate
}

// ProcessFrame scores frame and advances the gate. Windows shorter than the
// model's minimum are padded with silence.
func (s *session) ProcessFrame(frame []float32) (vad.VADEvent, error) {
	pcm := audio.ResampleLinear(frame, s.sampleRate, modelSampleRate)
	if len(pcm) < minWindow {
		padded := make([]float32, minWindow)
		copy(padded, pcm)
		pcm = padded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return vad.VADEvent{}, errors.New("silero: session is closed")
	}

	if err := s.det.Reset(); err != nil {
		return vad.VADEvent{}, fmt.Errorf("silero: reset detector: %w", err)
	}
	segments, err := s.det.Detect(pcm)
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("silero: detect: %w", err)
	}

	isSpeech := len(segments) > 0
	prob := 0.0
	if isSpeech {
		prob = 1
	}
	return vad.VADEvent{Type: s.gate.Observe(isSpeech), Probability: prob}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate.Reset()
	if s.det != nil {
		_ = s.det.Reset()
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.det == nil {
		return nil
	}
	err := s.det.Destroy()
	s.det = nil
	return err
}
