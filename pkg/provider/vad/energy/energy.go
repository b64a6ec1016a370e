// Package energy provides a pure-Go VAD engine that classifies windows by
// their RMS level in dBFS. It needs no model file and is the default engine
// used by the recorder.
package energy

import (
	"errors"
	"math"
	"sync"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/vad"
)

// DefaultThresholdDB is the speech threshold used when Config.SpeechThreshold
// is zero. Quiet rooms sit around -60 dBFS; normal speech at arm's length is
// well above -40 dBFS.
const DefaultThresholdDB = -50.0

// silenceFloorDB is reported for empty or all-zero windows.
const silenceFloorDB = -100.0

var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-gated sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a session. SpeechThreshold is in dBFS
// and must be negative; zero selects [DefaultThresholdDB].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = DefaultThresholdDB
	}
	if threshold > 0 {
		return nil, errors.New("energy vad: speech threshold must be expressed in dBFS (<= 0)")
	}
	return &session{threshold: threshold, gate: vad.NewGate(cfg)}, nil
}

type session struct {
	threshold float64

	mu     sync.Mutex
	gate   *vad.Gate
	closed bool
}

// ProcessFrame classifies frame by its RMS level.
func (s *session) ProcessFrame(frame []float32) (vad.VADEvent, error) {
	level := LevelDB(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy vad: session is closed")
	}
	return vad.VADEvent{
		Type:        s.gate.Observe(level >= s.threshold),
		Probability: level,
	}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.gate.Reset()
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// LevelDB returns the RMS level of samples in dBFS, floored at -100.
func LevelDB(samples []float32) float64 {
	rms := audio.RMS(samples)
	if rms <= 0 {
		return silenceFloorDB
	}
	db := 20 * math.Log10(rms)
	if db < silenceFloorDB {
		return silenceFloorDB
	}
	return db
}
