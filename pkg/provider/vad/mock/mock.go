// Package mock provides scripted VAD engines for recorder tests.
package mock

import (
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/vad"
)

// NewSessionCall records one Engine.NewSession invocation.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine hands out Session (or a fresh silent one) and records the configs it
// was asked for.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session == nil {
		return &Session{}, nil
	}
	return e.Session, nil
}

// Session answers ProcessFrame from Script, one entry per window, and reports
// silence once the script runs out. Err, when set, fails every window.
type Session struct {
	mu sync.Mutex

	Script []vad.VADEventType
	Err    error

	// FrameLens holds the length of every submitted window.
	FrameLens  []int
	ResetCalls int
	CloseCalls int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []float32) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FrameLens = append(s.FrameLens, len(frame))
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Script) == 0 {
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
	ev := vad.VADEvent{Type: s.Script[0]}
	if ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue {
		ev.Probability = 1
	}
	s.Script = s.Script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCalls++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	return nil
}
