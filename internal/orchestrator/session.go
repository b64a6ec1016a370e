package orchestrator

import (
	"slices"

	"github.com/MrWong99/readalong/internal/apperr"
	"github.com/MrWong99/readalong/pkg/transport"
)

// Phase is the per-turn state shown by the UI.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseProcessing   Phase = "processing"
	PhaseAnalyzed     Phase = "analyzed"
	PhaseGPTResponded Phase = "gpt_responded"
	PhaseAudioReady   Phase = "audio_ready"
)

// Session is the state of one practice turn.
type Session struct {
	ID       string
	Sentence string
	Phase    Phase

	// Highlight is set once an analysis arrived and per-word colouring can be
	// shown.
	Highlight bool
	Report    *transport.AnalysisReport

	NextSentence  string
	Options       []transport.StoryOption
	FeedbackText  string
	FeedbackAudio *transport.AudioFeedback

	// Local reports whether client phonemes were sent with this turn.
	Local bool

	Err *apperr.Error
}

func (s Session) clone() Session {
	out := s
	out.Options = slices.Clone(s.Options)
	if s.Report != nil {
		r := *s.Report
		out.Report = &r
	}
	if s.FeedbackAudio != nil {
		a := *s.FeedbackAudio
		out.FeedbackAudio = &a
	}
	return out
}
