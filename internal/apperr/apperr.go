// Package apperr turns internal failures into the short, actionable messages
// shown to a child and their grown-up. Every surfaced error belongs to exactly
// one [Category]; the raw technical message is logged, never displayed.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/transport"
)

// Category is the user-facing error class.
type Category string

const (
	Network         Category = "network"
	Authentication  Category = "authentication"
	AudioProcessing Category = "audio_processing"
	ModelLoading    Category = "model_loading"
	AudioPlayback   Category = "audio_playback"
	StreamParsing   Category = "stream_parsing"
	Unknown         Category = "unknown"
)

// Error is a classified failure ready for display.
type Error struct {
	Category Category
	Title    string
	Action   string

	// Fatal means no automatic recovery will happen; the user has to
	// restart.
	Fatal bool

	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Category) + ": " + e.Title
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Title, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type copyText struct{ title, action string }

var texts = map[Category]copyText{
	Network:         {"We couldn't reach the reading helper", "Check your internet connection and try again."},
	Authentication:  {"You've been signed out", "Please sign in again."},
	AudioProcessing: {"We couldn't hear that", "Check your microphone and try reading again."},
	ModelLoading:    {"Quick mode isn't available", "We'll keep checking your reading online."},
	AudioPlayback:   {"We couldn't play the feedback", "Check your speakers or headphones."},
	StreamParsing:   {"Something got mixed up", "Please try reading the sentence again."},
	Unknown:         {"Something went wrong", "Please try again."},
}

// keywords are checked in order; the first category with a matching keyword
// wins.
var keywords = []struct {
	cat   Category
	words []string
}{
	{Authentication, []string{"unauthorized", "forbidden", "token", "auth", "401", "403", "sign in"}},
	{ModelLoading, []string{"model", "whisper", "onnx", "inference"}},
	{AudioPlayback, []string{"playback", "play ", "speaker", "output device"}},
	{AudioProcessing, []string{"microphone", "permission", "capture", "recording", "wav", "audio format", "no capture device"}},
	{StreamParsing, []string{"parse", "decode", "json", "malformed", "unexpected end"}},
	{Network, []string{"network", "connection", "timeout", "timed out", "dial", "refused", "reset", "eof", "unreachable", "no such host", "status 5", "no response"}},
}

// Classify maps err to a category. Known sentinel and typed errors are
// matched first; otherwise the message is searched for keywords.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	switch {
	case errors.Is(err, transport.ErrConnectionLost),
		errors.Is(err, transport.ErrNotConnected),
		errors.Is(err, transport.ErrSendInFlight),
		errors.Is(err, context.DeadlineExceeded):
		return Network
	case errors.Is(err, audio.ErrPermissionDenied),
		errors.Is(err, audio.ErrNoDevice),
		errors.Is(err, audio.ErrInvalidWAV):
		return AudioProcessing
	case errors.Is(err, phoneme.ErrModelNotLoaded):
		return ModelLoading
	}
	var he *transport.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == 401 || he.StatusCode == 403:
			return Authentication
		case he.StatusCode >= 500:
			return Network
		}
	}

	msg := strings.ToLower(err.Error())
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(msg, w) {
				return k.cat
			}
		}
	}
	return Unknown
}

// Wrap classifies err and attaches display text. A nil err yields nil and an
// *Error is returned unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	cat := Classify(err)
	e := &Error{Category: cat, Title: texts[cat].title, Action: texts[cat].action, Err: err}
	if errors.Is(err, transport.ErrConnectionLost) {
		e.Fatal = true
		e.Title = "Lost connection to the reading helper"
		e.Action = "Please restart readalong."
	}
	return e
}

// New builds an *Error of the given category with its default text.
func New(cat Category, err error) *Error {
	t, ok := texts[cat]
	if !ok {
		t = texts[Unknown]
	}
	return &Error{Category: cat, Title: t.title, Action: t.action, Err: err}
}
