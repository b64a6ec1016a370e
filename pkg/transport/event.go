package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates [Event].
type EventType string

// Event types. Pong is consumed by the socket and never delivered. Done is
// never sent by the backend: the transports emit it once an utterance's
// reply is complete.
const (
	EventProcessingStarted EventType = "processing_started"
	EventAnalysis          EventType = "analysis"
	EventGPTResponse       EventType = "gpt_response"
	EventAudioFeedback     EventType = "audio_feedback_file"
	EventError             EventType = "error"
	EventPong              EventType = "pong"
	EventDone              EventType = "done"
)

// Terminal reports whether t ends an utterance.
func (t EventType) Terminal() bool {
	return t == EventError || t == EventDone
}

// Event is a tagged union: exactly the payload field matching Type is set.
type Event struct {
	Type EventType

	Analysis *AnalysisReport
	GPT      *GPTResponse
	Audio    *AudioFeedback

	// Message is the backend's text for EventError.
	Message string

	// Raw is the undecoded data field, kept for unknown event types.
	Raw json.RawMessage
}

// AnalysisReport is the backend's pronunciation report. PER holds one score in
// [0, 1] per ground-truth word.
type AnalysisReport struct {
	PER                 []float64  `json:"per"`
	GroundTruthWords    []string   `json:"ground_truth_word"`
	PredictedWords      []string   `json:"predicted_word,omitempty"`
	ErrorTypes          []string   `json:"error_type,omitempty"`
	GroundTruthPhonemes [][]string `json:"ground_truth_phonemes,omitempty"`
	PredictedPhonemes   [][]string `json:"predicted_phonemes,omitempty"`
	Graphemes           [][]string `json:"graphemes,omitempty"`
}

// GPTResponse carries the next content. A linear exercise sets Sentence; a
// branching story sets Options.
type GPTResponse struct {
	Sentence string        `json:"sentence,omitempty"`
	Feedback string        `json:"feedback,omitempty"`
	Options  []StoryOption `json:"options,omitempty"`
}

// Branching reports whether the response offers story choices.
func (g *GPTResponse) Branching() bool { return len(g.Options) > 0 }

// StoryOption is one branch of a branching story.
type StoryOption struct {
	Text   string `json:"text" validate:"required,max=300"`
	Icon   string `json:"icon,omitempty" validate:"max=16"`
	Action string `json:"action,omitempty" validate:"max=60"`
}

// AudioFeedback is synthesized speech, base64-encoded.
type AudioFeedback struct {
	Base64   string
	Filename string
	MimeType string
}

// wireRecord is the JSON shape of every record on both transports.
type wireRecord struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Mimetype string          `json:"mimetype,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// DecodeEvent parses one JSON record.
func DecodeEvent(b []byte) (Event, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, fmt.Errorf("transport: decode record: %w", err)
	}
	if w.Type == "" {
		return Event{}, errors.New("transport: decode record: missing type")
	}

	ev := Event{Type: EventType(w.Type), Raw: w.Data}
	switch ev.Type {
	case EventAnalysis:
		var r AnalysisReport
		if err := json.Unmarshal(w.Data, &r); err != nil {
			return Event{}, fmt.Errorf("transport: decode analysis: %w", err)
		}
		ev.Analysis = &r

	case EventGPTResponse:
		var g GPTResponse
		if err := json.Unmarshal(w.Data, &g); err != nil {
			return Event{}, fmt.Errorf("transport: decode gpt_response: %w", err)
		}
		ev.GPT = &g

	case EventAudioFeedback:
		var b64 string
		if err := json.Unmarshal(w.Data, &b64); err != nil {
			return Event{}, fmt.Errorf("transport: decode audio_feedback_file: %w", err)
		}
		ev.Audio = &AudioFeedback{Base64: b64, Filename: w.Filename, MimeType: w.Mimetype}

	case EventError:
		ev.Message = errorMessage(w)
	}
	return ev, nil
}

// errorMessage accepts "data" as a string, as {"message": ...}, or a
// top-level "message".
func errorMessage(w wireRecord) string {
	if len(w.Data) > 0 {
		var s string
		if json.Unmarshal(w.Data, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if json.Unmarshal(w.Data, &obj) == nil {
			if obj.Message != "" {
				return obj.Message
			}
			if obj.Detail != "" {
				return obj.Detail
			}
		}
	}
	if w.Message != "" {
		return w.Message
	}
	return "analysis failed"
}

// Err converts an EventError into an error value.
func (e Event) Err() error {
	if e.Type != EventError {
		return nil
	}
	return &BackendError{Message: e.Message}
}

// BackendError is a terminal error event reported by the backend.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return "backend: " + e.Message }
