package vad

// VADEvent is the verdict for one window of audio.
type VADEvent struct {
	Type VADEventType

	// Probability is the window's speech score on the engine's own scale
	// (see [Config.SpeechThreshold]).
	Probability float64
}

// VADEventType is the speech transition a window produced.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

var eventNames = [...]string{
	VADSpeechStart:    "speech_start",
	VADSpeechContinue: "speech_continue",
	VADSpeechEnd:      "speech_end",
	VADSilence:        "silence",
}

func (t VADEventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// IsSpeech reports whether the window belongs to an utterance.
func (t VADEventType) IsSpeech() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}
