// Package vad decides which windows of captured audio contain speech. The
// recorder opens one [SessionHandle] per recording, feeds it fixed windows
// at the capture rate, and arms its silence timer on [VADSpeechEnd].
//
// Engines: energy (RMS level in dBFS, no model) and silero (ONNX model).
package vad

// Config holds the parameters for one session.
type Config struct {
	// SampleRate of the frames passed to ProcessFrame, in Hz.
	SampleRate int

	// SpeechThreshold is on the engine's own scale: dBFS for energy (typical
	// -50), probability in [0, 1] for silero (typical 0.5).
	SpeechThreshold float64

	// StartFrames consecutive speech windows open an utterance. Default 1.
	StartFrames int

	// EndFrames consecutive quiet windows close it. Default 3.
	EndFrames int
}

// SessionHandle tracks speech state for one recording. It is not safe for
// concurrent use.
type SessionHandle interface {
	// ProcessFrame scores one window of mono samples. It must not block on
	// I/O.
	ProcessFrame(frame []float32) (VADEvent, error)

	// Reset clears the hysteresis state.
	Reset()

	// Close releases the session. Repeated calls return nil.
	Close() error
}

// Engine creates sessions. Implementations are safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
