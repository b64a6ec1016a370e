package vad

// Gate turns per-window speech decisions into start/continue/end events with
// hysteresis. Engines embed a Gate so that they only have to classify single
// windows. A Gate is not safe for concurrent use.
type Gate struct {
	startFrames int
	endFrames   int

	speaking   bool
	speechRun  int
	silenceRun int
}

// NewGate returns a Gate using cfg.StartFrames and cfg.EndFrames, applying
// defaults of 1 and 3 for non-positive values.
func NewGate(cfg Config) *Gate {
	g := &Gate{startFrames: cfg.StartFrames, endFrames: cfg.EndFrames}
	if g.startFrames <= 0 {
		g.startFrames = 1
	}
	if g.endFrames <= 0 {
		g.endFrames = 3
	}
	return g
}

// Observe feeds one window decision and returns the resulting event type.
func (g *Gate) Observe(isSpeech bool) VADEventType {
	if isSpeech {
		g.silenceRun = 0
		if g.speaking {
			return VADSpeechContinue
		}
		g.speechRun++
		if g.speechRun >= g.startFrames {
			g.speaking = true
			g.speechRun = 0
			return VADSpeechStart
		}
		return VADSilence
	}

	g.speechRun = 0
	if !g.speaking {
		return VADSilence
	}
	g.silenceRun++
	if g.silenceRun >= g.endFrames {
		g.speaking = false
		g.silenceRun = 0
		return VADSpeechEnd
	}
	return VADSpeechContinue
}

// Speaking reports whether the gate is currently inside a speech segment.
func (g *Gate) Speaking() bool { return g.speaking }

// Reset returns the gate to the silent state.
func (g *Gate) Reset() {
	g.speaking = false
	g.speechRun = 0
	g.silenceRun = 0
}
