package audio

import "time"

// TargetSampleRate is the rate every utterance is resampled to before
// encoding. The analysis backend and the phoneme model both expect 16 kHz.
const TargetSampleRate = 16000

// Chunk is one block of captured mono audio. Chunk sizes vary by device and
// are accumulated by the recorder until the utterance is finalized.
type Chunk struct {
	// Samples are 32-bit float PCM values, nominally in [-1, 1].
	Samples []float32

	// SampleRate in Hz (the device's native rate).
	SampleRate int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}
