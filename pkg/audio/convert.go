package audio

import (
	"encoding/binary"
	"math"
)

// MergeChunks concatenates the samples of all chunks into one contiguous
// buffer. Chunks are expected to share a sample rate.
func MergeChunks(chunks []Chunk) []float32 {
	n := 0
	for _, c := range chunks {
		n += len(c.Samples)
	}
	out := make([]float32, 0, n)
	for _, c := range chunks {
		out = append(out, c.Samples...)
	}
	return out
}

// ResampledLength returns the number of samples ResampleLinear produces for
// n input samples: round(n * dstRate / srcRate).
func ResampledLength(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return n
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// ResampleLinear resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned
// unchanged. The result is not band-limited; the analysis backend tolerates
// the minor aliasing this introduces.
func ResampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	dstSamples := ResampledLength(len(samples), srcRate, dstRate)
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx > last {
			srcIdx = last
		}
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 <= last {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// DownmixInterleaved averages interleaved multi-channel float32 frames into
// mono. If channels is 1 the input is returned unchanged.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Float32FromBytes decodes little-endian IEEE-754 float32 samples, as
// delivered by capture devices opened in f32 mode. A trailing partial sample
// is ignored.
func Float32FromBytes(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToBytes encodes float32 samples as little-endian IEEE-754 bytes for
// output devices opened in f32 mode.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// RMS returns the root-mean-square energy of samples, in the same [0, 1]
// scale as the samples themselves. Non-finite samples are skipped.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v * v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// sampleToPCM16 clamps s to [-1, 1] and scales it to the signed 16-bit range:
// negative values by 32768, non-negative by 32767, rounding to nearest. NaN
// is treated as silence.
func sampleToPCM16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// pcm16ToSample is the inverse of sampleToPCM16.
func pcm16ToSample(v int) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
