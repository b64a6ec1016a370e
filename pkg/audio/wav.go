package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

const (
	// wavHeaderSize is the size of the canonical RIFF/WAVE header written by
	// EncodeWAV: RIFF chunk (12) + fmt chunk (24) + data chunk header (8).
	wavHeaderSize = 44

	bitsPerSample = 16
	pcmFormat     = 1
)

// ErrInvalidWAV is returned by DecodeWAV when the payload is not a decodable
// PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav payload")

// EncodeWAV encodes mono float32 samples as a 16-bit little-endian PCM WAV
// file with the standard 44-byte header. Samples are clamped to [-1, 1]
// before scaling; NaN and ±Inf never cause an error.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(bitsPerSample / 8)

	buf := make([]byte, wavHeaderSize+len(samples)*2)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], pcmFormat)
	le.PutUint16(buf[22:24], 1)
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate)*uint32(blockAlign))
	le.PutUint16(buf[32:34], blockAlign)
	le.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], dataSize)

	for i, s := range samples {
		le.PutUint16(buf[wavHeaderSize+i*2:], uint16(sampleToPCM16(s)))
	}
	return buf
}

// DecodeWAV decodes a PCM WAV payload into mono float32 samples and its
// sample rate. Multi-channel input is averaged down to mono. Only 16-bit
// files round-trip exactly with EncodeWAV; other bit depths are normalised by
// their full-scale value.
func DecodeWAV(data []byte) ([]float32, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, 0, ErrInvalidWAV
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}

	samples := make([]float32, len(buf.Data))
	if d.BitDepth == bitsPerSample {
		for i, v := range buf.Data {
			samples[i] = pcm16ToSample(v)
		}
	} else {
		full := float32(int64(1) << (d.BitDepth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / full
		}
	}
	return DownmixInterleaved(samples, channels), buf.Format.SampleRate, nil
}

// WAVDuration reports the playback length declared by a WAV payload's header.
func WAVDuration(data []byte) (time.Duration, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return 0, ErrInvalidWAV
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("audio: wav duration: %w", err)
	}
	return dur, nil
}
