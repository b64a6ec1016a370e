// Package transport sends one recorded utterance to the analysis backend and
// delivers the typed events it streams back.
//
// Two interchangeable implementations share the [Transport] contract:
//
//   - [Socket] keeps one WebSocket open for many utterances, with heartbeat
//     and capped exponential reconnect.
//   - [Stream] issues one multipart POST per utterance and parses the chunked
//     "data: <json>" response with a [RecordReader].
//
// Events for one connection are delivered to [Options.OnEvent] sequentially,
// in wire order, from a single goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Backend paths.
const (
	PathAnalyzeAudio             = "/ai/analyze-audio"
	PathAnalyzeAudioWithPhonemes = "/ai/analyze-audio-with-phonemes"
	PathAudioAnalysisSocket      = "/ai/ws/audio-analysis"
)

var (
	// ErrNotConnected is returned by SendAudio when Connect has not completed
	// or the connection is down.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendInFlight is returned by [Socket.SendAudio] while a previous
	// utterance has not finished replying and was not released.
	ErrSendInFlight = errors.New("transport: an analysis is already in flight")

	// ErrConnectionLost is reported through OnError once the socket has
	// exhausted its reconnect budget. No further reconnects are attempted.
	ErrConnectionLost = errors.New("transport: connection lost")
)

// Transport is the contract shared by [Socket] and [Stream].
type Transport interface {
	// Connect prepares the transport and registers the callbacks in opts.
	Connect(ctx context.Context, opts Options) error

	// SendAudio submits one utterance. Events arrive through Options.OnEvent.
	SendAudio(ctx context.Context, req AudioRequest) error

	// Disconnect tears the transport down. It never reports through OnError.
	Disconnect() error

	// IsConnected reports whether SendAudio can be called.
	IsConnected() bool
}

// Releaser is implemented by transports that hold an utterance open until
// the backend has finished replying. ReleaseUtterance frees it early, once
// the caller no longer waits for that reply, so the next SendAudio is
// accepted.
type Releaser interface {
	ReleaseUtterance()
}

// Options carries credentials and callbacks for one connection.
type Options struct {
	// Token is the bearer token.
	Token string

	// SessionID is an opaque id forwarded with every utterance.
	SessionID string

	OnEvent      func(Event)
	OnError      func(error)
	OnConnect    func()
	OnDisconnect func()
}

func (o Options) event(ev Event) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}

func (o Options) fail(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o Options) connected() {
	if o.OnConnect != nil {
		o.OnConnect()
	}
}

func (o Options) disconnected() {
	if o.OnDisconnect != nil {
		o.OnDisconnect()
	}
}

// File is the recorded audio to analyse.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// AudioRequest is one utterance submission. Phonemes and Words are optional
// client-side extraction results; when Phonemes is empty the backend extracts
// its own.
type AudioRequest struct {
	File     File
	Sentence string
	Phonemes [][]string
	Words    []string
}

// HTTPError is reported when the backend answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: backend returned status %d: %s", e.StatusCode, e.Body)
}
