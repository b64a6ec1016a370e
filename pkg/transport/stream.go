package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

var _ Transport = (*Stream)(nil)

// maxErrorBody caps how much of a failed response is kept in [HTTPError].
const maxErrorBody = 512

// StreamOption configures a [Stream].
type StreamOption func(*Stream)

// WithRestyClient replaces the HTTP client. Its base URL is overwritten.
func WithRestyClient(c *resty.Client) StreamOption {
	return func(s *Stream) { s.client = c }
}

// Stream is the per-request transport: every SendAudio is one multipart POST
// whose response body is parsed incrementally. Connect is bookkeeping only.
type Stream struct {
	client *resty.Client

	mu        sync.Mutex
	opts      Options
	connected bool
	inflight  map[*streamCall]struct{}
}

type streamCall struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewStream returns a Stream posting to baseURL (scheme and host, no path).
func NewStream(baseURL string, opts ...StreamOption) *Stream {
	s := &Stream{inflight: make(map[*streamCall]struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		s.client = resty.New()
	}
	s.client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	return s
}

// Connect records opts and marks the transport ready.
func (s *Stream) Connect(_ context.Context, opts Options) error {
	s.mu.Lock()
	s.opts = opts
	s.connected = true
	s.mu.Unlock()
	opts.connected()
	return nil
}

// IsConnected reports whether Connect has been called since the last
// Disconnect.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect aborts every in-flight request. Aborted requests stop delivering
// events and do not report through OnError.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	calls := make([]*streamCall, 0, len(s.inflight))
	for c := range s.inflight {
		calls = append(calls, c)
	}
	opts := s.opts
	s.mu.Unlock()

	for _, c := range calls {
		c.cancelled.Store(true)
		c.cancel()
	}
	if wasConnected {
		opts.disconnected()
	}
	return nil
}

// SendAudio posts the utterance and blocks until the response stream ends,
// delivering each record through OnEvent as soon as it is complete. A final
// EventDone is delivered at end of stream. Failures are reported through
// OnError and returned.
func (s *Stream) SendAudio(ctx context.Context, req AudioRequest) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	opts := s.opts
	reqCtx, cancel := context.WithCancel(ctx)
	call := &streamCall{cancel: cancel}
	s.inflight[call] = struct{}{}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.inflight, call)
		s.mu.Unlock()
	}()

	err := s.send(reqCtx, opts, req, call)
	if err == nil || call.cancelled.Load() {
		return nil
	}
	opts.fail(err)
	return err
}

func (s *Stream) send(ctx context.Context, opts Options, req AudioRequest, call *streamCall) error {
	fields, path, err := multipartFields(opts.SessionID, req)
	if err != nil {
		return err
	}

	contentType := req.File.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	r := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetMultipartField("audio_file", req.File.Name, contentType, bytes.NewReader(req.File.Data)).
		SetMultipartFormData(fields)
	if opts.Token != "" {
		r.SetAuthToken(opts.Token)
	}

	slog.Debug("transport: posting utterance", "path", path, "bytes", len(req.File.Data))
	resp, err := r.Post(path)
	if err != nil {
		return fmt.Errorf("transport: post %s: %w", path, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(snippet))}
	}

	rr := NewRecordReader(body)
	for {
		ev, err := rr.Next()
		if call.cancelled.Load() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			opts.event(Event{Type: EventDone})
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transport: stream parse: %w", err)
		}
		if ev.Type == EventPong {
			continue
		}
		opts.event(ev)
	}
}

// multipartFields builds the text fields and picks the endpoint.
func multipartFields(sessionID string, req AudioRequest) (map[string]string, string, error) {
	fields := map[string]string{
		"attempted_sentence": req.Sentence,
		"session_id":         sessionID,
	}
	if len(req.Phonemes) == 0 {
		return fields, PathAnalyzeAudio, nil
	}

	ph, err := json.Marshal(req.Phonemes)
	if err != nil {
		return nil, "", fmt.Errorf("transport: encode phonemes: %w", err)
	}
	fields["client_phonemes"] = string(ph)
	if len(req.Words) > 0 {
		w, err := json.Marshal(req.Words)
		if err != nil {
			return nil, "", fmt.Errorf("transport: encode words: %w", err)
		}
		fields["client_words"] = string(w)
	}
	return fields, PathAnalyzeAudioWithPhonemes, nil
}
