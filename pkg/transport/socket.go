package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	_ Transport = (*Socket)(nil)
	_ Releaser  = (*Socket)(nil)
)

// Socket defaults.
const (
	DefaultHeartbeat       = 30 * time.Second
	DefaultBackoffBase     = 1 * time.Second
	DefaultBackoffMax      = 16 * time.Second
	DefaultMaxReconnects   = 5
	DefaultResponseTimeout = 2 * time.Minute
	DefaultReplySettle     = 3 * time.Second
	defaultDialTimeout     = 10 * time.Second
)

// SocketState is the connection state of a [Socket].
type SocketState int

const (
	StateDisconnected SocketState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s SocketState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Timer is the subset of *time.Timer the socket needs.
type Timer interface {
	Stop() bool
}

// SocketOption configures a [Socket].
type SocketOption func(*Socket)

// WithHeartbeat sets the ping interval. Default 30s.
func WithHeartbeat(d time.Duration) SocketOption {
	return func(s *Socket) { s.heartbeat = d }
}

// WithBackoff sets the reconnect schedule: attempt n waits
// min(base·2^(n-1), max); after maxAttempts failures the socket gives up.
func WithBackoff(base, max time.Duration, maxAttempts int) SocketOption {
	return func(s *Socket) {
		s.backoffBase = base
		s.backoffMax = max
		s.maxAttempts = maxAttempts
	}
}

// WithResponseTimeout bounds how long an utterance may wait for its terminal
// event before an error is reported. Zero disables the bound.
func WithResponseTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.responseTimeout = d }
}

// WithReplySettle sets how long the socket waits for feedback audio after a
// gpt_response before it considers the reply complete. Zero completes the
// reply on gpt_response. Default 3s.
func WithReplySettle(d time.Duration) SocketOption {
	return func(s *Socket) { s.settle = d }
}

// WithSocketAfterFunc replaces the timer factory used for reconnect delays.
func WithSocketAfterFunc(f func(time.Duration, func()) Timer) SocketOption {
	return func(s *Socket) { s.afterFunc = f }
}

// WithDialOptions sets options passed to websocket.Dial.
func WithDialOptions(o *websocket.DialOptions) SocketOption {
	return func(s *Socket) { s.dialOpts = o }
}

// Socket is the persistent transport: one WebSocket per owner lifetime,
// reused across utterances. At most one utterance may be in flight.
//
// The backend sends no end marker, so a reply is complete on the first of:
// an error event, an audio_feedback_file event, or [DefaultReplySettle]
// without further audio after a gpt_response. The socket then delivers a
// synthetic [EventDone] and accepts the next SendAudio.
type Socket struct {
	baseURL         string
	heartbeat       time.Duration
	backoffBase     time.Duration
	backoffMax      time.Duration
	maxAttempts     int
	responseTimeout time.Duration
	settle          time.Duration
	afterFunc       func(time.Duration, func()) Timer
	dialOpts        *websocket.DialOptions

	mu        sync.Mutex
	state     SocketState
	opts      Options
	conn      *websocket.Conn
	stopConn  context.CancelFunc
	attempts  int
	manual    bool
	retry     Timer
	inFlight    bool
	utterance   uint64
	respTimer   Timer
	settleTimer Timer
	gen         uint64

	// emitMu serialises OnEvent between the read loop and the settle timer.
	emitMu sync.Mutex
}

// NewSocket returns a disconnected Socket for baseURL (http, https, ws or
// wss; no path).
func NewSocket(baseURL string, opts ...SocketOption) *Socket {
	s := &Socket{
		baseURL:         strings.TrimRight(baseURL, "/"),
		heartbeat:       DefaultHeartbeat,
		backoffBase:     DefaultBackoffBase,
		backoffMax:      DefaultBackoffMax,
		maxAttempts:     DefaultMaxReconnects,
		responseTimeout: DefaultResponseTimeout,
		settle:          DefaultReplySettle,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current connection state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the socket is open.
func (s *Socket) IsConnected() bool {
	return s.State() == StateConnected
}

// Backoff returns the delay before reconnect attempt n (1-based).
func (s *Socket) Backoff(n int) time.Duration {
	d := s.backoffBase
	for i := 1; i < n && d < s.backoffMax; i++ {
		d *= 2
	}
	return min(d, s.backoffMax)
}

// Connect dials the socket. Calling Connect while connected only replaces
// the callbacks.
func (s *Socket) Connect(ctx context.Context, opts Options) error {
	s.mu.Lock()
	s.opts = opts
	s.manual = false
	switch s.state {
	case StateConnected, StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.attempts = 0
	s.mu.Unlock()

	conn, err := s.dial(ctx, opts.Token)

	s.mu.Lock()
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}
	if s.manual {
		s.state = StateDisconnected
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrNotConnected
	}
	s.attachLocked(conn)
	s.mu.Unlock()

	opts.connected()
	return nil
}

// Disconnect closes the socket and cancels any pending reconnect. It does
// not report through OnError.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	s.manual = true
	wasUp := s.state == StateConnected
	s.state = StateDisconnected
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.clearInFlightLocked()
	conn := s.detachLocked()
	opts := s.opts
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasUp {
		opts.disconnected()
	}
	return nil
}

// socketEnvelope is the analyze_audio message.
type socketEnvelope struct {
	Type              string     `json:"type"`
	AudioBase64       string     `json:"audio_base64"`
	AttemptedSentence string     `json:"attempted_sentence"`
	SessionID         string     `json:"session_id"`
	Filename          string     `json:"filename"`
	ContentType       string     `json:"content_type"`
	ClientPhonemes    [][]string `json:"client_phonemes,omitempty"`
	ClientWords       []string   `json:"client_words,omitempty"`
}

// SendAudio writes the utterance as one JSON envelope and returns once it is
// written; events follow asynchronously. It fails fast with ErrNotConnected
// when the socket is not open and with ErrSendInFlight while a previous
// utterance is neither complete nor released.
func (s *Socket) SendAudio(ctx context.Context, req AudioRequest) error {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.inFlight = true
	s.utterance++
	utt := s.utterance
	conn := s.conn
	gen := s.gen
	sessionID := s.opts.SessionID
	s.mu.Unlock()

	env := socketEnvelope{
		Type:              "analyze_audio",
		AudioBase64:       base64.StdEncoding.EncodeToString(req.File.Data),
		AttemptedSentence: req.Sentence,
		SessionID:         sessionID,
		Filename:          req.File.Name,
		ContentType:       req.File.ContentType,
	}
	if len(req.Phonemes) > 0 {
		env.ClientPhonemes = req.Phonemes
		env.ClientWords = req.Words
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.finishSend(gen)
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.finishSend(gen)
		return fmt.Errorf("transport: socket write: %w", err)
	}

	if s.responseTimeout > 0 {
		s.mu.Lock()
		if s.inFlight && s.utterance == utt {
			s.respTimer = time.AfterFunc(s.responseTimeout, func() { s.responseExpired(utt) })
		}
		s.mu.Unlock()
	}
	slog.Debug("transport: utterance sent over socket", "bytes", len(req.File.Data))
	return nil
}

func (s *Socket) finishSend(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.clearInFlightLocked()
	}
	s.mu.Unlock()
}

func (s *Socket) responseExpired(utt uint64) {
	s.mu.Lock()
	if !s.inFlight || s.utterance != utt || s.respTimer == nil {
		s.mu.Unlock()
		return
	}
	s.clearInFlightLocked()
	opts := s.opts
	s.mu.Unlock()
	opts.fail(fmt.Errorf("transport: no response from backend within %s", s.responseTimeout))
}

// ReleaseUtterance stops waiting for the in-flight utterance's reply. Events
// that still arrive for it are delivered, but no done follows.
func (s *Socket) ReleaseUtterance() {
	s.mu.Lock()
	s.clearInFlightLocked()
	s.mu.Unlock()
}

func (s *Socket) clearInFlightLocked() {
	s.inFlight = false
	s.stopRespTimerLocked()
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
}

func (s *Socket) stopRespTimerLocked() {
	if s.respTimer != nil {
		s.respTimer.Stop()
		s.respTimer = nil
	}
}

// replyProgressLocked advances the in-flight utterance on ev and reports
// whether its reply is now complete.
func (s *Socket) replyProgressLocked(ev Event) bool {
	if !s.inFlight {
		return false
	}
	switch {
	case ev.Type.Terminal():
		s.clearInFlightLocked()
		return false
	case ev.Type == EventAudioFeedback:
		s.clearInFlightLocked()
		return true
	case ev.Type == EventGPTResponse:
		if s.settle <= 0 {
			s.clearInFlightLocked()
			return true
		}
		s.stopRespTimerLocked()
		if s.settleTimer != nil {
			s.settleTimer.Stop()
		}
		utt := s.utterance
		s.settleTimer = time.AfterFunc(s.settle, func() { s.settled(utt) })
	}
	return false
}

// settled completes utterance utt when no feedback audio followed its
// gpt_response.
func (s *Socket) settled(utt uint64) {
	s.mu.Lock()
	if !s.inFlight || s.utterance != utt {
		s.mu.Unlock()
		return
	}
	s.clearInFlightLocked()
	opts := s.opts
	s.mu.Unlock()
	s.emit(opts, Event{Type: EventDone})
}

func (s *Socket) emit(opts Options, evs ...Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for _, ev := range evs {
		opts.event(ev)
	}
}

func (s *Socket) socketURL(token string) (string, error) {
	u, err := url.Parse(s.baseURL + PathAudioAnalysisSocket)
	if err != nil {
		return "", fmt.Errorf("transport: socket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Socket) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := s.socketURL(token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, u, s.dialOpts)
	if err != nil {
		return nil, fmt.Errorf("transport: socket dial: %w", err)
	}
	// Feedback audio arrives inline as base64 and can be large.
	conn.SetReadLimit(32 << 20)
	return conn, nil
}

// attachLocked installs conn and starts its read and heartbeat loops.
func (s *Socket) attachLocked(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.conn = conn
	s.stopConn = cancel
	s.state = StateConnected
	s.attempts = 0
	gen := s.gen
	go s.readLoop(ctx, conn, gen)
	if s.heartbeat > 0 {
		go s.heartbeatLoop(ctx, conn)
	}
	slog.Debug("transport: socket connected")
}

// detachLocked forgets the current connection and stops its loops.
func (s *Socket) detachLocked() *websocket.Conn {
	conn := s.conn
	s.conn = nil
	if s.stopConn != nil {
		s.stopConn()
		s.stopConn = nil
	}
	return conn
}

func (s *Socket) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.heartbeat)
	defer t.Stop()
	ping := []byte(`{"type":"ping"}`)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
				slog.Debug("transport: heartbeat failed", "err", err)
			}
		}
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.closed(gen, err)
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			slog.Warn("transport: dropping malformed socket message", "err", err)
			continue
		}
		if ev.Type == EventPong {
			continue
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		complete := s.replyProgressLocked(ev)
		opts := s.opts
		s.mu.Unlock()
		if complete {
			s.emit(opts, ev, Event{Type: EventDone})
		} else {
			s.emit(opts, ev)
		}
	}
}

// closed handles the end of connection gen. Closures caused by Disconnect are
// ignored; anything else schedules a reconnect.
func (s *Socket) closed(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	wasInFlight := s.inFlight
	s.clearInFlightLocked()
	opts := s.opts
	if s.manual {
		s.state = StateDisconnected
		s.mu.Unlock()
		return
	}
	slog.Warn("transport: socket closed unexpectedly", "err", cause)
	s.state = StateReconnecting
	lost := s.scheduleLocked()
	s.mu.Unlock()

	opts.disconnected()
	if wasInFlight {
		opts.fail(fmt.Errorf("transport: connection closed during analysis: %w", cause))
	}
	if lost {
		opts.fail(ErrConnectionLost)
	}
}

// scheduleLocked arms the next reconnect attempt and reports whether the
// budget is exhausted instead.
func (s *Socket) scheduleLocked() bool {
	s.attempts++
	if s.attempts > s.maxAttempts {
		s.state = StateDisconnected
		s.retry = nil
		slog.Error("transport: reconnect budget exhausted", "attempts", s.maxAttempts)
		return true
	}
	delay := s.Backoff(s.attempts)
	slog.Info("transport: scheduling reconnect", "attempt", s.attempts, "max", s.maxAttempts, "delay", delay)
	s.retry = s.afterFunc(delay, s.reconnect)
	return false
}

func (s *Socket) reconnect() {
	s.mu.Lock()
	if s.manual || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	token := s.opts.Token
	s.mu.Unlock()

	conn, err := s.dial(context.Background(), token)

	s.mu.Lock()
	if s.manual || s.state != StateReconnecting {
		s.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "client disconnect")
		}
		return
	}
	if err != nil {
		slog.Warn("transport: reconnect failed", "attempt", s.attempts, "err", err)
		lost := s.scheduleLocked()
		opts := s.opts
		s.mu.Unlock()
		if lost {
			opts.fail(ErrConnectionLost)
		}
		return
	}
	s.attachLocked(conn)
	opts := s.opts
	s.mu.Unlock()

	slog.Info("transport: reconnected")
	opts.connected()
}
