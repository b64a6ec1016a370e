// Package orchestrator is the façade a practice screen talks to. It owns one
// [Session] per turn: ProcessAudio submits a finished recording (with local
// phonemes when the policy allows), and every event the transport streams
// back is dispatched through [Orchestrator.Handle] and republished as a
// callback.
//
// A turn always ends exactly once, with OnProcessingEnd, on the first of a
// gpt_response, a done event, an error event, a transport failure or the
// user moving on. Feedback audio that follows the gpt_response still lands
// in the session until the transport reports done or the user moves on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/readalong/internal/apperr"
	"github.com/MrWong99/readalong/internal/ledger"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/playback"
	"github.com/MrWong99/readalong/internal/validate"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/transport"
)

var (
	// ErrTurnInFlight is returned by ProcessAudio while the previous turn has
	// not ended.
	ErrTurnInFlight = errors.New("orchestrator: a turn is already processing")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator: closed")

	// ErrNoOption is returned by ChooseOption for an out-of-range index.
	ErrNoOption = errors.New("orchestrator: no such story option")
)

// FeedbackPlayer plays synthesized feedback. *playback.Player implements it.
type FeedbackPlayer interface {
	PlayFeedback(ctx context.Context, fb transport.AudioFeedback) error
}

var _ FeedbackPlayer = (*playback.Player)(nil)

// Callbacks are invoked outside the orchestrator's lock. Nil fields are
// skipped.
type Callbacks struct {
	OnProcessingStart func()
	OnProcessingEnd   func()
	OnAnalysis        func(transport.AnalysisReport)
	OnGPTResponse     func(transport.GPTResponse)
	OnAudioReady      func(transport.AudioFeedback)
	OnError           func(*apperr.Error)
	OnStateChange     func(Session)

	// OnWarning receives advisory audio-quality warnings.
	OnWarning func(validate.Warning)

	// OnModelProgress receives model download/load progress in percent.
	OnModelProgress func(float64)
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithExtractor enables local extraction through ex.
func WithExtractor(ex *phoneme.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = ex }
}

// WithLedger records every extraction in l.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithPlayer plays audio feedback through p.
func WithPlayer(p FeedbackPlayer) Option {
	return func(o *Orchestrator) { o.player = p }
}

// WithMetrics records errors and active turns on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCallbacks sets the UI callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Orchestrator) { o.cb = cb }
}

// WithToken sets the bearer token passed to the transport.
func WithToken(token string) Option {
	return func(o *Orchestrator) { o.token = token }
}

// WithSessionID overrides the generated practice session id.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// WithLocalEnabled sets the user's opt-in to on-device extraction.
func WithLocalEnabled(on bool) Option {
	return func(o *Orchestrator) { o.local = on }
}

// WithProbes replaces the host capability checks.
func WithProbes(p Probes) Option {
	return func(o *Orchestrator) { o.probes = p }
}

// WithClock overrides the time source used for round-trip measurement.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	tr        transport.Transport
	extractor *phoneme.Extractor
	ledger    *ledger.Ledger
	player    FeedbackPlayer
	metrics   *observe.Metrics
	cb        Callbacks
	probes    Probes
	token     string
	sessionID string
	now       func() time.Time
	net       NetworkQuality

	// playCtx outlives individual turns and is cancelled by Close.
	playCtx    context.Context
	playCancel context.CancelFunc
	playWG     sync.WaitGroup

	mu      sync.Mutex
	local   bool
	closed  bool
	session Session
	turn    turnState
}

// turnState is the bookkeeping of the current turn. open lasts until
// OnProcessingEnd; live lasts while the turn's events are still applied to
// the session.
type turnState struct {
	open      bool
	live      bool
	mode      Mode
	sentAt    time.Time
	measured  bool
	audioSecs float64
}

// New returns an idle Orchestrator sending through tr.
func New(tr transport.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tr:        tr,
		probes:    DefaultProbes(),
		sessionID: uuid.NewString(),
		now:       time.Now,
		session:   Session{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.playCtx, o.playCancel = context.WithCancel(context.Background())
	return o
}

// SessionID is the practice session id sent with every utterance.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// LocalEnabled reports the user's on-device opt-in.
func (o *Orchestrator) LocalEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.local
}

// SetLocalEnabled changes the on-device opt-in.
func (o *Orchestrator) SetLocalEnabled(on bool) {
	o.mu.Lock()
	o.local = on
	o.mu.Unlock()
}

// NetworkQuality returns the rating derived from measured round-trips.
func (o *Orchestrator) NetworkQuality() Quality { return o.net.Quality() }

// Snapshot returns a copy of the current turn.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.clone()
}

// Connect opens the transport unless it is already connected.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.tr.IsConnected() {
		return nil
	}
	if err := o.tr.Connect(ctx, o.transportOptions()); err != nil {
		return fmt.Errorf("orchestrator: connect: %w", err)
	}
	return nil
}

func (o *Orchestrator) transportOptions() transport.Options {
	return transport.Options{
		Token:     o.token,
		SessionID: o.sessionID,
		OnEvent:   o.Handle,
		OnError:   o.transportError,
		OnConnect: func() {
			observe.Logger(context.Background()).Debug("orchestrator: transport connected")
		},
		OnDisconnect: func() {
			observe.Logger(context.Background()).Debug("orchestrator: transport disconnected")
		},
	}
}

// ProcessAudio starts a turn for one recording of sentence. Transport and
// backend failures end the turn through OnError and OnProcessingEnd and are
// also returned.
func (o *Orchestrator) ProcessAudio(ctx context.Context, file transport.File, sentence string) error {
	ctx, span := observe.StartSpan(ctx, "orchestrator.process_audio")
	defer span.End()
	log := observe.Logger(ctx)

	var audioSecs float64
	if d, err := audio.WAVDuration(file.Data); err == nil {
		audioSecs = d.Seconds()
	}

	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.turn.open:
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	o.session = Session{ID: uuid.NewString(), Sentence: sentence, Phase: PhaseProcessing}
	o.turn = turnState{open: true, live: true, audioSecs: audioSecs}
	snap := o.session.clone()
	o.mu.Unlock()

	span.SetAttributes(attribute.String("turn.id", snap.ID), attribute.Float64("audio.seconds", audioSecs))
	if o.metrics != nil {
		o.metrics.ActiveTurns.Add(ctx, 1)
	}
	call(o.cb.OnProcessingStart)
	o.stateChanged(snap)

	req := transport.AudioRequest{File: file, Sentence: sentence}
	mode := o.Decide(ctx)
	if mode == ModeClient {
		req.Phonemes, req.Words = o.extractLocal(ctx, file.Data, sentence, audioSecs)
	}
	if len(req.Phonemes) == 0 {
		mode = ModeServer
	}
	span.SetAttributes(attribute.String("extraction.mode", string(mode)))

	o.mu.Lock()
	o.turn.mode = mode
	o.session.Local = mode == ModeClient
	o.mu.Unlock()

	if err := o.Connect(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.endTurn(ctx, err)
		return err
	}

	// The previous turn has ended, so its reply is no longer awaited.
	o.release()

	o.mu.Lock()
	o.turn.sentAt = o.now()
	o.mu.Unlock()

	log.Info("orchestrator: sending utterance", "turn", snap.ID, "mode", mode, "audio_seconds", audioSecs)
	if err := o.tr.SendAudio(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.endTurn(ctx, err)
		return fmt.Errorf("orchestrator: send audio: %w", err)
	}
	return nil
}

// extractLocal runs the on-device extractor. Any failure or invalid result
// yields nil slices so the server extracts instead.
func (o *Orchestrator) extractLocal(ctx context.Context, wav []byte, sentence string, audioSecs float64) ([][]string, []string) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.extract_local")
	defer span.End()
	log := observe.Logger(ctx)

	start := o.now()
	phonemes, err := o.extractor.ExtractPhonemes(ctx, wav)
	elapsed := o.now().Sub(start)
	if err != nil {
		log.Warn("orchestrator: local extraction failed, using server extraction", "err", err)
		o.recordClient(ctx, elapsed, false, audioSecs)
		return nil, nil
	}

	words := validate.Tokenize(sentence)
	warnWords := words
	if len(phonemes) == 0 {
		warnWords = nil
	}
	if w := validate.Problematic(warnWords, phonemes); w != validate.WarningNone {
		log.Info("orchestrator: problematic audio", "warning", w)
		if o.cb.OnWarning != nil {
			o.cb.OnWarning(w)
		}
	}

	if err := validate.Extraction(words, phonemes); err != nil {
		log.Warn("orchestrator: discarding local extraction", "err", err)
		o.recordClient(ctx, elapsed, false, audioSecs)
		return nil, nil
	}
	o.recordClient(ctx, elapsed, true, audioSecs)
	span.SetAttributes(attribute.Int("phoneme.words", len(phonemes)))
	return phonemes, words
}

func (o *Orchestrator) recordClient(ctx context.Context, d time.Duration, ok bool, audioSecs float64) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordClient(ctx, d, ok, audioSecs); err != nil {
		observe.Logger(ctx).Warn("orchestrator: record client extraction", "err", err)
	}
}

// Handle dispatches one transport event. Events that arrive when no turn is
// live are dropped, except feedback audio, which is still played.
func (o *Orchestrator) Handle(ev transport.Event) {
	ctx := context.Background()
	log := observe.Logger(ctx)

	switch ev.Type {
	case transport.EventProcessingStarted:
		log.Debug("orchestrator: backend started processing")

	case transport.EventAnalysis:
		if ev.Analysis == nil {
			return
		}
		snap, ok := o.update(func(s *Session) {
			s.Report = ev.Analysis
			s.Highlight = true
			s.Phase = PhaseAnalyzed
		})
		if !ok {
			return
		}
		o.measureRoundTrip(ctx)
		if o.cb.OnAnalysis != nil {
			o.cb.OnAnalysis(*snap.Report)
		}
		o.stateChanged(snap)

	case transport.EventGPTResponse:
		if ev.GPT == nil {
			return
		}
		gpt := *ev.GPT
		if gpt.Branching() {
			if err := validate.StoryOptions(gpt.Options); err != nil {
				log.Warn("orchestrator: dropping invalid story options", "err", err)
				gpt.Options = nil
			}
		}
		snap, ok := o.update(func(s *Session) {
			s.NextSentence = gpt.Sentence
			s.Options = gpt.Options
			s.FeedbackText = gpt.Feedback
			s.Phase = PhaseGPTResponded
		})
		if !ok {
			return
		}
		o.measureRoundTrip(ctx)
		if o.cb.OnGPTResponse != nil {
			o.cb.OnGPTResponse(gpt)
		}
		o.stateChanged(snap)
		o.endTurn(ctx, nil)

	case transport.EventAudioFeedback:
		if ev.Audio == nil {
			return
		}
		fb := *ev.Audio
		snap, ok := o.update(func(s *Session) {
			s.FeedbackAudio = &fb
			s.Phase = PhaseAudioReady
		})
		if !ok {
			log.Debug("orchestrator: feedback audio after turn, playing only")
			o.play(fb)
			return
		}
		if o.cb.OnAudioReady != nil {
			o.cb.OnAudioReady(fb)
		}
		o.stateChanged(snap)
		o.play(fb)

	case transport.EventError:
		err := ev.Err()
		if !o.endTurn(ctx, err) && o.retire() {
			o.surface(ctx, apperr.Wrap(err))
		}

	case transport.EventDone:
		o.measureRoundTrip(ctx)
		o.endTurn(ctx, nil)
		o.retire()

	default:
		log.Debug("orchestrator: ignoring event", "type", ev.Type)
	}
}

// update applies fn to the live turn's session. It reports false when no
// turn is live.
func (o *Orchestrator) update(fn func(*Session)) (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.turn.live {
		return Session{}, false
	}
	fn(&o.session)
	return o.session.clone(), true
}

// retire stops applying events to the current turn. It reports whether the
// turn was live.
func (o *Orchestrator) retire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	was := o.turn.live
	o.turn.live = false
	return was
}

// release tells the transport not to wait for the previous reply.
func (o *Orchestrator) release() {
	if r, ok := o.tr.(transport.Releaser); ok {
		r.ReleaseUtterance()
	}
}

// measureRoundTrip records the first response of a turn as its round-trip.
func (o *Orchestrator) measureRoundTrip(ctx context.Context) {
	o.mu.Lock()
	if !o.turn.open || o.turn.measured || o.turn.sentAt.IsZero() {
		o.mu.Unlock()
		return
	}
	o.turn.measured = true
	rtt := o.now().Sub(o.turn.sentAt)
	mode, secs := o.turn.mode, o.turn.audioSecs
	o.mu.Unlock()

	o.net.Observe(rtt)
	if mode == ModeServer && o.ledger != nil {
		if err := o.ledger.RecordServer(ctx, rtt, secs); err != nil {
			observe.Logger(ctx).Warn("orchestrator: record server extraction", "err", err)
		}
	}
}

// play starts fire-and-forget playback. Unsupported formats are only logged.
func (o *Orchestrator) play(fb transport.AudioFeedback) {
	if o.player == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.playWG.Add(1)
	go func() {
		defer o.playWG.Done()
		err := o.player.PlayFeedback(o.playCtx, fb)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, playback.ErrUnsupported):
			observe.Logger(o.playCtx).Info("orchestrator: feedback audio not playable", "mimetype", fb.MimeType)
		default:
			o.surface(o.playCtx, apperr.New(apperr.AudioPlayback, err))
		}
	}()
}

// transportError receives OnError from the transport. It ends the open turn,
// or surfaces the error directly between turns.
func (o *Orchestrator) transportError(err error) {
	ctx := context.Background()
	if !o.endTurn(ctx, err) {
		o.surface(ctx, apperr.Wrap(err))
	}
}

// endTurn closes the open turn once. It reports whether this call closed it.
func (o *Orchestrator) endTurn(ctx context.Context, err error) bool {
	o.mu.Lock()
	if !o.turn.open {
		o.mu.Unlock()
		return false
	}
	o.turn.open = false
	var ae *apperr.Error
	if err != nil {
		o.turn.live = false
		ae = apperr.Wrap(err)
		o.session.Err = ae
		if o.session.Phase == PhaseProcessing {
			o.session.Phase = PhaseIdle
		}
	}
	snap := o.session.clone()
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveTurns.Add(ctx, -1)
	}
	if ae != nil {
		o.surface(ctx, ae)
	}
	call(o.cb.OnProcessingEnd)
	o.stateChanged(snap)
	return true
}

func (o *Orchestrator) surface(ctx context.Context, ae *apperr.Error) {
	observe.Logger(ctx).Error("orchestrator: error", "category", ae.Category, "fatal", ae.Fatal, "err", ae.Err)
	if o.metrics != nil {
		o.metrics.RecordError(ctx, string(ae.Category))
	}
	if o.cb.OnError != nil {
		o.cb.OnError(ae)
	}
}

// DisplayNextSentence clears every per-turn field and returns the sentence
// to read next. An open turn is ended first and the transport stops waiting
// for its reply.
func (o *Orchestrator) DisplayNextSentence() string {
	o.endTurn(context.Background(), nil)
	o.retire()
	o.release()

	o.mu.Lock()
	next := o.session.NextSentence
	o.session = Session{Phase: PhaseIdle}
	snap := o.session.clone()
	o.mu.Unlock()

	o.stateChanged(snap)
	return next
}

// ChooseOption picks branch i of a branching story as the next sentence.
func (o *Orchestrator) ChooseOption(i int) (transport.StoryOption, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.session.Options) {
		return transport.StoryOption{}, fmt.Errorf("%w: %d", ErrNoOption, i)
	}
	opt := o.session.Options[i]
	o.session.NextSentence = opt.Text
	return opt, nil
}

// Close ends any open turn, disconnects the transport and waits for running
// playback to stop.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.endTurn(context.Background(), nil)
	o.retire()
	err := o.tr.Disconnect()
	o.playCancel()
	o.playWG.Wait()
	if err != nil {
		return fmt.Errorf("orchestrator: disconnect: %w", err)
	}
	return nil
}

func (o *Orchestrator) stateChanged(s Session) {
	if o.cb.OnStateChange != nil {
		o.cb.OnStateChange(s)
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
