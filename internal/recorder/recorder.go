// Package recorder turns a single "start" gesture into exactly one finalized
// WAV file.
//
// A [Recorder] opens an [audio.Source], buffers float32 chunks at the device's
// native rate and feeds fixed windows of captured audio to a [vad.Engine].
// When the detector reports the end of speech a silence timer is armed; if no
// renewed speech arrives before it fires, the recording is stopped. An
// explicit [Recorder.Stop] races the timer and whichever runs first wins. On
// every stop path the capture stream and VAD session are released, the chunks
// are merged, resampled to 16 kHz, encoded as WAV and handed to the
// completion callback exactly once.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/vad"
	"github.com/MrWong99/readalong/pkg/transport"
)

const (
	// DefaultSilenceTimeout is the delay between end of speech and auto-stop.
	DefaultSilenceTimeout = 2000 * time.Millisecond

	// DefaultPollInterval is the amount of captured audio scored per VAD call.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultFilename is the name given to finalized recordings.
	DefaultFilename = "recording.wav"

	// ContentTypeWAV is the MIME type of finalized recordings.
	ContentTypeWAV = "audio/wav"
)

// State is the recorder lifecycle state.
type State int

const (
	// StateIdle means no capture is active.
	StateIdle State = iota

	// StateRecording means the microphone is open and samples are buffered.
	StateRecording
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// File is one finalized utterance.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	SampleRate  int
	Duration    time.Duration
}

// Upload returns the file in the shape a transport sends.
func (f File) Upload() transport.File {
	return transport.File{Name: f.Name, ContentType: f.ContentType, Data: f.Data}
}

// Config controls capture and auto-stop behaviour. Zero fields take defaults.
type Config struct {
	SilenceTimeout time.Duration
	PollInterval   time.Duration

	// TargetRate is the sample rate of the encoded file. Default 16000.
	TargetRate int

	Filename string

	// VAD is passed to the engine for every recording. SampleRate is
	// overwritten with the capture stream's native rate.
	VAD vad.Config
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TargetRate <= 0 {
		c.TargetRate = audio.TargetSampleRate
	}
	if c.Filename == "" {
		c.Filename = DefaultFilename
	}
	return c
}

// Timer is the subset of *time.Timer the recorder needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. [time.AfterFunc] is the default.
type AfterFunc func(d time.Duration, f func()) Timer

// Option configures a [Recorder].
type Option func(*Recorder)

// WithConfig overrides the default [Config].
func WithConfig(cfg Config) Option {
	return func(r *Recorder) { r.cfg = cfg }
}

// WithAfterFunc replaces the timer factory used for the silence timer.
func WithAfterFunc(f AfterFunc) Option {
	return func(r *Recorder) { r.afterFunc = f }
}

// WithStateHook registers a function called on every state transition.
func WithStateHook(f func(State)) Option {
	return func(r *Recorder) { r.onState = f }
}

// Recorder is a voice-activity-gated microphone recorder. It is safe for
// concurrent use.
type Recorder struct {
	source     audio.Source
	vad        vad.Engine
	onComplete func(File)
	onState    func(State)
	afterFunc  AfterFunc
	cfg        Config

	mu     sync.Mutex
	state  State
	active *capture
}

// New creates a Recorder. engine may be nil, in which case only an explicit
// Stop ends a recording. onComplete receives every finalized file.
func New(source audio.Source, engine vad.Engine, onComplete func(File), opts ...Option) *Recorder {
	r := &Recorder{
		source:     source,
		vad:        engine,
		onComplete: onComplete,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(r)
	}
	r.cfg = r.cfg.withDefaults()
	return r
}

// capture holds the resources of one recording.
type capture struct {
	stream audio.Stream
	vad    vad.SessionHandle
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the capture loop until done is closed.
	chunks []audio.Chunk
}

// Start opens the microphone and begins buffering. It returns false when the
// recorder is already recording or the device cannot be acquired; the cause is
// logged and the state stays idle. Cancelling ctx stops the recording.
func (r *Recorder) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		slog.Warn("recorder: start ignored, already recording")
		return false
	}

	stream, err := r.source.Open(ctx)
	if err != nil {
		slog.Error("recorder: failed to open microphone", "err", err)
		return false
	}

	var sess vad.SessionHandle
	if r.vad != nil {
		vcfg := r.cfg.VAD
		vcfg.SampleRate = stream.SampleRate()
		sess, err = r.vad.NewSession(vcfg)
		if err != nil {
			// Recording still works, it just has no auto-stop.
			slog.Warn("recorder: failed to start VAD session", "err", err)
			sess = nil
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c := &capture{
		stream: stream,
		vad:    sess,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.active = c
	r.setState(StateRecording)

	go r.loop(loopCtx, c)
	slog.Debug("recorder: started", "sample_rate", stream.SampleRate())
	return true
}

// Stop ends the active recording and delivers the finalized file. Calls while
// idle, including repeated or concurrent calls, are no-ops.
func (r *Recorder) Stop() { r.stop(nil) }

// stop ends the active recording. A non-nil only restricts it to that
// capture, so a silence timer or capture loop that outlives its recording
// cannot end the next one.
func (r *Recorder) stop(only *capture) {
	r.mu.Lock()
	if r.state != StateRecording || (only != nil && r.active != only) {
		r.mu.Unlock()
		return
	}
	c := r.active
	r.active = nil
	r.setState(StateIdle)
	r.mu.Unlock()

	if err := c.stream.Close(); err != nil {
		slog.Warn("recorder: close capture stream", "err", err)
	}
	c.cancel()
	<-c.done
	if c.vad != nil {
		if err := c.vad.Close(); err != nil {
			slog.Warn("recorder: close VAD session", "err", err)
		}
	}

	f := r.finalize(c)
	slog.Debug("recorder: finalized", "bytes", len(f.Data), "duration", f.Duration)
	if r.onComplete != nil {
		r.onComplete(f)
	}
}

// IsRecording reports whether a recording is in progress.
func (r *Recorder) IsRecording() bool {
	return r.State() == StateRecording
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// setState must be called with r.mu held.
func (r *Recorder) setState(s State) {
	r.state = s
	if r.onState != nil {
		r.onState(s)
	}
}

// loop drains the capture stream and drives the VAD and silence timer. It
// never stops its capture synchronously, since stop waits for it to exit.
func (r *Recorder) loop(ctx context.Context, c *capture) {
	defer close(c.done)

	var (
		window  []float32
		rate    = c.stream.SampleRate()
		perPoll = int(r.cfg.PollInterval.Seconds() * float64(rate))
		silence Timer
	)
	if perPoll <= 0 {
		perPoll = 1
	}
	defer func() {
		if silence != nil {
			silence.Stop()
		}
	}()

	handle := func(ch audio.Chunk) {
		c.chunks = append(c.chunks, ch)
		if c.vad == nil {
			return
		}
		window = append(window, ch.Samples...)
		for len(window) >= perPoll {
			ev, err := c.vad.ProcessFrame(window[:perPoll])
			window = window[perPoll:]
			if err != nil {
				slog.Warn("recorder: VAD error", "err", err)
				continue
			}
			switch {
			case ev.Type.IsSpeech():
				if silence != nil {
					silence.Stop()
					silence = nil
					slog.Debug("recorder: speech resumed, silence timer cancelled")
				}
			case ev.Type == vad.VADSpeechEnd:
				if silence == nil {
					silence = r.afterFunc(r.cfg.SilenceTimeout, func() { r.stop(c) })
					slog.Debug("recorder: silence timer armed", "timeout", r.cfg.SilenceTimeout)
				}
			}
		}
	}

	chunks := c.stream.Chunks()
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				// Device ended on its own or Stop closed it.
				go r.stop(c)
				return
			}
			handle(ch)
		case <-ctx.Done():
			for {
				select {
				case ch, ok := <-chunks:
					if !ok {
						go r.stop(c)
						return
					}
					handle(ch)
				default:
					go r.stop(c)
					return
				}
			}
		}
	}
}

func (r *Recorder) finalize(c *capture) File {
	samples := audio.MergeChunks(c.chunks)
	rate := c.stream.SampleRate()
	if rate <= 0 && len(c.chunks) > 0 {
		rate = c.chunks[0].SampleRate
	}
	pcm := audio.ResampleLinear(samples, rate, r.cfg.TargetRate)
	return File{
		Name:        r.cfg.Filename,
		ContentType: ContentTypeWAV,
		Data:        audio.EncodeWAV(pcm, r.cfg.TargetRate),
		SampleRate:  r.cfg.TargetRate,
		Duration:    time.Duration(len(pcm)) * time.Second / time.Duration(r.cfg.TargetRate),
	}
}
