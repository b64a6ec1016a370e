package recorder_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/recorder"
	"github.com/MrWong99/readalong/pkg/audio"
	audiomock "github.com/MrWong99/readalong/pkg/audio/mock"
	"github.com/MrWong99/readalong/pkg/provider/vad"
	vadmock "github.com/MrWong99/readalong/pkg/provider/vad/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type fakeTimer struct {
	fire    func()
	once    sync.Once
	stopped chan struct{}
}

func (t *fakeTimer) Stop() bool {
	t.once.Do(func() { close(t.stopped) })
	return true
}

type fakeClock struct {
	armed chan *fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{armed: make(chan *fakeTimer, 4)}
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) recorder.Timer {
	t := &fakeTimer{fire: f, stopped: make(chan struct{})}
	c.armed <- t
	return t
}

type sink struct {
	count atomic.Int32
	files chan recorder.File
}

func newSink() *sink {
	return &sink{files: make(chan recorder.File, 8)}
}

func (s *sink) complete(f recorder.File) {
	s.count.Add(1)
	s.files <- f
}

func waitTimer(t *testing.T, c *fakeClock) *fakeTimer {
	t.Helper()
	select {
	case tm := <-c.armed:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("silence timer was never armed")
		return nil
	}
}

func waitFile(t *testing.T, s *sink) recorder.File {
	t.Helper()
	select {
	case f := <-s.files:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback was not invoked")
		return recorder.File{}
	}
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%100)/100 - 0.5
	}
	return out
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestStart_OpenFailureStaysIdle(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{OpenErr: audio.ErrPermissionDenied}
	out := newSink()
	rec := recorder.New(src, nil, out.complete)

	if rec.Start(context.Background()) {
		t.Fatal("Start returned true despite permission error")
	}
	if rec.IsRecording() {
		t.Error("IsRecording = true after failed start")
	}
	if got := rec.State(); got != recorder.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	rec.Stop()
	if n := out.count.Load(); n != 0 {
		t.Errorf("callback invoked %d times, want 0", n)
	}
}

func TestStart_WhileRecordingRejected(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Stream: audiomock.NewStream(48000, 8)}
	rec := recorder.New(src, nil, func(recorder.File) {})
	if !rec.Start(context.Background()) {
		t.Fatal("first Start failed")
	}
	defer rec.Stop()
	if rec.Start(context.Background()) {
		t.Error("second Start returned true while recording")
	}
}

func TestStop_ConcurrentCallsFinalizeOnce(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(48000, 16)
	src := &audiomock.Source{Stream: stream}
	out := newSink()
	rec := recorder.New(src, nil, out.complete)

	if !rec.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	for range 3 {
		stream.Push(ramp(4800)) // 100 ms each
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Stop()
		}()
	}
	wg.Wait()
	rec.Stop()

	f := waitFile(t, out)
	if n := out.count.Load(); n != 1 {
		t.Fatalf("callback invoked %d times, want 1", n)
	}
	if !stream.Closed() {
		t.Error("capture stream was not released")
	}
	if rec.IsRecording() {
		t.Error("still recording after Stop")
	}

	if f.Name != recorder.DefaultFilename || f.ContentType != recorder.ContentTypeWAV {
		t.Errorf("file metadata = (%q, %q)", f.Name, f.ContentType)
	}
	samples, rate, err := audio.DecodeWAV(f.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != 4800 {
		t.Errorf("len(samples) = %d, want 4800", len(samples))
	}
	if f.Duration != 300*time.Millisecond {
		t.Errorf("Duration = %v, want 300ms", f.Duration)
	}
}

func TestSilenceTimer_AutoStops(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(48000, 16)
	src := &audiomock.Source{Stream: stream}
	sess := &vadmock.Session{Script: []vad.VADEventType{vad.VADSpeechStart, vad.VADSpeechEnd}}
	eng := &vadmock.Engine{Session: sess}
	clock := newFakeClock()
	out := newSink()

	rec := recorder.New(src, eng, out.complete,
		recorder.WithAfterFunc(clock.AfterFunc),
		recorder.WithConfig(recorder.Config{PollInterval: 50 * time.Millisecond}),
	)
	if !rec.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	stream.Push(ramp(2400))
	stream.Push(ramp(2400))

	tm := waitTimer(t, clock)
	tm.fire()

	f := waitFile(t, out)
	if len(f.Data) == 0 {
		t.Fatal("empty file")
	}
	if rec.IsRecording() {
		t.Error("still recording after silence timeout")
	}
	rec.Stop()
	if n := out.count.Load(); n != 1 {
		t.Errorf("callback invoked %d times, want 1", n)
	}
	if sess.CloseCalls != 1 {
		t.Errorf("VAD session closed %d times, want 1", sess.CloseCalls)
	}
	if got := eng.NewSessionCalls[0].Cfg.SampleRate; got != 48000 {
		t.Errorf("VAD sample rate = %d, want native 48000", got)
	}
}

func TestSilenceTimer_CancelledByRenewedSpeech(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(48000, 16)
	src := &audiomock.Source{Stream: stream}
	sess := &vadmock.Session{Script: []vad.VADEventType{
		vad.VADSpeechStart, vad.VADSpeechEnd, vad.VADSpeechStart,
	}}
	clock := newFakeClock()
	out := newSink()

	rec := recorder.New(src, &vadmock.Engine{Session: sess}, out.complete,
		recorder.WithAfterFunc(clock.AfterFunc),
	)
	if !rec.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	stream.Push(ramp(2400))
	stream.Push(ramp(2400))
	tm := waitTimer(t, clock)

	stream.Push(ramp(2400))
	select {
	case <-tm.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("silence timer not cancelled by renewed speech")
	}
	if !rec.IsRecording() {
		t.Fatal("recording stopped despite renewed speech")
	}

	rec.Stop()
	waitFile(t, out)

	// A stale timer firing after the explicit stop must be inert.
	tm.fire()
	if n := out.count.Load(); n != 1 {
		t.Errorf("callback invoked %d times, want 1", n)
	}
}

func TestStart_ImmediateRestartSurvives(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Fresh: true}
	var files atomic.Int32
	rec := recorder.New(src, nil, func(recorder.File) { files.Add(1) })

	for i := range 100 {
		if !rec.Start(context.Background()) {
			t.Fatalf("round %d: first Start failed", i)
		}
		rec.Stop()
		if !rec.Start(context.Background()) {
			t.Fatalf("round %d: restart failed", i)
		}
		// Give the previous capture loop time to wind down.
		time.Sleep(2 * time.Millisecond)
		if !rec.IsRecording() {
			t.Fatalf("round %d: restarted recording was stopped by its predecessor", i)
		}
		rec.Stop()
	}
	if n := files.Load(); n != 200 {
		t.Errorf("callback invoked %d times, want 200", n)
	}
}

func TestSilenceTimer_StaleTimerSparesNextRecording(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Fresh: true}
	sess := &vadmock.Session{Script: []vad.VADEventType{vad.VADSpeechStart, vad.VADSpeechEnd}}
	clock := newFakeClock()
	out := newSink()

	rec := recorder.New(src, &vadmock.Engine{Session: sess}, out.complete,
		recorder.WithAfterFunc(clock.AfterFunc),
		recorder.WithConfig(recorder.Config{PollInterval: 50 * time.Millisecond}),
	)
	if !rec.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	src.Last().Push(ramp(2400))
	src.Last().Push(ramp(2400))
	tm := waitTimer(t, clock)

	rec.Stop()
	waitFile(t, out)

	if !rec.Start(context.Background()) {
		t.Fatal("second Start failed")
	}
	tm.fire()
	if !rec.IsRecording() {
		t.Fatal("timer of the first recording stopped the second")
	}
	if n := out.count.Load(); n != 1 {
		t.Errorf("callback invoked %d times before second stop, want 1", n)
	}

	rec.Stop()
	waitFile(t, out)
	if n := out.count.Load(); n != 2 {
		t.Errorf("callback invoked %d times, want 2", n)
	}
}

func TestStart_ContextCancelStops(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(16000, 8)
	src := &audiomock.Source{Stream: stream}
	out := newSink()
	rec := recorder.New(src, nil, out.complete)

	ctx, cancel := context.WithCancel(context.Background())
	if !rec.Start(ctx) {
		t.Fatal("Start failed")
	}
	stream.Push(ramp(1600))
	cancel()

	f := waitFile(t, out)
	if f.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", f.SampleRate)
	}
	if !stream.Closed() {
		t.Error("capture stream was not released after cancel")
	}
}

func TestStateHook(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		states []recorder.State
	)
	src := &audiomock.Source{Stream: audiomock.NewStream(16000, 4)}
	rec := recorder.New(src, nil, func(recorder.File) {},
		recorder.WithStateHook(func(s recorder.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)
	rec.Start(context.Background())
	rec.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []recorder.State{recorder.StateRecording, recorder.StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}
