// Package ledger keeps the cross-session performance record that compares
// on-device phoneme extraction with server-side analysis. The whole ledger is
// written back to a [storage.Store] after every mutation, so figures survive
// a restart.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/storage"
)

// Storage keys.
const (
	KeyMetrics         = "readalong.performance.metrics"
	KeyEvents          = "readalong.performance.events"
	KeyPromptDismissed = "readalong.local_processing.prompt_dismissed"
)

// MaxEvents caps the event ring.
const MaxEvents = 100

// ServerFactor is the assumed server cost of one extraction relative to the
// measured local duration.
const ServerFactor = 3

// Metrics are the running totals.
type Metrics struct {
	ClientExtractionsAttempted int     `json:"client_extractions_attempted"`
	ClientExtractionsSucceeded int     `json:"client_extractions_succeeded"`
	ClientExtractionsFailed    int     `json:"client_extractions_failed"`
	AvgClientMs                float64 `json:"avg_client_ms"`
	ServerExtractions          int     `json:"server_extractions"`
	AvgServerMs                float64 `json:"avg_server_ms"`
	TimeSavedMs                float64 `json:"time_saved_ms"`
	LastModelLoadMs            float64 `json:"last_model_load_ms"`
	TotalAudioSeconds          float64 `json:"total_audio_seconds"`
}

// Event is one recorded extraction or model load.
type Event struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	At           time.Time `json:"at"`
	DurationMs   float64   `json:"duration_ms"`
	Success      bool      `json:"success"`
	AudioSeconds float64   `json:"audio_seconds,omitempty"`
}

// Event kinds.
const (
	KindClient    = "client"
	KindServer    = "server"
	KindModelLoad = "model_load"
)

// Ledger is safe for concurrent use. Build one per process with [Open] and
// pass it to whoever records.
type Ledger struct {
	store   storage.Store
	metrics *observe.Metrics
	now     func() time.Time

	mu     sync.Mutex
	m      Metrics
	events []Event
}

// Option configures a [Ledger].
type Option func(*Ledger)

// WithMetrics mirrors every record to OpenTelemetry instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads a previously persisted ledger from store. Missing keys start an
// empty ledger; undecodable values are logged and discarded.
func Open(ctx context.Context, store storage.Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if err := l.load(ctx, KeyMetrics, &l.m); err != nil {
		return nil, err
	}
	if err := l.load(ctx, KeyEvents, &l.events); err != nil {
		return nil, err
	}
	if len(l.events) > MaxEvents {
		l.events = l.events[len(l.events)-MaxEvents:]
	}
	return l, nil
}

func (l *Ledger) load(ctx context.Context, key string, v any) error {
	data, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("ledger: discarding unreadable value", "key", key, "err", err)
	}
	return nil
}

// RecordClient records one on-device extraction attempt.
func (l *Ledger) RecordClient(ctx context.Context, d time.Duration, ok bool, audioSeconds float64) error {
	ms := millis(d)
	l.mu.Lock()
	l.m.ClientExtractionsAttempted++
	var saved float64
	if ok {
		l.m.ClientExtractionsSucceeded++
		l.m.AvgClientMs = runningAvg(l.m.AvgClientMs, ms, l.m.ClientExtractionsSucceeded)
		saved = ms*ServerFactor - ms
		l.m.TimeSavedMs += saved
	} else {
		l.m.ClientExtractionsFailed++
	}
	l.m.TotalAudioSeconds += audioSeconds
	l.push(KindClient, ms, ok, audioSeconds)
	err := l.persistLocked(ctx)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordExtraction(ctx, observe.ModeClient, d.Seconds(), audioSeconds, ok)
		l.metrics.RecordTimeSaved(ctx, saved/1000)
	}
	return err
}

// RecordServer records one server-side analysis round-trip.
func (l *Ledger) RecordServer(ctx context.Context, d time.Duration, audioSeconds float64) error {
	ms := millis(d)
	l.mu.Lock()
	l.m.ServerExtractions++
	l.m.AvgServerMs = runningAvg(l.m.AvgServerMs, ms, l.m.ServerExtractions)
	l.m.TotalAudioSeconds += audioSeconds
	l.push(KindServer, ms, true, audioSeconds)
	err := l.persistLocked(ctx)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordExtraction(ctx, observe.ModeServer, d.Seconds(), audioSeconds, true)
	}
	return err
}

// RecordModelLoad records a completed model load.
func (l *Ledger) RecordModelLoad(ctx context.Context, d time.Duration) error {
	ms := millis(d)
	l.mu.Lock()
	l.m.LastModelLoadMs = ms
	l.push(KindModelLoad, ms, true, 0)
	err := l.persistLocked(ctx)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordModelLoad(ctx, d.Seconds())
	}
	return err
}

// Metrics returns a copy of the running totals.
func (l *Ledger) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m
}

// Events returns the recorded events, oldest first.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Reset clears the ledger and its persisted keys.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m = Metrics{}
	l.events = nil
	return errors.Join(l.store.Delete(ctx, KeyMetrics), l.store.Delete(ctx, KeyEvents))
}

// PromptDismissed reports whether the "try local processing" prompt was
// dismissed.
func (l *Ledger) PromptDismissed(ctx context.Context) bool {
	data, err := l.store.Get(ctx, KeyPromptDismissed)
	if err != nil {
		return false
	}
	var v bool
	_ = json.Unmarshal(data, &v)
	return v
}

// SetPromptDismissed persists the prompt flag.
func (l *Ledger) SetPromptDismissed(ctx context.Context, dismissed bool) error {
	data, _ := json.Marshal(dismissed)
	if err := l.store.Set(ctx, KeyPromptDismissed, data); err != nil {
		return fmt.Errorf("ledger: save prompt flag: %w", err)
	}
	return nil
}

func (l *Ledger) push(kind string, ms float64, ok bool, audioSeconds float64) {
	l.events = append(l.events, Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		At:           l.now(),
		DurationMs:   ms,
		Success:      ok,
		AudioSeconds: audioSeconds,
	})
	if over := len(l.events) - MaxEvents; over > 0 {
		l.events = slices.Delete(l.events, 0, over)
	}
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	m, err := json.Marshal(l.m)
	if err != nil {
		return fmt.Errorf("ledger: encode metrics: %w", err)
	}
	ev, err := json.Marshal(l.events)
	if err != nil {
		return fmt.Errorf("ledger: encode events: %w", err)
	}
	if err := l.store.Set(ctx, KeyMetrics, m); err != nil {
		return fmt.Errorf("ledger: save metrics: %w", err)
	}
	if err := l.store.Set(ctx, KeyEvents, ev); err != nil {
		return fmt.Errorf("ledger: save events: %w", err)
	}
	return nil
}

// runningAvg folds x into avg, where n counts x.
func runningAvg(avg, x float64, n int) float64 {
	return avg + (x-avg)/float64(n)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
