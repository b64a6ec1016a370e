package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/readalong/internal/ledger"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/storage"
)

func open(t *testing.T, store storage.Store, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestRecordClient_RunningAverageIsMean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := open(t, storage.NewMemory())

	durations := []time.Duration{120 * time.Millisecond, 80 * time.Millisecond, 305 * time.Millisecond, 7 * time.Millisecond, 1500 * time.Millisecond}
	var sum float64
	for _, d := range durations {
		if err := l.RecordClient(ctx, d, true, 1.5); err != nil {
			t.Fatalf("RecordClient: %v", err)
		}
		sum += float64(d) / float64(time.Millisecond)
	}
	if err := l.RecordClient(ctx, time.Second, false, 0); err != nil {
		t.Fatalf("RecordClient: %v", err)
	}

	m := l.Metrics()
	if want := sum / float64(len(durations)); math.Abs(m.AvgClientMs-want) > 1e-9 {
		t.Errorf("AvgClientMs = %v, want %v", m.AvgClientMs, want)
	}
	if m.ClientExtractionsAttempted != m.ClientExtractionsSucceeded+m.ClientExtractionsFailed {
		t.Errorf("attempted %d != succeeded %d + failed %d",
			m.ClientExtractionsAttempted, m.ClientExtractionsSucceeded, m.ClientExtractionsFailed)
	}
	if m.ClientExtractionsFailed != 1 || m.ClientExtractionsSucceeded != 5 {
		t.Errorf("counts = %+v", m)
	}
	if want := sum * (ledger.ServerFactor - 1); math.Abs(m.TimeSavedMs-want) > 1e-9 {
		t.Errorf("TimeSavedMs = %v, want %v", m.TimeSavedMs, want)
	}
	if m.TotalAudioSeconds != 7.5 {
		t.Errorf("TotalAudioSeconds = %v, want 7.5", m.TotalAudioSeconds)
	}
}

func TestRecordServerAndModelLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := open(t, storage.NewMemory())

	_ = l.RecordServer(ctx, 2*time.Second, 3)
	_ = l.RecordServer(ctx, 4*time.Second, 1)
	_ = l.RecordModelLoad(ctx, 900*time.Millisecond)

	m := l.Metrics()
	if m.ServerExtractions != 2 || m.AvgServerMs != 3000 {
		t.Errorf("server = %d @ %v ms, want 2 @ 3000", m.ServerExtractions, m.AvgServerMs)
	}
	if m.LastModelLoadMs != 900 {
		t.Errorf("LastModelLoadMs = %v", m.LastModelLoadMs)
	}
	ev := l.Events()
	if len(ev) != 3 || ev[2].Kind != ledger.KindModelLoad || ev[0].ID == ev[1].ID {
		t.Errorf("events = %+v", ev)
	}
}

func TestEvents_RingIsCapped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := open(t, storage.NewMemory())
	for i := range ledger.MaxEvents + 25 {
		_ = l.RecordClient(ctx, time.Duration(i+1)*time.Millisecond, true, 0)
	}
	ev := l.Events()
	if len(ev) != ledger.MaxEvents {
		t.Fatalf("len(events) = %d, want %d", len(ev), ledger.MaxEvents)
	}
	if ev[0].DurationMs != 26 {
		t.Errorf("oldest kept = %v ms, want 26", ev[0].DurationMs)
	}
}

func TestOpen_ReloadsPersistedState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	l := open(t, store)
	_ = l.RecordClient(ctx, 100*time.Millisecond, true, 2)
	_ = l.RecordServer(ctx, 300*time.Millisecond, 2)

	again := open(t, store)
	if again.Metrics() != l.Metrics() {
		t.Errorf("reloaded %+v, want %+v", again.Metrics(), l.Metrics())
	}
	if len(again.Events()) != 2 {
		t.Errorf("reloaded %d events, want 2", len(again.Events()))
	}

	raw, err := store.Get(ctx, ledger.KeyMetrics)
	if err != nil {
		t.Fatalf("metrics key: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m["client_extractions_attempted"] != 1.0 {
		t.Errorf("persisted metrics = %s (%v)", raw, err)
	}
}

func TestOpen_CorruptValueStartsEmpty(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	_ = store.Set(context.Background(), ledger.KeyMetrics, []byte("{not json"))
	l := open(t, store)
	if l.Metrics() != (ledger.Metrics{}) {
		t.Errorf("metrics = %+v, want zero", l.Metrics())
	}
}

type failingStore struct{ storage.Memory }

func (f *failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestRecord_ReportsPersistFailure(t *testing.T) {
	t.Parallel()

	l := open(t, &failingStore{})
	err := l.RecordClient(context.Background(), time.Millisecond, true, 0)
	if err == nil {
		t.Fatal("expected persist error")
	}
	if l.Metrics().ClientExtractionsAttempted != 1 {
		t.Error("in-memory totals not updated on persist failure")
	}
}

func TestPromptDismissed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	l := open(t, store)
	if l.PromptDismissed(ctx) {
		t.Error("fresh ledger reports dismissed")
	}
	if err := l.SetPromptDismissed(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !open(t, store).PromptDismissed(ctx) {
		t.Error("flag not persisted")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	l := open(t, store)
	_ = l.RecordServer(ctx, time.Second, 0)
	if err := l.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if len(store.Keys()) != 0 || len(l.Events()) != 0 {
		t.Errorf("keys %v events %d after reset", store.Keys(), len(l.Events()))
	}
}

func TestWithMetrics_ExportsRecords(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	l := open(t, storage.NewMemory(), ledger.WithMetrics(met))
	_ = l.RecordClient(ctx, 200*time.Millisecond, true, 1)
	_ = l.RecordClient(ctx, 200*time.Millisecond, false, 0)
	_ = l.RecordServer(ctx, time.Second, 1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	var saved float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "readalong.extractions":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					total += dp.Value
				}
			case "readalong.time_saved":
				for _, dp := range m.Data.(metricdata.Sum[float64]).DataPoints {
					saved += dp.Value
				}
			}
		}
	}
	if total != 3 {
		t.Errorf("extractions = %d, want 3", total)
	}
	if math.Abs(saved-0.4) > 1e-9 {
		t.Errorf("time saved = %v s, want 0.4", saved)
	}
}
