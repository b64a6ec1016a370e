package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"
)

func TestCorrelationID(t *testing.T) {
	instrumented(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("no span: CorrelationID = %q, want empty", got)
	}

	ctx1, s1 := StartSpan(context.Background(), "turn")
	ctx2, s2 := StartSpan(context.Background(), "turn")
	defer s1.End()
	defer s2.End()

	id1, id2 := CorrelationID(ctx1), CorrelationID(ctx2)
	if _, err := hex.DecodeString(id1); err != nil || len(id1) != 32 {
		t.Errorf("CorrelationID = %q, want 32 hex chars", id1)
	}
	if id1 == id2 {
		t.Error("independent turns share a trace id")
	}
}

func TestStartSpan_NamesScopeAndNests(t *testing.T) {
	_, _, exp := instrumented(t)

	ctx, parent := StartSpan(context.Background(), "orchestrator.process_audio")
	_, child := StartSpan(ctx, "phoneme.extract")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	c, p := spans[0], spans[1]
	if c.Parent.SpanID() != p.SpanContext.SpanID() {
		t.Error("extract span is not a child of the turn span")
	}
	if p.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", p.InstrumentationScope.Name, tracerName)
	}
}

func TestLogger_AddsTraceFieldsOnlyWithSpan(t *testing.T) {
	instrumented(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(context.Background()).Info("before turn")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id logged without a span: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartSpan(context.Background(), "turn")
	defer span.End()
	Logger(ctx).Info("during turn")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing trace fields: %s", out)
	}
}
