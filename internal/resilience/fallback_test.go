package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

// failing returns an fn for Execute that fails for the named entries and
// records every call.
func failing(calls *[]string, bad map[string]error) func(string) (string, error) {
	return func(name string) (string, error) {
		*calls = append(*calls, name)
		if err := bad[name]; err != nil {
			return "", err
		}
		return "via " + name, nil
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bad       map[string]error
		want      string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "primary answers",
			want:      "via socket",
			wantCalls: []string{"socket"},
		},
		{
			name:      "fails over in order",
			bad:       map[string]error{"socket": errTest},
			want:      "via stream",
			wantCalls: []string{"socket", "stream"},
		},
		{
			name:      "all fail",
			bad:       map[string]error{"socket": errTest, "stream": errTest, "replay": errTest},
			wantCalls: []string{"socket", "stream", "replay"},
			wantErr:   ErrAllFailed,
		},
		{
			name:      "permanent error stops the walk",
			bad:       map[string]error{"socket": Permanent(errTest)},
			wantCalls: []string{"socket"},
			wantErr:   errTest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fg := NewFallbackGroup("socket", "socket", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fg.AddFallback("stream", "stream")
			fg.AddFallback("replay", "replay")

			var calls []string
			got, err := ExecuteWithResult(fg, failing(&calls, tc.bad))
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want || !slices.Equal(calls, tc.wantCalls) {
				t.Errorf("got %q via %v, want %q via %v", got, calls, tc.want, tc.wantCalls)
			}
		})
	}
}

func TestFallbackGroup_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("socket", "socket", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("stream", "stream")

	var calls []string
	bad := map[string]error{"socket": errTest}
	for range 2 {
		if err := fg.Execute(func(v string) error { _, err := failing(&calls, bad)(v); return err }); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if fg.Breaker("socket").State() != StateOpen {
		t.Fatalf("socket breaker = %v, want open", fg.Breaker("socket").State())
	}

	calls = nil
	if err := fg.Execute(func(v string) error { _, err := failing(&calls, nil)(v); return err }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(calls, []string{"stream"}) {
		t.Errorf("calls = %v, want the open socket skipped", calls)
	}
}

func TestFallbackGroup_PermanentDoesNotTrip(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("socket", "socket", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})
	fg.AddFallback("stream", "stream")

	err := fg.Execute(func(string) error { return Permanent(errTest) })
	if errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the permanent cause only", err)
	}
	if fg.Breaker("socket").State() != StateClosed {
		t.Error("permanent error tripped the breaker")
	}
	if fg.Breaker("missing") != nil || fg.Len() != 2 {
		t.Error("unexpected group bookkeeping")
	}
}
