package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pass(context.Context) error { return nil }

func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest("GET", path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "transport", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "transport", Check: pass}, {Name: "storage", Check: pass}},
			wantCode: http.StatusOK,
			want:     map[string]string{"transport": "ok", "storage": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "transport", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "storage", Check: pass},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"transport": "fail: connection refused", "storage": "ok"},
		},
		{
			name:     "connected helper",
			checkers: []Checker{Connected("transport", func() bool { return false })},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"transport": "fail: not connected"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tc.checkers...), "/readyz", context.Background())
			if code != tc.wantCode {
				t.Errorf("status = %d, want %d", code, tc.wantCode)
			}
			wantStatus := "ok"
			if tc.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for k, v := range tc.want {
				if body.Checks[k] != v {
					t.Errorf("check %q = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ProbesAreInformational(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "storage", Check: pass}).WithProbes(
		Probe{Name: "transport", Value: func() string { return "reconnecting" }},
		Probe{Name: "model", Value: func() string { return "loaded" }},
	)
	code, body := serve(t, h, "/readyz", context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Info["transport"] != "reconnecting" || body.Info["model"] != "loaded" {
		t.Errorf("info = %v", body.Info)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := serve(t, h, "/readyz", ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}
