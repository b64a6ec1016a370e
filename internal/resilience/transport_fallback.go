package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/readalong/pkg/transport"
)

var (
	_ transport.Transport = (*TransportFallback)(nil)
	_ transport.Releaser  = (*TransportFallback)(nil)
)

type namedTransport struct {
	name string
	t    transport.Transport
}

// TransportFallback implements [transport.Transport] over a [FallbackGroup]
// of transports. Entries are connected lazily, on the first Connect or
// SendAudio that reaches them.
//
// A primary that reports [transport.ErrConnectionLost] is not fatal while a
// fallback remains; the loss is logged and the next send moves on.
// [transport.ErrSendInFlight], cancellation and 4xx responses are returned
// without failover.
type TransportFallback struct {
	group   *FallbackGroup[transport.Transport]
	entries []namedTransport

	mu     sync.Mutex
	opts   transport.Options
	active string
}

// NewTransportFallback returns a fallback whose first entry is primary.
func NewTransportFallback(primary transport.Transport, primaryName string, cfg FallbackConfig) *TransportFallback {
	return &TransportFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		entries: []namedTransport{{name: primaryName, t: primary}},
	}
}

// AddFallback appends a transport tried after those already registered.
func (f *TransportFallback) AddFallback(name string, t transport.Transport) {
	f.group.AddFallback(name, t)
	f.entries = append(f.entries, namedTransport{name: name, t: t})
}

// Active returns the name of the entry that last connected or sent
// successfully, or "" before the first success.
func (f *TransportFallback) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Breaker exposes the breaker of the named entry.
func (f *TransportFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Connect stores opts and connects the first healthy entry.
func (f *TransportFallback) Connect(ctx context.Context, opts transport.Options) error {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()

	name, err := ExecuteWithResult(f.group, func(t transport.Transport) (string, error) {
		if err := f.connect(ctx, t); err != nil {
			return "", err
		}
		return f.nameOf(t), nil
	})
	if err != nil {
		return fmt.Errorf("resilience: connect: %w", err)
	}
	f.setActive(name)
	return nil
}

// SendAudio submits req through the first entry that accepts it.
func (f *TransportFallback) SendAudio(ctx context.Context, req transport.AudioRequest) error {
	name, err := ExecuteWithResult(f.group, func(t transport.Transport) (string, error) {
		if err := f.connect(ctx, t); err != nil {
			return "", err
		}
		if err := t.SendAudio(ctx, req); err != nil {
			if terminal(ctx, err) {
				return "", Permanent(err)
			}
			return "", err
		}
		return f.nameOf(t), nil
	})
	if err != nil {
		return err
	}
	f.setActive(name)
	return nil
}

// Disconnect disconnects every entry.
func (f *TransportFallback) Disconnect() error {
	var errs []error
	for _, e := range f.entries {
		if err := e.t.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	f.setActive("")
	return errors.Join(errs...)
}

// ReleaseUtterance releases every entry that holds utterances open.
func (f *TransportFallback) ReleaseUtterance() {
	for _, e := range f.entries {
		if r, ok := e.t.(transport.Releaser); ok {
			r.ReleaseUtterance()
		}
	}
}

// IsConnected reports whether any entry is connected.
func (f *TransportFallback) IsConnected() bool {
	for _, e := range f.entries {
		if e.t.IsConnected() {
			return true
		}
	}
	return false
}

func (f *TransportFallback) connect(ctx context.Context, t transport.Transport) error {
	if t.IsConnected() {
		return nil
	}
	return t.Connect(ctx, f.entryOptions(t))
}

// entryOptions returns the shared callbacks, with connection loss on a
// non-final entry downgraded to a log line.
func (f *TransportFallback) entryOptions(t transport.Transport) transport.Options {
	f.mu.Lock()
	opts := f.opts
	f.mu.Unlock()

	name := f.nameOf(t)
	last := f.entries[len(f.entries)-1].t == t
	onError := opts.OnError
	opts.OnError = func(err error) {
		if !last && errors.Is(err, transport.ErrConnectionLost) {
			slog.Warn("resilience: transport lost, falling back on next send", "transport", name)
			f.mu.Lock()
			if f.active == name {
				f.active = ""
			}
			f.mu.Unlock()
			return
		}
		if onError != nil {
			onError(err)
		}
	}
	return opts
}

func (f *TransportFallback) nameOf(t transport.Transport) string {
	for _, e := range f.entries {
		if e.t == t {
			return e.name
		}
	}
	return ""
}

func (f *TransportFallback) setActive(name string) {
	f.mu.Lock()
	changed := f.active != name
	f.active = name
	f.mu.Unlock()
	if changed && name != "" {
		slog.Info("resilience: active transport", "transport", name)
	}
}

// terminal reports whether err should end the send without failover.
func terminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, transport.ErrSendInFlight) {
		return true
	}
	var he *transport.HTTPError
	return errors.As(err, &he) && he.StatusCode >= http.StatusBadRequest && he.StatusCode < http.StatusInternalServerError
}
