// Package mock provides a test double for the transport.Transport interface.
//
// Transport records every SendAudio request and, when Replies is set, answers
// each send synchronously with the next scripted event sequence. Tests that
// need asynchronous delivery can leave Replies empty and push events with
// Emit, Fail and Drop.
//
// Example:
//
//	tr := &mock.Transport{
//	    Replies: [][]transport.Event{{
//	        {Type: transport.EventProcessingStarted},
//	        {Type: transport.EventAnalysis, Analysis: &report},
//	    }},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/readalong/pkg/transport"
)

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Releaser  = (*Transport)(nil)
)

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// SendErr, if non-nil, is returned by SendAudio before anything is
	// recorded as delivered.
	SendErr error

	// Replies holds one event sequence per SendAudio call, consumed in order.
	Replies [][]transport.Event

	// ReplyErrs, when set at the same index as a send, is reported through
	// OnError after that send's events.
	ReplyErrs []error

	// --- Call records (read after test) ---

	// Sends records every SendAudio request in order.
	Sends []transport.AudioRequest

	// ConnectCalls counts Connect invocations.
	ConnectCalls int

	// DisconnectCalls counts Disconnect invocations.
	DisconnectCalls int

	// ReleaseCalls counts ReleaseUtterance invocations.
	ReleaseCalls int

	opts      transport.Options
	connected bool
}

// Connect stores opts and reports OnConnect.
func (t *Transport) Connect(_ context.Context, opts transport.Options) error {
	t.mu.Lock()
	t.ConnectCalls++
	if t.ConnectErr != nil {
		err := t.ConnectErr
		t.mu.Unlock()
		return err
	}
	t.opts = opts
	t.connected = true
	t.mu.Unlock()
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	return nil
}

// SendAudio records req and replays the next scripted reply.
func (t *Transport) SendAudio(_ context.Context, req transport.AudioRequest) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return transport.ErrNotConnected
	}
	if t.SendErr != nil {
		err := t.SendErr
		t.mu.Unlock()
		return err
	}
	idx := len(t.Sends)
	t.Sends = append(t.Sends, req)
	var reply []transport.Event
	if idx < len(t.Replies) {
		reply = t.Replies[idx]
	}
	var replyErr error
	if idx < len(t.ReplyErrs) {
		replyErr = t.ReplyErrs[idx]
	}
	opts := t.opts
	t.mu.Unlock()

	for _, ev := range reply {
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
	}
	if replyErr != nil && opts.OnError != nil {
		opts.OnError(replyErr)
	}
	return nil
}

// Disconnect marks the mock disconnected and reports OnDisconnect.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.DisconnectCalls++
	was := t.connected
	t.connected = false
	opts := t.opts
	t.mu.Unlock()
	if was && opts.OnDisconnect != nil {
		opts.OnDisconnect()
	}
	return nil
}

// ReleaseUtterance records the call.
func (t *Transport) ReleaseUtterance() {
	t.mu.Lock()
	t.ReleaseCalls++
	t.mu.Unlock()
}

// Released returns the number of ReleaseUtterance calls.
func (t *Transport) Released() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReleaseCalls
}

// IsConnected reports the connected flag.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Emit delivers ev through OnEvent.
func (t *Transport) Emit(ev transport.Event) {
	t.mu.Lock()
	opts := t.opts
	t.mu.Unlock()
	if opts.OnEvent != nil {
		opts.OnEvent(ev)
	}
}

// Fail delivers err through OnError.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	opts := t.opts
	t.mu.Unlock()
	if opts.OnError != nil {
		opts.OnError(err)
	}
}

// Drop simulates an unexpected connection loss: the mock becomes
// disconnected and OnDisconnect fires.
func (t *Transport) Drop() {
	t.mu.Lock()
	t.connected = false
	opts := t.opts
	t.mu.Unlock()
	if opts.OnDisconnect != nil {
		opts.OnDisconnect()
	}
}

// SendCount returns the number of recorded sends.
func (t *Transport) SendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Sends)
}

// LastSend returns the most recent request.
func (t *Transport) LastSend() (transport.AudioRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Sends) == 0 {
		return transport.AudioRequest{}, false
	}
	return t.Sends[len(t.Sends)-1], true
}
