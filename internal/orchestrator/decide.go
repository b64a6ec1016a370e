package orchestrator

import (
	"context"
	"time"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/phoneme"
)

// Mode is where phonemes are extracted for one turn.
type Mode string

const (
	ModeServer Mode = observe.ModeServer
	ModeClient Mode = observe.ModeClient
)

// Probes gate on-device extraction. Nil fields pass.
type Probes struct {
	Runtime func() bool
	Device  func() bool
}

// DefaultProbes uses the host checks from package phoneme.
func DefaultProbes() Probes {
	return Probes{Runtime: phoneme.CheckRuntimeSupport, Device: phoneme.CheckDeviceResources}
}

// Decide picks the extraction mode for the next turn. Local extraction needs
// the user's opt-in, a capable host, a model that is loaded or loads now, and
// a network that does not make the server the faster choice. Every failure
// falls back to [ModeServer]; nothing is reported to the user.
func (o *Orchestrator) Decide(ctx context.Context) Mode {
	log := observe.Logger(ctx)
	if !o.LocalEnabled() || o.extractor == nil {
		return ModeServer
	}
	if (o.probes.Runtime != nil && !o.probes.Runtime()) || (o.probes.Device != nil && !o.probes.Device()) {
		log.Debug("orchestrator: host not suited for local extraction")
		return ModeServer
	}
	if o.serverFaster() {
		log.Debug("orchestrator: server faster than local extraction", "rtt", o.net.RTT())
		return ModeServer
	}
	if !o.extractor.IsLoaded() {
		if err := o.extractor.LoadModel(ctx, o.cb.OnModelProgress); err != nil {
			log.Warn("orchestrator: model load failed, using server extraction", "err", err)
			return ModeServer
		}
		if o.ledger != nil {
			if err := o.ledger.RecordModelLoad(ctx, o.extractor.LoadDuration()); err != nil {
				log.Warn("orchestrator: record model load", "err", err)
			}
		}
	}
	return ModeClient
}

// serverFaster reports whether a good network plus ledger history say the
// server round-trip beats local inference.
func (o *Orchestrator) serverFaster() bool {
	if o.ledger == nil || o.net.Quality() != QualityGood {
		return false
	}
	m := o.ledger.Metrics()
	if m.ClientExtractionsSucceeded == 0 || m.AvgClientMs <= 0 {
		return false
	}
	server := float64(o.net.RTT()) / float64(time.Millisecond)
	if m.AvgServerMs > 0 {
		server = m.AvgServerMs
	}
	return m.AvgClientMs > server
}
