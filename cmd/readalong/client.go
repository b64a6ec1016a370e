package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/ledger"
	"github.com/MrWong99/readalong/internal/orchestrator"
	"github.com/MrWong99/readalong/internal/playback"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/audio/miniaudio"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/transport"
)

// client bundles everything one practice or analyze run needs.
type client struct {
	orch      *orchestrator.Orchestrator
	ledger    *ledger.Ledger
	transport transport.Transport
	extractor *phoneme.Extractor
	device    *miniaudio.Device
}

// newClient builds the transport, ledger, extractor and orchestrator from the
// loaded config. A missing audio device disables feedback playback only.
func (a *app) newClient(ctx context.Context, cb orchestrator.Callbacks) (*client, error) {
	if a.cfg.Backend.BaseURL == "" {
		return nil, errors.New("backend.base_url is not configured")
	}

	tr, err := a.reg.CreateTransport(a.cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	led, store, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	c := &client{
		ledger:    led,
		transport: tr,
		extractor: a.newExtractor(),
	}

	opts := []orchestrator.Option{
		orchestrator.WithLedger(led),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithCallbacks(cb),
		orchestrator.WithToken(a.cfg.Backend.Token),
		orchestrator.WithLocalEnabled(a.cfg.Phoneme.Enabled),
	}
	if c.extractor != nil {
		opts = append(opts, orchestrator.WithExtractor(c.extractor))
	}
	if dev, err := miniaudio.New(); err != nil {
		slog.Warn("audio device unavailable; feedback audio will not play", "err", err)
	} else {
		c.device = dev
		a.onClose(dev.Close)
		opts = append(opts, orchestrator.WithPlayer(playback.NewPlayer(dev)))
	}

	c.orch = orchestrator.New(tr, opts...)
	a.onClose(c.orch.Close)

	probes := []health.Probe{
		{Name: "network", Value: func() string { return string(c.orch.NetworkQuality()) }},
		{Name: "model", Value: func() string { return modelState(c.extractor) }},
	}
	if fb, ok := tr.(*resilience.TransportFallback); ok {
		probes = append(probes, health.Probe{Name: "transport", Value: fb.Active})
	}
	a.serveTelemetry(tr, store, probes...)

	return c, nil
}

func modelState(ex *phoneme.Extractor) string {
	switch {
	case ex == nil:
		return "unavailable"
	case ex.IsLoading():
		return "loading"
	case ex.IsLoaded():
		return "loaded"
	default:
		return "unloaded"
	}
}
