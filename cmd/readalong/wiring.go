package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/health"
	"github.com/MrWong99/readalong/internal/ledger"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/internal/storage"
	badgerstore "github.com/MrWong99/readalong/internal/storage/badger"
	pgstore "github.com/MrWong99/readalong/internal/storage/postgres"
	"github.com/MrWong99/readalong/pkg/phoneme"
	"github.com/MrWong99/readalong/pkg/phoneme/whisper"
	"github.com/MrWong99/readalong/pkg/provider/vad"
	"github.com/MrWong99/readalong/pkg/provider/vad/energy"
	"github.com/MrWong99/readalong/pkg/provider/vad/silero"
	"github.com/MrWong99/readalong/pkg/transport"
)

// ── Built-in components ───────────────────────────────────────────────────────

// registerBuiltins wires every shipped VAD engine, storage driver and
// transport into reg. Breaker transitions of the auto transport are exported
// through m.
func registerBuiltins(reg *config.Registry, m *observe.Metrics) {
	reg.RegisterVAD(config.VADEnergy, func(config.RecorderConfig) (vad.Engine, error) {
		return energy.New(), nil
	})
	reg.RegisterVAD(config.VADSilero, func(cfg config.RecorderConfig) (vad.Engine, error) {
		return silero.New(cfg.SileroModel)
	})

	reg.RegisterStore(config.StorageMemory, func(context.Context, config.StorageConfig) (storage.Store, func() error, error) {
		return storage.NewMemory(), func() error { return nil }, nil
	})
	reg.RegisterStore(config.StorageBadger, func(_ context.Context, cfg config.StorageConfig) (storage.Store, func() error, error) {
		s, err := badgerstore.Open(badgerstore.Options{Dir: cfg.Dir})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})
	reg.RegisterStore(config.StoragePostgres, func(ctx context.Context, cfg config.StorageConfig) (storage.Store, func() error, error) {
		s, err := pgstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	})

	reg.RegisterTransport(config.TransportSocket, func(cfg config.BackendConfig) (transport.Transport, error) {
		return newSocket(cfg), nil
	})
	reg.RegisterTransport(config.TransportStream, func(cfg config.BackendConfig) (transport.Transport, error) {
		return transport.NewStream(cfg.BaseURL), nil
	})
	reg.RegisterTransport(config.TransportAuto, func(cfg config.BackendConfig) (transport.Transport, error) {
		fb := resilience.NewTransportFallback(newSocket(cfg), string(config.TransportSocket), resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: time.Minute,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Info("transport breaker", "name", name, "from", from, "to", to)
					m.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		fb.AddFallback(string(config.TransportStream), transport.NewStream(cfg.BaseURL))
		return fb, nil
	})
}

func newSocket(cfg config.BackendConfig) *transport.Socket {
	return transport.NewSocket(cfg.BaseURL,
		transport.WithHeartbeat(cfg.Heartbeat),
		transport.WithResponseTimeout(cfg.ResponseTimeout),
	)
}

// ── Shared construction ───────────────────────────────────────────────────────

// openLedger opens the configured store and the ledger on top of it. The
// store is closed with the app.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, storage.Store, error) {
	store, closeStore, err := a.reg.CreateStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", a.cfg.Storage.Driver, err)
	}
	a.onClose(closeStore)

	led, err := ledger.Open(ctx, store, ledger.WithMetrics(a.metrics))
	if err != nil {
		return nil, nil, err
	}
	return led, store, nil
}

// newExtractor returns the on-device phoneme extractor, or nil when the
// model cannot be configured on this host.
func (a *app) newExtractor() *phoneme.Extractor {
	pc := a.cfg.Phoneme
	var opts []whisper.Option
	if pc.ModelPath != "" {
		opts = append(opts, whisper.WithModelPath(pc.ModelPath))
	}
	if pc.ModelURL != "" {
		opts = append(opts, whisper.WithModelURL(pc.ModelURL))
	}
	if pc.CacheDir != "" {
		opts = append(opts, whisper.WithCacheDir(pc.CacheDir))
	}
	if pc.Language != "" {
		opts = append(opts, whisper.WithLanguage(pc.Language))
	}
	loader, err := whisper.NewLoader(opts...)
	if err != nil {
		slog.Warn("on-device phoneme extraction unavailable", "err", err)
		return nil
	}
	ex := phoneme.NewExtractor(loader)
	a.onClose(func() error { ex.UnloadModel(); return nil })
	return ex
}

// ── Telemetry endpoint ────────────────────────────────────────────────────────

type pinger interface {
	Ping(ctx context.Context) error
}

// serveTelemetry exposes /metrics, /healthz and /readyz on
// cfg.Metrics.ListenAddr. It does nothing when no address is configured.
func (a *app) serveTelemetry(tr transport.Transport, store storage.Store, probes ...health.Probe) {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return
	}

	checkers := []health.Checker{health.Connected("transport", tr.IsConnected)}
	if p, ok := store.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "storage", Check: p.Ping})
	}
	h := health.New(checkers...).WithProbes(probes...)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	h.Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("telemetry listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry server", "err", err)
		}
	}()
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}
