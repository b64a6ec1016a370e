package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string

	cfg      *config.Config
	level    *slog.LevelVar
	reg      *config.Registry
	metrics  *observe.Metrics
	closers  []func() error
	shutdown func(context.Context) error
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "readalong",
		Short:         "Read-aloud practice with pronunciation feedback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "path to the YAML configuration file")

	root.AddCommand(
		newPracticeCmd(a),
		newAnalyzeCmd(a),
		newMetricsCmd(a),
		newModelCmd(a),
	)
	return root, a
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "readalong.yaml"
	}
	return filepath.Join(dir, "readalong", "config.yaml")
}

// init loads the config, installs the logger and the telemetry providers.
// A missing config file is not an error; defaults apply.
func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
		if tok := os.Getenv(config.EnvToken); tok != "" {
			cfg.Backend.Token = tok
		}
	case err != nil:
		return err
	}
	a.cfg = cfg

	logger, closeLog := newLogger(cfg.Log, a.level)
	slog.SetDefault(logger)
	a.closers = append(a.closers, closeLog)
	slog.Debug("config loaded", "path", a.configPath, "found", err == nil)

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	a.metrics = observe.DefaultMetrics()

	a.reg = config.NewRegistry()
	registerBuiltins(a.reg, a.metrics)
	return nil
}

// close runs the registered closers in reverse order and flushes telemetry.
// It is safe to call when init never ran.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}
