package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvToken overrides backend.token when set.
const EnvToken = "READALONG_TOKEN"

// Defaults.
const (
	DefaultHeartbeat       = 30 * time.Second
	DefaultResponseTimeout = 2 * time.Minute
	DefaultSilenceTimeout  = 2000 * time.Millisecond
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultEnergyThreshold = -50.0
	DefaultSileroThreshold = 0.5
	DefaultLogMaxSizeMB    = 10
	DefaultLogMaxBackups   = 3

	// DefaultModelURL is the multilingual tiny whisper.cpp model.
	DefaultModelURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment, and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if tok := os.Getenv(EnvToken); tok != "" {
		cfg.Backend.Token = tok
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = DefaultLogMaxBackups
	}

	if cfg.Backend.Transport == "" {
		cfg.Backend.Transport = TransportAuto
	}
	if cfg.Backend.Heartbeat == 0 {
		cfg.Backend.Heartbeat = DefaultHeartbeat
	}
	if cfg.Backend.ResponseTimeout == 0 {
		cfg.Backend.ResponseTimeout = DefaultResponseTimeout
	}

	if cfg.Recorder.SilenceTimeout == 0 {
		cfg.Recorder.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Recorder.PollInterval == 0 {
		cfg.Recorder.PollInterval = DefaultPollInterval
	}
	if cfg.Recorder.VAD == "" {
		cfg.Recorder.VAD = VADEnergy
	}
	if cfg.Recorder.EnergyThreshold == 0 {
		cfg.Recorder.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.Recorder.SileroThreshold == 0 {
		cfg.Recorder.SileroThreshold = DefaultSileroThreshold
	}

	if cfg.Phoneme.Language == "" {
		cfg.Phoneme.Language = "en"
	}
	if cfg.Phoneme.ModelPath == "" && cfg.Phoneme.ModelURL == "" {
		cfg.Phoneme.ModelURL = DefaultModelURL
	}
	if cfg.Phoneme.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cfg.Phoneme.CacheDir = filepath.Join(dir, "readalong", "models")
		}
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageBadger
	}
	if cfg.Storage.Driver == StorageBadger && cfg.Storage.Dir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.Storage.Dir = filepath.Join(dir, "readalong", "ledger")
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		errs = append(errs, errors.New("log.max_size_mb and log.max_backups must not be negative"))
	}

	if !cfg.Backend.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("backend.transport %q is invalid; valid values: socket, stream, auto", cfg.Backend.Transport))
	}
	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL))
		}
	}
	if cfg.Backend.Heartbeat < 0 || cfg.Backend.ResponseTimeout < 0 {
		errs = append(errs, errors.New("backend.heartbeat and backend.response_timeout must not be negative"))
	}
	if cfg.Backend.Token == "" && cfg.Backend.BaseURL != "" {
		slog.Warn("backend.token is empty; set it or " + EnvToken + " before practising")
	}

	if cfg.Recorder.SilenceTimeout < 0 || cfg.Recorder.PollInterval < 0 {
		errs = append(errs, errors.New("recorder.silence_timeout and recorder.poll_interval must not be negative"))
	}
	switch cfg.Recorder.VAD {
	case VADEnergy:
		if cfg.Recorder.EnergyThreshold > 0 {
			errs = append(errs, fmt.Errorf("recorder.energy_threshold %.1f must be in dBFS (<= 0)", cfg.Recorder.EnergyThreshold))
		}
	case VADSilero:
		if cfg.Recorder.SileroModel == "" {
			errs = append(errs, errors.New("recorder.silero_model is required when recorder.vad is silero"))
		}
		if cfg.Recorder.SileroThreshold <= 0 || cfg.Recorder.SileroThreshold >= 1 {
			errs = append(errs, fmt.Errorf("recorder.silero_threshold %.2f is out of range (0, 1)", cfg.Recorder.SileroThreshold))
		}
	default:
		errs = append(errs, fmt.Errorf("recorder.vad %q is invalid; valid values: energy, silero", cfg.Recorder.VAD))
	}

	if cfg.Phoneme.ModelURL != "" {
		if u, err := url.Parse(cfg.Phoneme.ModelURL); err != nil || u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("phoneme.model_url %q must be an https URL", cfg.Phoneme.ModelURL))
		}
	}

	if !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: badger, postgres, memory", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required when storage.driver is postgres"))
	}
	if cfg.Storage.Driver == StorageBadger && cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required when storage.driver is badger"))
	}

	return errors.Join(errs...)
}
