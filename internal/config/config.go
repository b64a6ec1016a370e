// Package config provides the configuration schema, loader, watcher and
// component registry for the readalong client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TransportKind selects how utterances reach the backend.
type TransportKind string

const (
	// TransportSocket keeps one WebSocket open for the whole session.
	TransportSocket TransportKind = "socket"

	// TransportStream issues one streaming POST per utterance.
	TransportStream TransportKind = "stream"

	// TransportAuto prefers the socket and falls back to the stream.
	TransportAuto TransportKind = "auto"
)

// IsValid reports whether k is a recognised transport.
func (k TransportKind) IsValid() bool {
	switch k {
	case TransportSocket, TransportStream, TransportAuto:
		return true
	}
	return false
}

// StorageDriver selects the ledger backend.
type StorageDriver string

const (
	StorageBadger   StorageDriver = "badger"
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// IsValid reports whether d is a recognised storage driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageBadger, StoragePostgres, StorageMemory:
		return true
	}
	return false
}

// Config is the root configuration. It is typically loaded from a YAML file
// using [Load] or [LoadFromReader].
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Backend  BackendConfig  `yaml:"backend"`
	Recorder RecorderConfig `yaml:"recorder"`
	Phoneme  PhonemeConfig  `yaml:"phoneme"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level LogLevel `yaml:"level"`

	// File, when set, mirrors logs to a rotating file.
	File string `yaml:"file"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`
}

// BackendConfig locates the analysis backend.
type BackendConfig struct {
	// BaseURL is the backend origin, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token. READALONG_TOKEN overrides it.
	Token string `yaml:"token"`

	Transport TransportKind `yaml:"transport"`

	// Heartbeat is the socket ping interval.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// ResponseTimeout bounds the wait for a terminal event on the socket.
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// VADKind selects the voice-activity engine.
type VADKind string

const (
	VADEnergy VADKind = "energy"
	VADSilero VADKind = "silero"
)

// RecorderConfig tunes capture and auto-stop.
type RecorderConfig struct {
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	VAD VADKind `yaml:"vad"`

	// EnergyThreshold is the speech level in dBFS for the energy engine.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SileroModel is the ONNX model path for the silero engine.
	SileroModel string `yaml:"silero_model"`

	// SileroThreshold is the speech probability for the silero engine.
	SileroThreshold float64 `yaml:"silero_threshold"`
}

// PhonemeConfig controls on-device phoneme extraction.
type PhonemeConfig struct {
	// Enabled is the user's opt-in.
	Enabled bool `yaml:"enabled"`

	ModelURL  string `yaml:"model_url"`
	ModelPath string `yaml:"model_path"`
	CacheDir  string `yaml:"cache_dir"`
	Language  string `yaml:"language"`
}

// StorageConfig selects where the performance ledger is kept.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver"`

	// Dir is the badger data directory.
	Dir string `yaml:"dir"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// MetricsConfig controls the local observability endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when set.
	ListenAddr string `yaml:"listen_addr"`
}
