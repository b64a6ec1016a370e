package config

import (
	"slices"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := Default()
	base.Storage = StorageConfig{Driver: StorageMemory}

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantLog     bool
		wantLocal   bool
		wantRestart []string
	}{
		{"identical", func(*Config) {}, false, false, nil},
		{"log level", func(c *Config) { c.Log.Level = LogDebug }, true, false, nil},
		{"log file", func(c *Config) { c.Log.File = "/tmp/x.log" }, false, false, []string{"log"}},
		{"local toggle", func(c *Config) { c.Phoneme.Enabled = true }, false, true, nil},
		{"model path", func(c *Config) { c.Phoneme.ModelPath = "/m.bin" }, false, false, []string{"phoneme"}},
		{
			"backend and storage",
			func(c *Config) { c.Backend.Transport = TransportStream; c.Storage.Driver = StorageBadger },
			false, false, []string{"backend", "storage"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := *base
			tc.mutate(&next)
			d := Diff(base, &next)
			if d.LogLevelChanged != tc.wantLog || d.LocalChanged != tc.wantLocal {
				t.Errorf("live changes = log %v local %v", d.LogLevelChanged, d.LocalChanged)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			if d.Empty() != (tc.name == "identical") {
				t.Errorf("Empty = %v", d.Empty())
			}
		})
	}
}
