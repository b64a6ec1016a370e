package config

// ConfigDiff describes what changed between two configs. Log level and the
// local-extraction opt-in apply live; every other section needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LocalChanged bool
	LocalEnabled bool

	// RestartRequired names the changed sections that only take effect after
	// a restart, in schema order.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LocalChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	if old.Phoneme.Enabled != new.Phoneme.Enabled {
		d.LocalChanged = true
		d.LocalEnabled = new.Phoneme.Enabled
	}

	oldLog, newLog := old.Log, new.Log
	oldLog.Level, newLog.Level = "", ""
	oldPh, newPh := old.Phoneme, new.Phoneme
	oldPh.Enabled, newPh.Enabled = false, false

	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"log", oldLog != newLog},
		{"backend", old.Backend != new.Backend},
		{"recorder", old.Recorder != new.Recorder},
		{"phoneme", oldPh != newPh},
		{"storage", old.Storage != new.Storage},
		{"metrics", old.Metrics != new.Metrics},
	} {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
