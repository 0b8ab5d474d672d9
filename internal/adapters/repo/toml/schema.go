package toml

import "fmt"

const currentSchemaVersion = 1

type statusFileSchema struct {
	Version  int             `toml:"version"`
	Relay    relaySchema     `toml:"relay"`
	Sessions []sessionSchema `toml:"sessions,omitempty"`
}

func (s *statusFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s statusFileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported status schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type relaySchema struct {
	Running     bool   `toml:"running"`
	Watermark   string `toml:"watermark"`
	ErrorCount  int    `toml:"error_count"`
	MaxErrors   int    `toml:"max_errors"`
	LastCycleAt string `toml:"last_cycle_at,omitempty"`
	LastError   string `toml:"last_error,omitempty"`
	Dispatched  int64  `toml:"dispatched"`
	UpdatedAt   string `toml:"updated_at"`
}

type sessionSchema struct {
	Key        string `toml:"key"`
	Ref        string `toml:"ref"`
	Liked      bool   `toml:"liked"`
	Reposted   bool   `toml:"reposted"`
	Translated bool   `toml:"translated"`
	Deadline   string `toml:"deadline"`
}
