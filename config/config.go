// Package config loads Spine's runtime settings from environment
// variables (prefix SPINE_) via viper, with optional flag overrides
// bound by cmd/spine. Token sets support rotation: a single-value
// binding and a CSV binding both contribute to each role's set, the
// union is accepted, and duplicates are coalesced.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for a Spine server.
type Config struct {
	// Port the HTTP server listens on.
	Port int

	// Host is the bind address.
	Host string

	// DataDir is the root of the persisted state layout (jobs/,
	// events/, blobs/).
	DataDir string

	// LeaseDuration is how long a claim grants exclusive ownership
	// before it becomes eligible for reaping.
	LeaseDuration time.Duration

	// ReaperInterval is how often the lease reaper sweeps. Should be
	// smaller than LeaseDuration.
	ReaperInterval time.Duration

	// DefaultMaxAttempts is substituted when job creation does not
	// specify maxAttempts.
	DefaultMaxAttempts int

	// HeadTokens, LeftClawTokens, RightClawTokens are the accepted
	// bearer tokens per role. Each must be non-empty at startup.
	HeadTokens      []string
	LeftClawTokens  []string
	RightClawTokens []string
}

// DefaultConfig returns a Config with sensible defaults. Token sets
// are intentionally empty: they have no safe default and Validate
// rejects a config that never received any.
func DefaultConfig() Config {
	return Config{
		Port:               8080,
		Host:               "0.0.0.0",
		DataDir:            "./data",
		LeaseDuration:      300 * time.Second,
		ReaperInterval:     30 * time.Second,
		DefaultMaxAttempts: 3,
	}
}

// Viper keys. cmd/spine binds its flags to the same keys so flags and
// environment resolve through one source of truth.
const (
	KeyPort               = "port"
	KeyHost               = "host"
	KeyDataDir            = "data_dir"
	KeyLeaseSeconds       = "lease_duration_seconds"
	KeyReaperIntervalMS   = "reaper_interval_ms"
	KeyDefaultMaxAttempts = "default_max_attempts"

	keyHeadToken       = "head_token"
	keyHeadTokens      = "head_tokens"
	keyLeftClawToken   = "left_claw_token"
	keyLeftClawTokens  = "left_claw_tokens"
	keyRightClawToken  = "right_claw_token"
	keyRightClawTokens = "right_claw_tokens"
)

// NewViper returns a viper instance bound to the SPINE_ environment
// prefix with defaults registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SPINE")
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault(KeyPort, def.Port)
	v.SetDefault(KeyHost, def.Host)
	v.SetDefault(KeyDataDir, def.DataDir)
	v.SetDefault(KeyLeaseSeconds, int(def.LeaseDuration/time.Second))
	v.SetDefault(KeyReaperIntervalMS, int(def.ReaperInterval/time.Millisecond))
	v.SetDefault(KeyDefaultMaxAttempts, def.DefaultMaxAttempts)

	return v
}

// Load resolves a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:               v.GetInt(KeyPort),
		Host:               v.GetString(KeyHost),
		DataDir:            v.GetString(KeyDataDir),
		LeaseDuration:      time.Duration(v.GetInt(KeyLeaseSeconds)) * time.Second,
		ReaperInterval:     time.Duration(v.GetInt(KeyReaperIntervalMS)) * time.Millisecond,
		DefaultMaxAttempts: v.GetInt(KeyDefaultMaxAttempts),

		HeadTokens:      mergeTokenSet(v.GetString(keyHeadToken), v.GetString(keyHeadTokens)),
		LeftClawTokens:  mergeTokenSet(v.GetString(keyLeftClawToken), v.GetString(keyLeftClawTokens)),
		RightClawTokens: mergeTokenSet(v.GetString(keyRightClawToken), v.GetString(keyRightClawTokens)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot safely start
// with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data directory is required")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("config: lease duration must be positive")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("config: reaper interval must be positive")
	}
	if c.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("config: default max attempts must be positive")
	}
	if len(c.HeadTokens) == 0 {
		return fmt.Errorf("config: no head tokens configured")
	}
	if len(c.LeftClawTokens) == 0 {
		return fmt.Errorf("config: no left-claw tokens configured")
	}
	if len(c.RightClawTokens) == 0 {
		return fmt.Errorf("config: no right-claw tokens configured")
	}
	return nil
}

// Addr returns the host:port string to listen on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// mergeTokenSet unions a single-value binding with a CSV binding,
// trimming whitespace, dropping empties, and coalescing duplicates
// while preserving first-seen order.
func mergeTokenSet(single, csv string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	add(single)
	for _, tok := range strings.Split(csv, ",") {
		add(tok)
	}
	return out
}
