package config_test

import (
	"testing"
	"time"

	"spine/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"SPINE_HEAD_TOKEN":       "h1",
		"SPINE_LEFT_CLAW_TOKEN":  "l1",
		"SPINE_RIGHT_CLAW_TOKEN": "r1",
	}
}

func loadWithEnv(t *testing.T, env map[string]string) (config.Config, error) {
	t.Helper()
	for k, val := range env {
		t.Setenv(k, val)
	}
	return config.Load(config.NewViper())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWithEnv(t, baseEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.LeaseDuration != 300*time.Second {
		t.Fatalf("leaseDuration = %v, want 300s", cfg.LeaseDuration)
	}
	if cfg.ReaperInterval != 30*time.Second {
		t.Fatalf("reaperInterval = %v, want 30s", cfg.ReaperInterval)
	}
	if cfg.DefaultMaxAttempts != 3 {
		t.Fatalf("defaultMaxAttempts = %d, want 3", cfg.DefaultMaxAttempts)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	env := baseEnv()
	env["SPINE_PORT"] = "9000"
	env["SPINE_LEASE_DURATION_SECONDS"] = "5"
	env["SPINE_REAPER_INTERVAL_MS"] = "1000"

	cfg, err := loadWithEnv(t, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Port)
	}
	if cfg.LeaseDuration != 5*time.Second {
		t.Fatalf("leaseDuration = %v, want 5s", cfg.LeaseDuration)
	}
	if cfg.ReaperInterval != time.Second {
		t.Fatalf("reaperInterval = %v, want 1s", cfg.ReaperInterval)
	}
}

func TestLoad_TokenRotationMergesSingleAndCSV(t *testing.T) {
	env := baseEnv()
	env["SPINE_HEAD_TOKEN"] = "h1"
	env["SPINE_HEAD_TOKENS"] = "h2, h3,h1"

	cfg, err := loadWithEnv(t, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"h1", "h2", "h3"}
	if len(cfg.HeadTokens) != len(want) {
		t.Fatalf("headTokens = %v, want %v", cfg.HeadTokens, want)
	}
	for i, tok := range want {
		if cfg.HeadTokens[i] != tok {
			t.Fatalf("headTokens[%d] = %q, want %q", i, cfg.HeadTokens[i], tok)
		}
	}
}

func TestLoad_CSVOnlyIsEnough(t *testing.T) {
	env := map[string]string{
		"SPINE_HEAD_TOKENS":       "h1,h2",
		"SPINE_LEFT_CLAW_TOKENS":  "l1",
		"SPINE_RIGHT_CLAW_TOKENS": "r1",
	}
	cfg, err := loadWithEnv(t, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HeadTokens) != 2 {
		t.Fatalf("headTokens = %v, want 2 entries", cfg.HeadTokens)
	}
}

func TestLoad_EmptyRoleSetFailsStartup(t *testing.T) {
	env := map[string]string{
		"SPINE_HEAD_TOKEN":      "h1",
		"SPINE_LEFT_CLAW_TOKEN": "l1",
		// right-claw left empty
	}
	if _, err := loadWithEnv(t, env); err == nil {
		t.Fatalf("expected error for empty right-claw token set")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero port", func(c *config.Config) { c.Port = 0 }},
		{"empty data dir", func(c *config.Config) { c.DataDir = "" }},
		{"zero lease", func(c *config.Config) { c.LeaseDuration = 0 }},
		{"zero reaper interval", func(c *config.Config) { c.ReaperInterval = 0 }},
		{"zero max attempts", func(c *config.Config) { c.DefaultMaxAttempts = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.HeadTokens = []string{"h"}
			cfg.LeftClawTokens = []string{"l"}
			cfg.RightClawTokens = []string{"r"}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
