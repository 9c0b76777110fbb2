package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Port: 8080, LogLevel: "info"}

	updated := cfg.ApplyOverrides(map[string]string{
		"port":        "9090",
		"loglevel":    "debug",
		"notafield":   "ignored",
		"corsallowedorigins": "a.example.com,b.example.com",
	})

	if cfg.Port != 9090 {
		t.Errorf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %s", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("expected 2 cors origins, got %v", cfg.CORSAllowedOrigins)
	}

	want := map[string]bool{"Port": true, "LogLevel": true, "CORSAllowedOrigins": true}
	if len(updated) != len(want) {
		t.Fatalf("expected %d updated fields, got %v", len(want), updated)
	}
	for _, name := range updated {
		if !want[name] {
			t.Errorf("unexpected updated field %q", name)
		}
	}
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Env: "production", JWTSecret: "", CORSAllowedOrigins: []string{"*"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty JWT secret in production")
	}

	cfg = &Config{Env: "production", JWTSecret: "s3cret", CORSAllowedOrigins: []string{"*"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for wildcard CORS in production")
	}

	cfg = &Config{Env: "production", JWTSecret: "s3cret", CORSAllowedOrigins: []string{"https://app.example.com"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
