package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var envVars = []string{
	"CAREERFLOW_PROVIDER", "CAREERFLOW_MODEL", "CAREERFLOW_PIPELINE", "CAREERFLOW_TEMPERATURE",
	"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "DEEPSEEK_API_KEY",
	"SERPER_API_KEY", "TAVILY_API_KEY", "CAREERFLOW_SEARCH_PROVIDER", "KAFKA_BROKERS",
	"CAREERFLOW_ADDR", "PORT", "DATABASE_URL", "CAREERFLOW_MAX_UPLOAD_BYTES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider != "google" || cfg.Model != "gemini-2.5-flash" || cfg.Pipeline != "basic" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Server.MaxUploadBytes != 16<<20 || cfg.Embedding.ChunkSize != 800 || cfg.Search.Provider != "serper" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConfigDir != filepath.Join(home, ".careerflow") {
		t.Fatalf("unexpected config dir: %s", cfg.ConfigDir)
	}
}

func TestConfigFileThenEnv(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearEnv(t)

	configDir := filepath.Join(home, ".careerflow")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte(`provider: anthropic
model: claude-sonnet-4-20250514
temperature: 0.2
models:
  fast: gemini-2.5-flash
api_keys:
  anthropic: file-ant
  google: file-google
broker:
  kafka_brokers: [file:9092]
`)
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GOOGLE_API_KEY", "env-google")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("CAREERFLOW_TEMPERATURE", "0.9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.APIKeys.Anthropic != "file-ant" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.APIKeys.Google != "env-google" {
		t.Fatalf("expected env key to win, got %s", cfg.APIKeys.Google)
	}
	if cfg.Temperature != 0.9 {
		t.Fatalf("expected env temperature, got %v", cfg.Temperature)
	}
	if strings.Join(cfg.Broker.KafkaBrokers, ",") != "a:9092,b:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Broker.KafkaBrokers)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Embedding.Collection != "resumes" {
		t.Fatalf("expected default collection, got %s", cfg.Embedding.Collection)
	}
	if cfg.ResolveModel("fast") != "gemini-2.5-flash" || cfg.ResolveModel("other") != "other" {
		t.Fatalf("unexpected alias resolution")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigExplicitPathMustExist(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("provider: [unclosed"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestConfigSearchKeyFollowsProvider(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearEnv(t)
	t.Setenv("CAREERFLOW_SEARCH_PROVIDER", "tavily")
	t.Setenv("SERPER_API_KEY", "serper")
	t.Setenv("TAVILY_API_KEY", "tavily")
	t.Setenv("PORT", "9000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.APIKey != "tavily" {
		t.Fatalf("expected tavily key, got %s", cfg.Search.APIKey)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("expected PORT to set addr, got %s", cfg.Server.Addr)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) {}, "no API key"},
		{"unknown provider", func(c *Config) { c.Provider = "hal" }, "unknown provider"},
		{"temperature", func(c *Config) { c.Provider = "mock"; c.Temperature = 3 }, "temperature"},
		{"overlap", func(c *Config) { c.Provider = "mock"; c.Embedding.ChunkOverlap = 800 }, "chunk_overlap"},
		{"search", func(c *Config) { c.Provider = "mock"; c.Search.Provider = "bing" }, "search provider"},
		{"retry", func(c *Config) { c.Provider = "mock"; c.Retry.MaxBackoffMs = 1 }, "retry"},
		{"upload", func(c *Config) { c.Provider = "mock"; c.Server.MaxUploadBytes = 0 }, "max_upload_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}

	cfg := Default()
	cfg.Provider = "mock"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("mock provider needs no key: %v", err)
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
