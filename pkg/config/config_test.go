package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/docintel/pkg/credentials"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("DOCINTEL_LOG_LEVEL", "debug")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel=debug from env, got %q", cfg.LogLevel)
	}
	if cfg.APIVersion != domain.DefaultAPIVersion {
		t.Errorf("Expected default api version, got %q", cfg.APIVersion)
	}
	if cfg.PollIntervalSeconds != 5 || cfg.MaxWaitSeconds != 300 {
		t.Errorf("Expected 5s/300s wait defaults, got %d/%d", cfg.PollIntervalSeconds, cfg.MaxWaitSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || cfg == nil {
		t.Fatalf("LoadConfigOptional with missing file = %v, %v", cfg, err)
	}
}

func TestLoadConfig_FileNotExist(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig requires the file to exist")
	}
}

func TestLoadConfigOptional_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
logLevel: info
apiVersion: "2024-11-30"
  invalid indentation here
`
	if err := os.WriteFile(path, []byte(invalidYAML), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := LoadConfigOptional(path); err == nil {
		t.Fatal("Expected error when loading invalid YAML, got nil")
	}
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
logLevel: info
logFormat: json
apiVersion: "2023-07-31"
pollIntervalSeconds: 2
maxWaitSeconds: 30
pollBackoff: linear
cacheUrl: "memory://"
emulator:
  port: 9000
  failingModel: broken-model
`
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	t.Setenv("DOCINTEL_MAX_WAIT_SECONDS", "45")
	t.Setenv("DOCINTEL_CACHE_URL", "redis://localhost:6379/1")
	t.Setenv("DOCINTEL_TRACING_ENABLED", "true")
	t.Setenv("PORT", "not-a-number")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LogFormat != "json" || cfg.APIVersion != "2023-07-31" || cfg.PollIntervalSeconds != 2 {
		t.Errorf("file values not loaded: %+v", cfg)
	}
	if cfg.MaxWaitSeconds != 45 {
		t.Errorf("Expected MaxWaitSeconds=45 from env, got %d", cfg.MaxWaitSeconds)
	}
	if cfg.CacheURL != "redis://localhost:6379/1" {
		t.Errorf("Expected cache url from env, got %q", cfg.CacheURL)
	}
	if !cfg.TracingEnabled {
		t.Error("Expected tracing enabled from env")
	}
	if cfg.Emulator.Port != 9000 {
		t.Errorf("invalid PORT should be ignored, got %d", cfg.Emulator.Port)
	}
	if cfg.Emulator.FailingModel != "broken-model" || cfg.Emulator.PollsUntilDone != 2 {
		t.Errorf("emulator config = %+v", cfg.Emulator)
	}

	p := cfg.WaitPolicy(true)
	want := domain.WaitPolicy{Enabled: true, PollInterval: 2 * time.Second, MaxWait: 45 * time.Second, Backoff: "linear", MaxInterval: 60 * time.Second}
	if p != want {
		t.Errorf("WaitPolicy() = %+v, want %+v", p, want)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.applyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
		{"auth mode", func(c *Config) { c.AuthMode = "basic" }, "authMode"},
		{"backoff", func(c *Config) { c.PollBackoff = "random" }, "pollBackoff"},
		{"intervals", func(c *Config) { c.PollIntervalSeconds = 120 }, "maxPollIntervalSeconds"},
		{"pushgateway", func(c *Config) { c.PushgatewayURL = "localhost:9091" }, "pushgatewayUrl"},
		{"cache", func(c *Config) { c.CacheURL = "localhost" }, "cacheUrl"},
		{"base path", func(c *Config) { c.Emulator.BasePath = "docintel" }, "basePath"},
		{"store url", func(c *Config) { c.Emulator.StoreURL = "memcached://x" }, "storeUrl"},
		{"throttle", func(c *Config) { c.Emulator.BurstSize = -1 }, "throttle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestProfilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	t.Setenv(EnvProfile, "")

	pf, path, err := LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles() on missing file error = %v", err)
	}
	if path != filepath.Join(dir, "config.yaml") || len(pf.Profiles) != 0 {
		t.Fatalf("LoadProfiles() = %+v, %q", pf, path)
	}

	pf.CurrentProfile = "work"
	pf.Profiles["work"] = Profile{Endpoint: "https://work.cognitiveservices.azure.com/", Key: "k-123", Model: "prebuilt-layout"}
	if err := SaveProfiles(pf, path); err != nil {
		t.Fatalf("SaveProfiles() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("profile file mode = %o, want 600", perm)
	}

	got, _, err := LoadProfiles()
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if got.CurrentProfile != "work" || got.Profiles["work"].Key != "k-123" {
		t.Errorf("LoadProfiles() = %+v", got)
	}
}

func TestResolveProfileName(t *testing.T) {
	pf := ProfileFile{CurrentProfile: "saved"}

	t.Setenv(EnvProfile, "")
	if got := ResolveProfileName(" flag ", pf); got != "flag" {
		t.Errorf("flag: got %q", got)
	}
	if got := ResolveProfileName("", pf); got != "saved" {
		t.Errorf("file: got %q", got)
	}
	if got := ResolveProfileName("", ProfileFile{}); got != "default" {
		t.Errorf("default: got %q", got)
	}
	t.Setenv(EnvProfile, "from-env")
	if got := ResolveProfileName("", pf); got != "from-env" {
		t.Errorf("env: got %q", got)
	}
}

func TestProfileAsCredentialSource(t *testing.T) {
	p := Profile{Endpoint: "https://x.example.com", Key: "secret"}
	creds, err := credentials.Resolve("", "", credentials.Chain{credentials.NewStore(), p})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if creds.Key != "secret" || creds.Endpoint != "https://x.example.com/" {
		t.Errorf("Resolve() = %+v", creds)
	}
	if _, ok := (Profile{}).Lookup(credentials.EnvKey); ok {
		t.Error("empty profile should not supply a key")
	}
}
