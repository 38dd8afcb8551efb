package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/docintel/internal/backoff"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// Config holds runtime settings shared by the CLI and the emulator.
// Credentials are not part of it; see Profile and package credentials.
type Config struct {
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	LogFile   string `yaml:"logFile"`

	AuthMode   string `yaml:"authMode"`
	APIVersion string `yaml:"apiVersion"`

	PollIntervalSeconds    int    `yaml:"pollIntervalSeconds"`
	MaxWaitSeconds         int    `yaml:"maxWaitSeconds"`
	PollBackoff            string `yaml:"pollBackoff"`
	MaxPollIntervalSeconds int    `yaml:"maxPollIntervalSeconds"`
	RequestTimeoutSeconds  int    `yaml:"requestTimeoutSeconds"`
	BatchConcurrency       int    `yaml:"batchConcurrency"`

	CacheURL        string `yaml:"cacheUrl"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds"`

	PushgatewayURL string `yaml:"pushgatewayUrl"`

	TracingEnabled     bool    `yaml:"tracingEnabled"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint"`
	OTLPInsecure       bool    `yaml:"otlpInsecure"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`

	AzureStorageConnectionString string `yaml:"azureStorageConnectionString"`
	S3Endpoint                   string `yaml:"s3Endpoint"`
	S3Region                     string `yaml:"s3Region"`
	S3AccessKey                  string `yaml:"s3AccessKey"`
	S3SecretKey                  string `yaml:"s3SecretKey"`
	S3UseSSL                     bool   `yaml:"s3UseSsl"`

	Emulator EmulatorConfig `yaml:"emulator"`
}

type EmulatorConfig struct {
	Port             int    `yaml:"port"`
	Key              string `yaml:"key"`
	Audience         string `yaml:"audience"`
	PollsUntilDone   int    `yaml:"pollsUntilDone"`
	FailingModel     string `yaml:"failingModel"`
	BasePath         string `yaml:"basePath"`
	ResultTTLMinutes int    `yaml:"resultTtlMinutes"`
	// StoreURL selects the operation store: empty for in-process memory,
	// redis:// to share operations and throttle buckets across replicas.
	StoreURL          string `yaml:"storeUrl"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	BurstSize         int    `yaml:"burstSize"`
}

// LoadConfig reads path, then applies environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig for an optional file: an empty path or a
// missing file yields env overrides over defaults.
func LoadConfigOptional(path string) (*Config, error) {
	if strings.TrimSpace(path) != "" {
		c, err := LoadConfig(path)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, name string) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, name string) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.Env, "DOCINTEL_ENV")
	setString(&c.LogLevel, "DOCINTEL_LOG_LEVEL")
	setString(&c.LogFormat, "DOCINTEL_LOG_FORMAT")
	setString(&c.LogFile, "DOCINTEL_LOG_FILE")
	setString(&c.AuthMode, "DOCINTEL_AUTH_MODE")
	setString(&c.APIVersion, "DOCINTEL_API_VERSION")
	setInt(&c.PollIntervalSeconds, "DOCINTEL_POLL_INTERVAL_SECONDS")
	setInt(&c.MaxWaitSeconds, "DOCINTEL_MAX_WAIT_SECONDS")
	setString(&c.PollBackoff, "DOCINTEL_POLL_BACKOFF")
	setInt(&c.RequestTimeoutSeconds, "DOCINTEL_REQUEST_TIMEOUT_SECONDS")
	setInt(&c.BatchConcurrency, "DOCINTEL_BATCH_CONCURRENCY")
	setString(&c.CacheURL, "DOCINTEL_CACHE_URL")
	setInt(&c.CacheTTLSeconds, "DOCINTEL_CACHE_TTL_SECONDS")
	setString(&c.PushgatewayURL, "DOCINTEL_PUSHGATEWAY_URL")
	setBool(&c.TracingEnabled, "DOCINTEL_TRACING_ENABLED")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&c.OTLPInsecure, "OTEL_EXPORTER_OTLP_INSECURE")
	setString(&c.AzureStorageConnectionString, "AZURE_STORAGE_CONNECTION_STRING")
	setString(&c.S3Endpoint, "DOCINTEL_S3_ENDPOINT")
	setString(&c.S3Region, "DOCINTEL_S3_REGION")
	setString(&c.S3AccessKey, "DOCINTEL_S3_ACCESS_KEY")
	setString(&c.S3SecretKey, "DOCINTEL_S3_SECRET_KEY")
	setBool(&c.S3UseSSL, "DOCINTEL_S3_USE_SSL")

	setInt(&c.Emulator.Port, "PORT")
	setString(&c.Emulator.Key, "DOCINTEL_EMULATOR_KEY")
	setString(&c.Emulator.Audience, "DOCINTEL_EMULATOR_AUDIENCE")
	setInt(&c.Emulator.PollsUntilDone, "DOCINTEL_EMULATOR_POLLS_UNTIL_DONE")
	setString(&c.Emulator.FailingModel, "DOCINTEL_EMULATOR_FAILING_MODEL")
	setString(&c.Emulator.StoreURL, "DOCINTEL_EMULATOR_STORE_URL")
	setInt(&c.Emulator.RequestsPerMinute, "DOCINTEL_EMULATOR_REQUESTS_PER_MINUTE")
	setInt(&c.Emulator.BurstSize, "DOCINTEL_EMULATOR_BURST_SIZE")
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.AuthMode == "" {
		c.AuthMode = string(domain.AuthKey)
	}
	if c.APIVersion == "" {
		c.APIVersion = domain.DefaultAPIVersion
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = int(domain.DefaultPollInterval / time.Second)
	}
	if c.MaxWaitSeconds <= 0 {
		c.MaxWaitSeconds = int(domain.DefaultMaxWait / time.Second)
	}
	if c.PollBackoff == "" {
		c.PollBackoff = backoff.Fixed
	}
	if c.MaxPollIntervalSeconds <= 0 {
		c.MaxPollIntervalSeconds = int(domain.DefaultMaxInterval / time.Second)
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 60
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 86400
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		c.TracingSampleRatio = 1
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}

	if c.Emulator.Port == 0 {
		c.Emulator.Port = 8080
	}
	if c.Emulator.Audience == "" {
		c.Emulator.Audience = "https://cognitiveservices.azure.com"
	}
	if c.Emulator.PollsUntilDone <= 0 {
		c.Emulator.PollsUntilDone = 2
	}
	if c.Emulator.BasePath == "" {
		c.Emulator.BasePath = "/documentintelligence"
	}
	if c.Emulator.ResultTTLMinutes <= 0 {
		c.Emulator.ResultTTLMinutes = 60
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logLevel %q must be debug, info, warn or error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logFormat %q must be json or text", c.LogFormat))
	}
	switch domain.AuthMode(c.AuthMode) {
	case domain.AuthKey, domain.AuthEntra:
	default:
		errs = append(errs, fmt.Sprintf("authMode %q must be key or entra", c.AuthMode))
	}
	if !backoff.Valid(c.PollBackoff) {
		errs = append(errs, fmt.Sprintf("pollBackoff %q is not a known policy", c.PollBackoff))
	}
	if c.MaxPollIntervalSeconds < c.PollIntervalSeconds {
		errs = append(errs, "maxPollIntervalSeconds must be >= pollIntervalSeconds")
	}
	if c.CacheURL != "" {
		u, err := url.Parse(c.CacheURL)
		if err != nil || u.Scheme == "" {
			errs = append(errs, "cacheUrl must be a redis://, rediss:// or memory:// url")
		}
	}
	if c.PushgatewayURL != "" {
		u, err := url.Parse(c.PushgatewayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "pushgatewayUrl must be a valid http(s) URL")
		}
	}
	if c.Emulator.Port < 0 || c.Emulator.Port > 65535 {
		errs = append(errs, "emulator.port is out of range")
	}
	if !strings.HasPrefix(c.Emulator.BasePath, "/") {
		errs = append(errs, "emulator.basePath must start with /")
	}
	if c.Emulator.StoreURL != "" {
		u, err := url.Parse(c.Emulator.StoreURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, "emulator.storeUrl must be a redis:// or rediss:// url")
		}
	}
	if c.Emulator.RequestsPerMinute < 0 || c.Emulator.BurstSize < 0 {
		errs = append(errs, "emulator throttle settings must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WaitPolicy builds the polling policy; wait toggles polling at all.
func (c *Config) WaitPolicy(wait bool) domain.WaitPolicy {
	return domain.WaitPolicy{
		Enabled:      wait,
		PollInterval: time.Duration(c.PollIntervalSeconds) * time.Second,
		MaxWait:      time.Duration(c.MaxWaitSeconds) * time.Second,
		Backoff:      c.PollBackoff,
		MaxInterval:  time.Duration(c.MaxPollIntervalSeconds) * time.Second,
	}.Normalize()
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Emulator.ResultTTLMinutes) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
