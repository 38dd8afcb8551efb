package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/osvaldoandrade/docintel/internal/analysis"
	"github.com/osvaldoandrade/docintel/internal/cache"
	"github.com/osvaldoandrade/docintel/internal/export"
	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/internal/transport"
	"github.com/osvaldoandrade/docintel/internal/workflow"
	"github.com/osvaldoandrade/docintel/pkg/config"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// Client is everything one CLI invocation needs to talk to the service.
type Client struct {
	Config   *config.Config
	Logger   *slog.Logger
	Analysis *analysis.Client
	Cache    cache.Cache
	Exporter *export.Exporter
	Runner   *workflow.Runner

	TracingShutdown func(context.Context) error
}

type ClientOption func(*clientSettings)

type clientSettings struct {
	httpClient *http.Client
	analysis   []analysis.Option
}

// WithHTTPClient replaces the transport's HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(s *clientSettings) { s.httpClient = hc }
}

// WithAnalysisOptions forwards options to the analysis client, e.g. a poll
// observer.
func WithAnalysisOptions(opts ...analysis.Option) ClientOption {
	return func(s *clientSettings) { s.analysis = append(s.analysis, opts...) }
}

// NewClient wires transport, analysis client, cache, exporter and tracing for
// creds. Exported documents and text summaries go to stdout.
func NewClient(ctx context.Context, cfg *config.Config, creds domain.Credentials, stdout io.Writer, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var s clientSettings
	for _, o := range opts {
		o(&s)
	}
	hc := s.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout()}
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "docintel",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}

	aopts := append([]analysis.Option{analysis.WithLogger(logger)}, s.analysis...)
	ac, err := analysis.New(creds, transport.Options{HTTPClient: hc, Logger: logger}, aopts...)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	c, err := cache.Open(cfg.CacheURL, cfg.CacheTTL())
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if c != nil {
		metrics.RegisterCacheCollector(c, logger)
	}

	exp := export.New(export.Options{
		Stdout:                stdout,
		AzureConnectionString: cfg.AzureStorageConnectionString,
		S3: export.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		},
		Logger: logger,
	})

	return &Client{
		Config:          cfg,
		Logger:          logger,
		Analysis:        ac,
		Cache:           c,
		Exporter:        exp,
		Runner:          workflow.NewRunner(ac, c, exp, logger),
		TracingShutdown: shutdown,
	}, nil
}

// Options builds workflow options from the config and the per-command
// overrides.
func (c *Client) Options(wait bool, output string, strict bool) workflow.Options {
	return workflow.Options{
		APIVersion: c.Config.APIVersion,
		Policy:     c.Config.WaitPolicy(wait),
		Output:     output,
		Strict:     strict,
	}
}

// Close flushes traces, pushes metrics when a gateway is configured, and
// releases the cache.
func (c *Client) Close(ctx context.Context, job string) error {
	var errs []error
	if c.TracingShutdown != nil {
		errs = append(errs, c.TracingShutdown(ctx))
	}
	errs = append(errs, metrics.Push(ctx, c.Config.PushgatewayURL, job, map[string]string{"env": c.Config.Env}))
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	return errors.Join(errs...)
}
