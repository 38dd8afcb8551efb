// Package analysis implements the submit-and-poll protocol of the document
// analysis service.
package analysis

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/osvaldoandrade/docintel/internal/backoff"
	"github.com/osvaldoandrade/docintel/internal/transport"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// Observer is called after every fetch made by WaitForResult.
type Observer func(res *domain.AnalysisResult)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client talks to one analysis endpoint. It is safe for concurrent use.
type Client struct {
	creds    domain.Credentials
	pipeline runtime.Pipeline
	logger   *slog.Logger
	now      func() time.Time
	sleep    Sleeper
	observer Observer

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the base logger; nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now, used for the wait budget and RetrievedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleeper replaces the delay between polls.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithObserver registers o to receive every fetched result.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a Client for creds using the given transport options.
func New(creds domain.Credentials, topts transport.Options, opts ...Option) (*Client, error) {
	pl, err := transport.NewPipeline(creds, topts)
	if err != nil {
		return nil, err
	}
	return NewWithPipeline(creds, pl, opts...), nil
}

// NewWithPipeline creates a Client over an existing azcore pipeline.
func NewWithPipeline(creds domain.Credentials, pl runtime.Pipeline, opts ...Option) *Client {
	c := &Client{
		creds:    creds,
		pipeline: pl,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepOrDone,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "analysis")
	return c
}

// Endpoint returns the normalized base URL the client talks to.
func (c *Client) Endpoint() string { return c.creds.Endpoint }

func (c *Client) analyzeURL(modelID, apiVersion string) string {
	return c.creds.Endpoint + "documentModels/" + url.PathEscape(modelID) + ":analyze?" + versionQuery(apiVersion)
}

func (c *Client) resultURL(modelID, resultID, apiVersion string) string {
	return c.creds.Endpoint + "documentModels/" + url.PathEscape(modelID) +
		"/analyzeResults/" + url.PathEscape(resultID) + "?" + versionQuery(apiVersion)
}

// nextDelay computes the wait before the next poll. rng is shared by every
// goroutine using the client.
func (c *Client) nextDelay(policy domain.WaitPolicy, attempt int) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return backoff.Compute(policy.Backoff, policy.PollInterval, policy.MaxInterval, attempt, c.rng)
}

func versionQuery(v string) string {
	if v == "" {
		v = domain.DefaultAPIVersion
	}
	return url.Values{"api-version": []string{v}}.Encode()
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
