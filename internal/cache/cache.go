// Package cache keeps terminal analysis results so a finished operation is
// not polled again.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

const DefaultTTL = 24 * time.Hour

// Cache stores terminal results keyed by model and result id. Non-terminal
// results, budget-exhausted results and notFound results are never stored.
type Cache interface {
	Get(ctx context.Context, modelID, resultID string) (*domain.AnalysisResult, bool, error)
	Put(ctx context.Context, res *domain.AnalysisResult) error
	Len(ctx context.Context) (int64, error)
	Close() error
}

// Cacheable reports whether res may be stored.
func Cacheable(res *domain.AnalysisResult) bool {
	if res == nil || res.BudgetExhausted || res.ResultID == "" {
		return false
	}
	return res.Status == domain.StatusSucceeded || res.Status == domain.StatusFailed
}

// Open builds a cache from a url. An empty url disables caching and returns
// a nil Cache. Supported schemes: memory://, redis://, rediss://.
func Open(rawURL string, ttl time.Duration) (Cache, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem":
		return NewMemory(ttl), nil
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedis(redis.NewClient(opts), ttl), nil
	default:
		return nil, fmt.Errorf("unsupported cache scheme %q", u.Scheme)
	}
}

func entryKey(modelID, resultID string) string {
	return modelID + ":" + resultID
}
