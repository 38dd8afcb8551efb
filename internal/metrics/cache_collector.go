package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sizer reports how many terminal results a cache currently holds.
type Sizer interface {
	Len(ctx context.Context) (int64, error)
}

type cacheCollector struct {
	cache  Sizer
	logger *slog.Logger

	entriesDesc *prometheus.Desc
}

func newCacheCollector(cache Sizer, logger *slog.Logger) *cacheCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &cacheCollector{
		cache:  cache,
		logger: logger,
		entriesDesc: prometheus.NewDesc(
			"docintel_cache_entries",
			"Current number of cached terminal analysis results.",
			nil,
			nil,
		),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entriesDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := c.cache.Len(ctx)
	if err != nil {
		c.logger.Warn("cache size collection failed", "err", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.entriesDesc, prometheus.GaugeValue, float64(n))
}

// RegisterCacheCollector exposes the cache size on the default registry.
// Registering twice is a no-op.
func RegisterCacheCollector(cache Sizer, logger *slog.Logger) {
	if cache == nil {
		return
	}
	if err := prometheus.Register(newCacheCollector(cache, logger)); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("cache collector registration failed", "err", err)
		}
	}
}
