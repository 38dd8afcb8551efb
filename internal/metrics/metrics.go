package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "docintel"

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of analyze submissions, labeled by source kind and outcome.",
		},
		[]string{"model", "source", "outcome"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of result fetches, labeled by observed status.",
		},
		[]string{"model", "status"},
	)

	RequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Latency of single requests to the analysis service (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	WaitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Client-side time spent waiting for a result, labeled by final status.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"model", "status"},
	)

	BudgetExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_budget_exhausted_total",
			Help:      "Total number of waits that stopped because the wait budget ran out.",
		},
		[]string{"model"},
	)

	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of result exports, labeled by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)

	EmulatorThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emulator_throttled_total",
			Help:      "Total number of emulator requests rejected with 429, labeled by route.",
		},
		[]string{"route"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of terminal-result cache lookups, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		PollsTotal,
		RequestLatencySeconds,
		WaitDurationSeconds,
		BudgetExhaustedTotal,
		ExportsTotal,
		CacheLookupsTotal,
		EmulatorThrottledTotal,
	)
}

// Outcome maps an error to the outcome label value.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Push sends the default registry to a Prometheus Pushgateway. A CLI run is
// a batch job, so there is nothing to scrape.
func Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	p := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
