// Package workflow chains submission, polling, caching and export into the
// operations exposed by the command line.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/osvaldoandrade/docintel/internal/cache"
	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

var (
	// ErrBudgetExhausted is returned in strict mode when polling stopped
	// before a terminal status.
	ErrBudgetExhausted = errors.New("wait budget exhausted")
	// ErrNoOperation means the service accepted a submission without a
	// usable operation location, so there is nothing to poll.
	ErrNoOperation = errors.New("submission returned no operation location")
	// ErrAnalysisFailed means the operation reached a failed or notFound
	// terminal status during a chained analyze.
	ErrAnalysisFailed = errors.New("analysis failed")
)

// Analyzer is the submit-and-poll client.
type Analyzer interface {
	Submit(ctx context.Context, req domain.AnalysisRequest, apiVersion string) (domain.OperationHandle, error)
	WaitForResult(ctx context.Context, modelID, resultID, apiVersion string, policy domain.WaitPolicy) (*domain.AnalysisResult, error)
}

type Exporter interface {
	Export(ctx context.Context, output string, res *domain.AnalysisResult) (string, error)
}

type Options struct {
	APIVersion string
	Policy     domain.WaitPolicy
	// Output is an export destination; empty skips export.
	Output string
	// Strict turns an exhausted wait budget into ErrBudgetExhausted.
	Strict bool
}

// Outcome is what one analyze run produced, including partial progress when
// a later step failed.
type Outcome struct {
	Source   string
	Handle   domain.OperationHandle
	Result   *domain.AnalysisResult
	Location string
	Duration time.Duration
	Err      error
}

type Runner struct {
	client   Analyzer
	cache    cache.Cache
	exporter Exporter
	logger   *slog.Logger
}

// NewRunner wires the steps. c and exp may be nil.
func NewRunner(client Analyzer, c cache.Cache, exp Exporter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, cache: c, exporter: exp, logger: logger.With("component", "workflow")}
}

// Submit starts an analysis and logs, but does not fail on, an unusable
// handle.
func (r *Runner) Submit(ctx context.Context, req domain.AnalysisRequest, opts Options) (domain.OperationHandle, error) {
	return r.client.Submit(ctx, req, opts.APIVersion)
}

// Result returns the result of an existing operation. A cached terminal
// result is returned without contacting the service.
func (r *Runner) Result(ctx context.Context, modelID, resultID string, opts Options) (*Outcome, error) {
	out := &Outcome{Handle: domain.OperationHandle{ResultID: resultID}}
	start := time.Now()
	defer func() { out.Duration = time.Since(start) }()

	if res := r.cached(ctx, modelID, resultID); res != nil {
		out.Result = res
	} else {
		res, err := r.await(ctx, modelID, resultID, opts)
		if err != nil {
			out.Err = err
			return out, err
		}
		out.Result = res
	}
	if err := r.finish(ctx, out, opts); err != nil {
		return out, err
	}
	return out, nil
}

// Analyze chains submit, wait and export. Any failing step stops the chain
// and its error is returned unchanged in meaning.
func (r *Runner) Analyze(ctx context.Context, req domain.AnalysisRequest, opts Options) (out *Outcome, err error) {
	out = &Outcome{Source: req.Source.Describe()}
	start := time.Now()

	ctx, span := tracing.Start(ctx, "docintel.analyze",
		attribute.String("docintel.model_id", req.ModelID),
		attribute.String("docintel.source", out.Source),
	)
	defer func() {
		out.Duration = time.Since(start)
		out.Err = err
		tracing.End(span, err)
	}()

	handle, err := r.client.Submit(ctx, req, opts.APIVersion)
	if err != nil {
		return out, err
	}
	out.Handle = handle
	if !handle.Usable() {
		return out, ErrNoOperation
	}

	res, err := r.await(ctx, req.ModelID, handle.ResultID, opts)
	if err != nil {
		return out, err
	}
	out.Result = res
	if err := r.finish(ctx, out, opts); err != nil {
		return out, err
	}

	switch res.Status {
	case domain.StatusFailed, domain.StatusNotFound:
		msg := res.Message
		if res.Error != nil {
			msg = res.Error.Code + ": " + res.Error.Message
		}
		return out, fmt.Errorf("%w: result %s: %s", ErrAnalysisFailed, res.ResultID, msg)
	}
	return out, nil
}

func (r *Runner) await(ctx context.Context, modelID, resultID string, opts Options) (*domain.AnalysisResult, error) {
	res, err := r.client.WaitForResult(ctx, modelID, resultID, opts.APIVersion, opts.Policy)
	if err != nil {
		return nil, err
	}
	if r.cache != nil && cache.Cacheable(res) {
		if err := r.cache.Put(ctx, res); err != nil {
			r.logger.Warn("cache put failed", "result_id", resultID, "err", err)
		}
	}
	return res, nil
}

func (r *Runner) cached(ctx context.Context, modelID, resultID string) *domain.AnalysisResult {
	if r.cache == nil {
		return nil
	}
	res, ok, err := r.cache.Get(ctx, modelID, resultID)
	switch {
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("cache lookup failed", "result_id", resultID, "err", err)
		return nil
	case !ok:
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	r.logger.Debug("cache hit", "result_id", resultID, "status", res.Status)
	return res
}

// finish exports the result and applies strict mode.
func (r *Runner) finish(ctx context.Context, out *Outcome, opts Options) error {
	if opts.Output != "" && r.exporter != nil {
		loc, err := r.exporter.Export(ctx, opts.Output, out.Result)
		if err != nil {
			out.Err = err
			return err
		}
		out.Location = loc
	}
	if opts.Strict && out.Result.BudgetExhausted {
		err := fmt.Errorf("%w: result %s still %s after %d polls", ErrBudgetExhausted, out.Result.ResultID, out.Result.Status, out.Result.Attempts)
		out.Err = err
		return err
	}
	return nil
}
