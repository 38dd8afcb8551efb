package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type BatchReport struct {
	RunID     string
	Outcomes  []*Outcome
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Batch analyzes every request with at most concurrency in flight. A failing
// document does not cancel the others; each outcome carries its own error.
// onDone, if set, is called once per document from a single goroutine at a
// time.
func (r *Runner) Batch(ctx context.Context, reqs []domain.AnalysisRequest, opts Options, concurrency int, onDone func(*Outcome)) *BatchReport {
	if concurrency <= 0 {
		concurrency = 1
	}
	report := &BatchReport{
		RunID:    uuid.NewString(),
		Outcomes: make([]*Outcome, len(reqs)),
	}
	logger := r.logger.With("run_id", report.RunID)
	logger.Info("batch started", "documents", len(reqs), "concurrency", concurrency)
	start := time.Now()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := r.Analyze(ctx, req, opts)
			if out == nil {
				out = &Outcome{Source: req.Source.Describe(), Err: err}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Outcomes[i] = out
			if err != nil {
				report.Failed++
				logger.Warn("document failed", "source", out.Source, "err", err)
			} else {
				report.Succeeded++
			}
			if onDone != nil {
				onDone(out)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	logger.Info("batch finished", "succeeded", report.Succeeded, "failed", report.Failed, "duration", report.Duration)
	return report
}
