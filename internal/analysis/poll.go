package analysis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"go.opentelemetry.io/otel/attribute"

	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/internal/transport"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// GetResult performs a single status fetch. A 404 is reported as a
// StatusNotFound result, not as an error.
func (c *Client) GetResult(ctx context.Context, modelID, resultID, apiVersion string) (*domain.AnalysisResult, error) {
	if err := validateIDs(modelID, resultID); err != nil {
		return nil, err
	}
	return c.fetch(ctx, modelID, resultID, apiVersion)
}

// WaitForResult polls until the operation is terminal, the wait budget is
// spent, or ctx is done. Fetches are strictly sequential. When the budget
// runs out the last observed result is returned with BudgetExhausted set.
func (c *Client) WaitForResult(ctx context.Context, modelID, resultID, apiVersion string, policy domain.WaitPolicy) (res *domain.AnalysisResult, err error) {
	if err := validateIDs(modelID, resultID); err != nil {
		return nil, err
	}
	policy = policy.Normalize()

	ctx, span := tracing.Start(ctx, "docintel.wait",
		attribute.String("docintel.model_id", modelID),
		attribute.String("docintel.result_id", resultID),
		attribute.Bool("docintel.wait", policy.Enabled),
	)
	start := c.now()
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("docintel.status", string(res.Status)),
				attribute.Int("docintel.attempts", res.Attempts),
			)
			metrics.WaitDurationSeconds.WithLabelValues(modelID, string(res.Status)).Observe(c.now().Sub(start).Seconds())
		}
		tracing.End(span, err)
	}()

	for attempt := 1; ; attempt++ {
		res, err = c.fetch(ctx, modelID, resultID, apiVersion)
		if err != nil {
			return nil, err
		}
		res.Attempts = attempt
		if c.observer != nil {
			c.observer(res)
		}

		if res.Status.Terminal() || !policy.Enabled {
			return res, nil
		}
		if elapsed := c.now().Sub(start); elapsed > policy.MaxWait {
			res.BudgetExhausted = true
			res.Message = fmt.Sprintf("wait budget of %s exhausted after %d polls; last status %s", policy.MaxWait, attempt, res.Status)
			metrics.BudgetExhaustedTotal.WithLabelValues(modelID).Inc()
			c.logger.Warn("wait budget exhausted", "model", modelID, "result_id", resultID,
				"status", res.Status, "attempts", attempt, "elapsed", elapsed)
			return res, nil
		}

		delay := c.nextDelay(policy, attempt)
		c.logger.Debug("operation not finished", "result_id", resultID, "status", res.Status, "attempt", attempt, "next_poll", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("wait for result %s: %w", resultID, err)
		}
	}
}

func (c *Client) fetch(ctx context.Context, modelID, resultID, apiVersion string) (*domain.AnalysisResult, error) {
	req, err := runtime.NewRequest(ctx, http.MethodGet, c.resultURL(modelID, resultID, apiVersion))
	if err != nil {
		return nil, domain.InvalidInputf("build request: %v", err)
	}

	start := time.Now()
	resp, body, err := transport.Do(ctx, c.pipeline, "poll", req)
	metrics.RequestLatencySeconds.WithLabelValues("poll").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	res := &domain.AnalysisResult{
		ModelID:     modelID,
		ResultID:    resultID,
		RetrievedAt: c.now().UTC(),
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		res.Status = domain.StatusNotFound
		res.Message = fmt.Sprintf("analysis result %s not found for model %s", resultID, modelID)
		res.Payload = body
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, transport.Rejected("poll", resp, body)
	default:
		status, svcErr, err := domain.DecodeOperation(body)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", resultID, err)
		}
		res.Status = status
		res.Error = svcErr
		res.Payload = body
		if svcErr != nil {
			res.Message = svcErr.Code + ": " + svcErr.Message
		}
	}
	metrics.PollsTotal.WithLabelValues(modelID, string(res.Status)).Inc()
	return res, nil
}

func validateIDs(modelID, resultID string) error {
	if err := domain.ValidateModelID(modelID); err != nil {
		return err
	}
	if resultID == "" {
		return domain.InvalidInputf("result id is required")
	}
	return nil
}
