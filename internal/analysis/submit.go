package analysis

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"go.opentelemetry.io/otel/attribute"

	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/internal/transport"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

const OperationLocationHeader = "Operation-Location"

type urlSourceBody struct {
	URLSource string `json:"urlSource"`
}

// Submit starts an analysis. A 2xx response without a usable
// Operation-Location yields an empty handle and no error.
func (c *Client) Submit(ctx context.Context, req domain.AnalysisRequest, apiVersion string) (handle domain.OperationHandle, err error) {
	if err := req.Validate(); err != nil {
		return handle, err
	}
	kind := "file"
	if req.Source.IsURL() {
		kind = "url"
	}

	ctx, span := tracing.Start(ctx, "docintel.submit",
		attribute.String("docintel.model_id", req.ModelID),
		attribute.String("docintel.source", kind),
	)
	defer func() {
		metrics.SubmissionsTotal.WithLabelValues(req.ModelID, kind, metrics.Outcome(err)).Inc()
		tracing.End(span, err)
	}()

	httpReq, err := runtime.NewRequest(ctx, http.MethodPost, c.analyzeURL(req.ModelID, apiVersion))
	if err != nil {
		return handle, domain.InvalidInputf("build request: %v", err)
	}
	if req.Source.IsURL() {
		err = runtime.MarshalAsJSON(httpReq, urlSourceBody{URLSource: req.Source.URL})
	} else {
		err = httpReq.SetBody(streaming.NopCloser(bytes.NewReader(req.Source.Bytes)), "application/octet-stream")
	}
	if err != nil {
		return handle, domain.InvalidInputf("encode body: %v", err)
	}

	start := time.Now()
	resp, body, err := transport.Do(ctx, c.pipeline, "submit", httpReq)
	metrics.RequestLatencySeconds.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		return handle, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handle, transport.Rejected("submit", resp, body)
	}

	// http.Header lookups are case-insensitive.
	handle.OperationLocation = resp.Header.Get(OperationLocationHeader)
	if id, ok := ParseOperationLocation(handle.OperationLocation); ok {
		handle.ResultID = id
	}
	if !handle.Usable() {
		c.logger.Warn("submission accepted without a usable operation location",
			"model", req.ModelID, "status", resp.StatusCode, "header", handle.OperationLocation)
	} else {
		c.logger.Debug("submitted", "model", req.ModelID, "source", req.Source.Describe(), "result_id", handle.ResultID)
	}
	return handle, nil
}

// ParseOperationLocation extracts the result id: the last path segment of
// raw, with any query string removed.
func ParseOperationLocation(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "", false
	}
	p := strings.TrimRight(u.Path, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", false
	}
	id := p[i+1:]
	if id == "" {
		return "", false
	}
	return id, true
}
