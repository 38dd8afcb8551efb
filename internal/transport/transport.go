// Package transport builds the HTTP pipeline used to talk to the analysis
// service.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

const (
	moduleName    = "docintel"
	moduleVersion = "v0.3.0"

	KeyHeader   = "Ocp-Apim-Subscription-Key"
	EntraScope  = "https://cognitiveservices.azure.com/.default"
	userAgentID = "docintel-cli"
)

type Options struct {
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// TokenCredential overrides DefaultAzureCredential in entra mode.
	TokenCredential azcore.TokenCredential
	Logger          *slog.Logger
}

// NewPipeline returns an azcore pipeline authenticated for creds. Retries are
// disabled: every call is attempted exactly once and failures surface to the
// caller.
func NewPipeline(creds domain.Credentials, opts Options) (runtime.Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	insecure := strings.HasPrefix(strings.ToLower(creds.Endpoint), "http://")
	if insecure {
		logger.Warn("sending credentials over plain http", "endpoint", creds.Endpoint)
	}

	var auth policy.Policy
	switch creds.Mode() {
	case domain.AuthKey:
		if creds.Key == "" {
			return runtime.Pipeline{}, fmt.Errorf("%w: key", domain.ErrMissingCredential)
		}
		auth = runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential(creds.Key), KeyHeader, &runtime.KeyCredentialPolicyOptions{
			InsecureAllowCredentialWithHTTP: insecure,
		})
	case domain.AuthEntra:
		cred := opts.TokenCredential
		if cred == nil {
			dac, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return runtime.Pipeline{}, fmt.Errorf("%w: entra credential: %v", domain.ErrMissingCredential, err)
			}
			cred = dac
		}
		auth = runtime.NewBearerTokenPolicy(cred, []string{EntraScope}, &policy.BearerTokenOptions{
			InsecureAllowCredentialWithHTTP: insecure,
		})
	default:
		return runtime.Pipeline{}, domain.InvalidInputf("auth mode %q", creds.AuthMode)
	}

	return runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerCall:  []policy.Policy{traceContextPolicy{}},
		PerRetry: []policy.Policy{auth},
	}, &policy.ClientOptions{
		Transport: hc,
		Retry:     policy.RetryOptions{MaxRetries: -1},
		Telemetry: policy.TelemetryOptions{ApplicationID: userAgentID},
	}), nil
}

// traceContextPolicy propagates the caller's span to the service.
type traceContextPolicy struct{}

func (traceContextPolicy) Do(req *policy.Request) (*http.Response, error) {
	raw := req.Raw()
	tracing.InjectHeaders(raw.Context(), raw.Header)
	return req.Next()
}

// Do sends req and classifies the outcome: a nil response with a non-nil
// error is always a *domain.TransportError (or the context error).
func Do(ctx context.Context, pl runtime.Pipeline, op string, req *policy.Request) (*http.Response, []byte, error) {
	resp, err := pl.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, nil, &domain.TransportError{Op: op, Err: err}
	}
	body, err := runtime.Payload(resp)
	if err != nil {
		return resp, nil, &domain.TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp, body, nil
}

// Rejected builds the error for a non-2xx response.
func Rejected(op string, resp *http.Response, body []byte) error {
	code := resp.Header.Get("x-ms-error-code")
	if code == "" {
		code = errorCode(body)
	}
	return &domain.RequestRejected{
		Op:         op,
		StatusCode: resp.StatusCode,
		ErrorCode:  code,
		Body:       body,
	}
}
