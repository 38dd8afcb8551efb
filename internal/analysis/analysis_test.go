package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/docintel/internal/transport"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type recorded struct {
	method      string
	path        string
	query       string
	contentType string
	body        []byte
}

type fakeService struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r *http.Request, n int)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method:      r.Method,
		path:        r.URL.Path,
		query:       r.URL.RawQuery,
		contentType: r.Header.Get("Content-Type"),
		body:        body,
	})
	n := len(f.requests)
	f.mu.Unlock()
	f.handle(w, r, n)
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeService) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

func newTestClient(t *testing.T, svc *fakeService, opts ...Option) (*Client, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	clock := &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithSleeper(clock.Sleep)}, opts...)
	c, err := New(domain.Credentials{Key: "test-key", Endpoint: srv.URL + "/documentintelligence/"}, transport.Options{}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, clock
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"status": status, "createdDateTime": "2026-10-15T09:00:00Z"}
	if status == "succeeded" {
		body["analyzeResult"] = map[string]any{"modelId": "prebuilt-read", "content": "final", "pages": []any{map[string]any{"pageNumber": 1}}}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestSubmitURLSource(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.Header().Set("Operation-Location", "https://host/documentintelligence/documentModels/prebuilt-read/analyzeResults/ABC123?api-version=x")
		w.WriteHeader(http.StatusAccepted)
	}}
	c, _ := newTestClient(t, svc)

	h, err := c.Submit(context.Background(), domain.AnalysisRequest{
		ModelID: "prebuilt-read",
		Source:  domain.URLSource("https://example.com/invoice.pdf"),
	}, "2024-11-30")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.ResultID != "ABC123" || !h.Usable() {
		t.Errorf("Submit() handle = %+v, want ABC123", h)
	}
	if svc.count() != 1 {
		t.Fatalf("requests = %d, want exactly 1", svc.count())
	}

	got := svc.last()
	if got.method != http.MethodPost {
		t.Errorf("method = %s", got.method)
	}
	if got.path != "/documentintelligence/documentModels/prebuilt-read:analyze" {
		t.Errorf("path = %s", got.path)
	}
	if got.query != "api-version=2024-11-30" {
		t.Errorf("query = %s", got.query)
	}
	if !strings.HasPrefix(got.contentType, "application/json") {
		t.Errorf("content type = %s, want json", got.contentType)
	}
	var body map[string]string
	if err := json.Unmarshal(got.body, &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if len(body) != 1 || body["urlSource"] != "https://example.com/invoice.pdf" {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitFileSourceSendsRawBytes(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.Header().Set("Operation-Location", "https://host/documentModels/prebuilt-layout/analyzeResults/F1")
		w.WriteHeader(http.StatusAccepted)
	}}
	c, _ := newTestClient(t, svc)

	doc := []byte("%PDF-1.7 binary \x00\x01 payload")
	h, err := c.Submit(context.Background(), domain.AnalysisRequest{
		ModelID: "prebuilt-layout",
		Source:  domain.Source{Bytes: doc, Path: "doc.pdf"},
	}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.ResultID != "F1" {
		t.Errorf("ResultID = %q", h.ResultID)
	}
	got := svc.last()
	if got.contentType != "application/octet-stream" {
		t.Errorf("content type = %q, want octet-stream", got.contentType)
	}
	if !bytes.Equal(got.body, doc) {
		t.Errorf("body = %q, want raw document bytes", got.body)
	}
	if got.query != "api-version="+domain.DefaultAPIVersion {
		t.Errorf("query = %s, want default api version", got.query)
	}
}

func TestSubmitHeaderCaseInsensitive(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		// Bypass canonicalization so the header goes out in lower case.
		w.Header()["operation-location"] = []string{"https://host/documentModels/m1/analyzeResults/lower-1?api-version=x"}
		w.WriteHeader(http.StatusAccepted)
	}}
	c, _ := newTestClient(t, svc)

	h, err := c.Submit(context.Background(), domain.AnalysisRequest{ModelID: "m1", Source: domain.URLSource("https://example.com/a.pdf")}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.ResultID != "lower-1" {
		t.Errorf("ResultID = %q, want lower-1", h.ResultID)
	}
}

func TestSubmitMissingHeaderIsUnusable(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusAccepted)
	}}
	c, _ := newTestClient(t, svc)

	h, err := c.Submit(context.Background(), domain.AnalysisRequest{ModelID: "prebuilt-read", Source: domain.URLSource("https://example.com/a.pdf")}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.Usable() {
		t.Errorf("handle = %+v, want unusable", h)
	}
	if svc.count() != 1 {
		t.Errorf("requests = %d, want 1 (no retry)", svc.count())
	}
}

func TestSubmitRejected(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidRequest","message":"bad url"}}`))
	}}
	c, _ := newTestClient(t, svc)

	_, err := c.Submit(context.Background(), domain.AnalysisRequest{ModelID: "prebuilt-read", Source: domain.URLSource("https://example.com/a.pdf")}, "")
	var rr *domain.RequestRejected
	if !errors.As(err, &rr) {
		t.Fatalf("Submit() error = %v, want RequestRejected", err)
	}
	if rr.StatusCode != 400 || rr.ErrorCode != "InvalidRequest" || !strings.Contains(string(rr.Body), "bad url") {
		t.Errorf("RequestRejected = %+v", rr)
	}
	if svc.count() != 1 {
		t.Errorf("requests = %d, want 1", svc.count())
	}
}

func TestSubmitInvalidInputMakesNoRequest(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusAccepted)
	}}
	c, _ := newTestClient(t, svc)

	tests := []struct {
		name string
		req  domain.AnalysisRequest
	}{
		{"bad model id", domain.AnalysisRequest{ModelID: "bad model", Source: domain.URLSource("https://example.com/a.pdf")}},
		{"no source", domain.AnalysisRequest{ModelID: "prebuilt-read"}},
		{"both sources", domain.AnalysisRequest{ModelID: "prebuilt-read", Source: domain.Source{URL: "https://example.com/a.pdf", Bytes: []byte("x")}}},
		{"malformed url", domain.AnalysisRequest{ModelID: "prebuilt-read", Source: domain.URLSource("example.com/a.pdf")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tt.req, "")
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("Submit() error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if svc.count() != 0 {
		t.Errorf("requests = %d, want 0", svc.count())
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/"
	srv.Close()

	c, err := New(domain.Credentials{Key: "k", Endpoint: endpoint}, transport.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = c.Submit(context.Background(), domain.AnalysisRequest{ModelID: "prebuilt-read", Source: domain.URLSource("https://example.com/a.pdf")}, "")
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Submit() error = %v, want ErrTransport", err)
	}
}

func TestParseOperationLocation(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://host/documentModels/m/analyzeResults/ABC123?api-version=x", "ABC123", true},
		{"https://host/documentModels/m/analyzeResults/ABC123", "ABC123", true},
		{"https://host/documentModels/m/analyzeResults/ABC123/", "ABC123", true},
		{"/documentModels/m/analyzeResults/r-9?x=1", "r-9", true},
		{"", "", false},
		{"   ", "", false},
		{"https://host", "", false},
		{"https://host/", "", false},
		{"no-slash", "", false},
		{"https://host/%zz", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseOperationLocation(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseOperationLocation(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWaitForResultSingleShot(t *testing.T) {
	for _, status := range []string{"notStarted", "running", "succeeded", "failed"} {
		t.Run(status, func(t *testing.T) {
			svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
				writeStatus(w, status)
			}}
			c, _ := newTestClient(t, svc)

			res, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.WaitPolicy{Enabled: false})
			if err != nil {
				t.Fatalf("WaitForResult() error = %v", err)
			}
			if svc.count() != 1 {
				t.Errorf("fetches = %d, want exactly 1", svc.count())
			}
			if string(res.Status) != status || res.Attempts != 1 {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestWaitForResultPollsUntilTerminal(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, n int) {
		if n < 3 {
			writeStatus(w, "running")
			return
		}
		writeStatus(w, "succeeded")
	}}
	var sleeps []time.Duration
	clock := &fakeClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	c, _ := newTestClient(t, svc, WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return clock.Sleep(ctx, d)
	}), WithClock(clock.Now))

	var observed []domain.AnalysisStatus
	c.observer = func(res *domain.AnalysisResult) { observed = append(observed, res.Status) }

	res, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "2024-11-30", domain.WaitPolicy{
		Enabled:      true,
		PollInterval: 5 * time.Second,
		MaxWait:      300 * time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if svc.count() != 3 {
		t.Errorf("fetches = %d, want 3", svc.count())
	}
	if res.Status != domain.StatusSucceeded || res.Attempts != 3 || res.BudgetExhausted {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(string(res.Payload), `"content":"final"`) {
		t.Errorf("payload = %s, want the third response", res.Payload)
	}
	if len(sleeps) != 2 || sleeps[0] != 5*time.Second || sleeps[1] != 5*time.Second {
		t.Errorf("sleeps = %v, want two fixed 5s delays", sleeps)
	}
	if fmt.Sprint(observed) != "[running running succeeded]" {
		t.Errorf("observed = %v", observed)
	}
	got := svc.last()
	if got.method != http.MethodGet || got.path != "/documentintelligence/documentModels/prebuilt-read/analyzeResults/R1" || got.query != "api-version=2024-11-30" {
		t.Errorf("poll request = %+v", got)
	}
}

func TestWaitForResultBudgetExhausted(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		writeStatus(w, "running")
	}}
	c, _ := newTestClient(t, svc)

	res, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.WaitPolicy{
		Enabled:      true,
		PollInterval: 5 * time.Second,
		MaxWait:      12 * time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForResult() error = %v, want soft stop", err)
	}
	if !res.BudgetExhausted || res.Status != domain.StatusRunning {
		t.Errorf("result = %+v, want running with budget exhausted", res)
	}
	if svc.count() != 4 || res.Attempts != 4 {
		t.Errorf("fetches = %d attempts = %d, want 4", svc.count(), res.Attempts)
	}
	if res.Message == "" {
		t.Error("expected an explanatory message")
	}
}

func TestWaitForResultNotFoundIsNotRetried(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NotFound"}}`))
	}}
	c, _ := newTestClient(t, svc)

	res, err := c.WaitForResult(context.Background(), "prebuilt-read", "gone", "", domain.DefaultWaitPolicy())
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if res.Status != domain.StatusNotFound || res.Message == "" {
		t.Errorf("result = %+v", res)
	}
	if svc.count() != 1 {
		t.Errorf("fetches = %d, want 1", svc.count())
	}
}

func TestWaitForResultRejectedPropagates(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"401","message":"Access denied"}}`))
	}}
	c, _ := newTestClient(t, svc)

	_, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	var rr *domain.RequestRejected
	if !errors.As(err, &rr) || rr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("WaitForResult() error = %v, want RequestRejected(401)", err)
	}
	if svc.count() != 1 {
		t.Errorf("fetches = %d, want 1", svc.count())
	}
}

func TestWaitForResultFailedCarriesServiceError(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		_, _ = w.Write([]byte(`{"status":"failed","error":{"code":"InvalidContent","message":"corrupted file"}}`))
	}}
	c, _ := newTestClient(t, svc)

	res, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if res.Status != domain.StatusFailed || res.Error == nil || res.Error.Code != "InvalidContent" {
		t.Errorf("result = %+v", res)
	}
}

func TestWaitForResultMalformedBody(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		_, _ = w.Write([]byte(`{"state":"ok"}`))
	}}
	c, _ := newTestClient(t, svc)

	_, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Errorf("WaitForResult() error = %v, want ErrMalformedResponse", err)
	}
}

func TestWaitForResultIdempotentForTerminal(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		writeStatus(w, "succeeded")
	}}
	c, _ := newTestClient(t, svc)

	first, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	if err != nil {
		t.Fatalf("first WaitForResult() error = %v", err)
	}
	second, err := c.WaitForResult(context.Background(), "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	if err != nil {
		t.Fatalf("second WaitForResult() error = %v", err)
	}
	if first.Status != second.Status || !bytes.Equal(first.Payload, second.Payload) {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestWaitForResultCanceledDuringDelay(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		writeStatus(w, "running")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, svc, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepOrDone(ctx, d)
	}))

	_, err := c.WaitForResult(ctx, "prebuilt-read", "R1", "", domain.DefaultWaitPolicy())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForResult() error = %v, want context.Canceled", err)
	}
	if svc.count() != 1 {
		t.Errorf("fetches = %d, want 1", svc.count())
	}
}

func TestWaitForResultValidatesIDs(t *testing.T) {
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {}}
	c, _ := newTestClient(t, svc)

	if _, err := c.WaitForResult(context.Background(), "prebuilt-read", "", "", domain.DefaultWaitPolicy()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty result id: error = %v", err)
	}
	if _, err := c.GetResult(context.Background(), "x", "R1", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad model id: error = %v", err)
	}
	if svc.count() != 0 {
		t.Errorf("requests = %d, want 0", svc.count())
	}
}

func TestSleepOrDone(t *testing.T) {
	if err := sleepOrDone(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepOrDone() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepOrDone(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepOrDone(canceled) error = %v", err)
	}
}

func TestWaitForResultConcurrentJitter(t *testing.T) {
	var mu sync.Mutex
	fetches := map[string]int{}
	svc := &fakeService{handle: func(w http.ResponseWriter, r *http.Request, _ int) {
		mu.Lock()
		fetches[r.URL.Path]++
		n := fetches[r.URL.Path]
		mu.Unlock()
		if n < 3 {
			writeStatus(w, "running")
			return
		}
		writeStatus(w, "succeeded")
	}}

	var delays []time.Duration
	c, _ := newTestClient(t, svc, WithClock(time.Now), WithSleeper(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}))

	policy := domain.WaitPolicy{
		Enabled:      true,
		PollInterval: 4 * time.Second,
		MaxInterval:  8 * time.Second,
		MaxWait:      time.Minute,
		Backoff:      "exp_equal_jitter",
	}
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := c.WaitForResult(context.Background(), "prebuilt-read", id, "2024-11-30", policy)
			if err != nil {
				errs <- err
				return
			}
			if res.Status != domain.StatusSucceeded || res.Attempts != 3 {
				errs <- fmt.Errorf("%s: status %s after %d attempts", id, res.Status, res.Attempts)
			}
		}(fmt.Sprintf("R%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if svc.count() != workers*3 {
		t.Errorf("fetches = %d, want %d", svc.count(), workers*3)
	}
	if len(delays) != workers*2 {
		t.Fatalf("delays = %d, want %d", len(delays), workers*2)
	}
	for _, d := range delays {
		if d < 2*time.Second || d > 8*time.Second {
			t.Errorf("delay %v outside [2s, 8s]", d)
		}
	}
}
