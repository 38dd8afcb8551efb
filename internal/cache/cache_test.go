package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redisCache) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedis(rdb, time.Hour).(*redisCache)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func succeeded(id string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		ModelID:     "prebuilt-read",
		ResultID:    id,
		Status:      domain.StatusSucceeded,
		Payload:     json.RawMessage(`{"status":"succeeded","analyzeResult":{"content":"hello"}}`),
		RetrievedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		Attempts:    3,
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name string
		res  *domain.AnalysisResult
		want bool
	}{
		{"nil", nil, false},
		{"succeeded", succeeded("r1"), true},
		{"failed", &domain.AnalysisResult{ResultID: "r1", Status: domain.StatusFailed}, true},
		{"running", &domain.AnalysisResult{ResultID: "r1", Status: domain.StatusRunning}, false},
		{"not found", &domain.AnalysisResult{ResultID: "r1", Status: domain.StatusNotFound}, false},
		{"no id", &domain.AnalysisResult{Status: domain.StatusSucceeded}, false},
		{"budget exhausted", &domain.AnalysisResult{ResultID: "r1", Status: domain.StatusSucceeded, BudgetExhausted: true}, false},
	}
	for _, tt := range tests {
		if got := Cacheable(tt.res); got != tt.want {
			t.Errorf("Cacheable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "prebuilt-read", "r1"); err != nil || ok {
		t.Fatalf("Get() on empty cache = %v, %v", ok, err)
	}
	if err := c.Put(ctx, succeeded("r1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "prebuilt-read", "r1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Status != domain.StatusSucceeded || got.Attempts != 3 || string(got.Payload) != string(succeeded("r1").Payload) {
		t.Errorf("Get() = %+v", got)
	}
	if !mr.Exists("docintel:result:prebuilt-read:r1") {
		t.Error("expected result key in redis")
	}
	if ttl := mr.TTL("docintel:result:prebuilt-read:r1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	// Same id under another model is a different entry.
	if _, ok, _ := c.Get(ctx, "prebuilt-layout", "r1"); ok {
		t.Error("expected miss for another model")
	}
}

func TestRedisCacheSkipsNonTerminal(t *testing.T) {
	mr, c := setupRedis(t)
	ctx := context.Background()

	res := &domain.AnalysisResult{ModelID: "prebuilt-read", ResultID: "r2", Status: domain.StatusRunning}
	if err := c.Put(ctx, res); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if mr.Exists("docintel:result:prebuilt-read:r2") {
		t.Error("running result must not be cached")
	}
}

func TestRedisCacheLen(t *testing.T) {
	_, c := setupRedis(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	for _, id := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, succeeded(id)); err != nil {
			t.Fatalf("Put(%s) error = %v", id, err)
		}
	}
	// Overwriting an entry does not grow the index.
	if err := c.Put(ctx, succeeded("a")); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}
	n, err := c.Len(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Len() = %d, %v, want 3", n, err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	n, err = c.Len(ctx)
	if err != nil || n != 0 {
		t.Errorf("Len() after expiry = %d, %v, want 0", n, err)
	}
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	mr, c := setupRedis(t)
	if err := mr.Set("docintel:result:prebuilt-read:bad", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(context.Background(), "prebuilt-read", "bad"); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute).(*memoryCache)
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	res := succeeded("m1")
	if err := c.Put(ctx, res); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Put(ctx, &domain.AnalysisResult{ModelID: "prebuilt-read", ResultID: "m2", Status: domain.StatusNotStarted}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "prebuilt-read", "m1")
	if err != nil || !ok || got.ResultID != "m1" {
		t.Fatalf("Get() = %+v, %v, %v", got, ok, err)
	}
	// Returned values are copies.
	got.Status = domain.StatusFailed
	again, _, _ := c.Get(ctx, "prebuilt-read", "m1")
	if again.Status != domain.StatusSucceeded {
		t.Error("cache entry was mutated through a returned value")
	}

	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}

	c.now = func() time.Time { return base.Add(time.Minute) }
	if _, ok, _ := c.Get(ctx, "prebuilt-read", "m1"); ok {
		t.Error("expected expired entry to miss")
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("Len() after expiry = %d, want 0", n)
	}
}

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	tests := []struct {
		url     string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"memory://", false, false},
		{"redis://" + mr.Addr() + "/0", false, false},
		{"ftp://host", true, true},
		{"redis://host:notaport/abc", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c, err := Open(tt.url, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if (c == nil) != tt.wantNil {
				t.Fatalf("Open(%q) = %v, wantNil %v", tt.url, c, tt.wantNil)
			}
			if c != nil {
				defer c.Close()
				if err := c.Put(context.Background(), succeeded("o1")); err != nil {
					t.Errorf("Put() error = %v", err)
				}
				if _, ok, _ := c.Get(context.Background(), "prebuilt-read", "o1"); !ok {
					t.Error("expected hit after Put")
				}
			}
		})
	}
}
