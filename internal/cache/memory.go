package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory returns a process-local Cache. Results are stored as JSON so
// callers never share mutable state with the cache.
func NewMemory(ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryCache{entries: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

func (m *memoryCache) Get(_ context.Context, modelID, resultID string) (*domain.AnalysisResult, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[entryKey(modelID, resultID)]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	var res domain.AnalysisResult
	if err := json.Unmarshal(e.data, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (m *memoryCache) Put(_ context.Context, res *domain.AnalysisResult) error {
	if !Cacheable(res) {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[entryKey(res.ModelID, res.ResultID)] = memEntry{data: b, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Len(_ context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	return int64(len(m.entries)), nil
}

func (m *memoryCache) Close() error { return nil }
