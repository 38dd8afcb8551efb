package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type redisCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedis returns a Cache backed by rdb. Entries expire after ttl; a sorted
// set indexed by expiry keeps Len accurate without scanning.
func NewRedis(rdb *redis.Client, ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisCache{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *redisCache) keyResult(k string) string { return "docintel:result:" + k }
func (r *redisCache) keyIndex() string          { return "docintel:results:ttl" }

func (r *redisCache) Get(ctx context.Context, modelID, resultID string) (*domain.AnalysisResult, bool, error) {
	js, err := r.rdb.Get(ctx, r.keyResult(entryKey(modelID, resultID))).Result()
	if err == redis.Nil || js == "" {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET result: %w", err)
	}
	var res domain.AnalysisResult
	if err := json.Unmarshal([]byte(js), &res); err != nil {
		return nil, false, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, true, nil
}

func (r *redisCache) Put(ctx context.Context, res *domain.AnalysisResult) error {
	if !Cacheable(res) {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	k := entryKey(res.ModelID, res.ResultID)
	expiresAt := r.now().Add(r.ttl).Unix()

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.keyResult(k), string(b), r.ttl)
	pipe.ZAdd(ctx, r.keyIndex(), &redis.Z{Score: float64(expiresAt), Member: k})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET result: %w", err)
	}
	return nil
}

func (r *redisCache) Len(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.rdb.ZRemRangeByScore(ctx, r.keyIndex(), "-inf", "("+now).Err(); err != nil {
		return 0, fmt.Errorf("redis ZREMRANGEBYSCORE: %w", err)
	}
	n, err := r.rdb.ZCard(ctx, r.keyIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCARD: %w", err)
	}
	return n, nil
}

func (r *redisCache) Close() error { return r.rdb.Close() }
