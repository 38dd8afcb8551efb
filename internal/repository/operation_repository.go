package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrNotFound = errors.New("not-found")

// Operation is one analysis accepted by the emulator.
type Operation struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"modelId"`
	APIVersion  string    `json:"apiVersion"`
	SourceKind  string    `json:"sourceKind"`
	URLSource   string    `json:"urlSource,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int       `json:"size"`
	Fail        bool      `json:"fail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	// Polls is not persisted with the record; backends count it separately.
	Polls int `json:"-"`
}

type OperationRepository interface {
	Save(ctx context.Context, op Operation) error
	Get(ctx context.Context, modelID, id string) (*Operation, error)
	// RecordPoll increments the poll counter and returns the updated operation.
	RecordPoll(ctx context.Context, modelID, id string) (*Operation, error)
}

type operationRedisRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOperationRepository(rdb *redis.Client, ttl time.Duration) OperationRepository {
	return &operationRedisRepo{rdb: rdb, ttl: ttl}
}

func (r *operationRedisRepo) keyOp(modelID, id string) string {
	return fmt.Sprintf("docintel:emu:op:%s:%s", modelID, id)
}
func (r *operationRedisRepo) keyPolls(modelID, id string) string {
	return r.keyOp(modelID, id) + ":polls"
}

func (r *operationRedisRepo) Save(ctx context.Context, op Operation) error {
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.keyOp(op.ModelID, op.ID), string(b), r.ttl)
	pipe.Set(ctx, r.keyPolls(op.ModelID, op.ID), 0, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET operation: %w", err)
	}
	return nil
}

func (r *operationRedisRepo) Get(ctx context.Context, modelID, id string) (*Operation, error) {
	js, err := r.rdb.Get(ctx, r.keyOp(modelID, id)).Result()
	if err == redis.Nil || js == "" {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET operation: %w", err)
	}
	var op Operation
	if err := json.Unmarshal([]byte(js), &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	polls, err := r.rdb.Get(ctx, r.keyPolls(modelID, id)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis GET polls: %w", err)
	}
	op.Polls, _ = strconv.Atoi(polls)
	return &op, nil
}

func (r *operationRedisRepo) RecordPoll(ctx context.Context, modelID, id string) (*Operation, error) {
	op, err := r.Get(ctx, modelID, id)
	if err != nil {
		return nil, err
	}
	n, err := r.rdb.Incr(ctx, r.keyPolls(modelID, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis INCR polls: %w", err)
	}
	op.Polls = int(n)
	return op, nil
}

type memoryEntry struct {
	op        Operation
	expiresAt time.Time
}

type operationMemoryRepo struct {
	mu  sync.Mutex
	ops map[string]*memoryEntry
	ttl time.Duration
	now func() time.Time
}

func NewMemoryOperationRepository(ttl time.Duration, now func() time.Time) OperationRepository {
	if now == nil {
		now = time.Now
	}
	return &operationMemoryRepo{ops: map[string]*memoryEntry{}, ttl: ttl, now: now}
}

func (r *operationMemoryRepo) Save(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op.Polls = 0
	r.ops[op.ModelID+":"+op.ID] = &memoryEntry{op: op, expiresAt: r.now().Add(r.ttl)}
	return nil
}

func (r *operationMemoryRepo) lookup(modelID, id string) (*memoryEntry, error) {
	k := modelID + ":" + id
	e, ok := r.ops[k]
	if !ok {
		return nil, ErrNotFound
	}
	if r.ttl > 0 && !r.now().Before(e.expiresAt) {
		delete(r.ops, k)
		return nil, ErrNotFound
	}
	return e, nil
}

func (r *operationMemoryRepo) Get(_ context.Context, modelID, id string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(modelID, id)
	if err != nil {
		return nil, err
	}
	op := e.op
	return &op, nil
}

func (r *operationMemoryRepo) RecordPoll(_ context.Context, modelID, id string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(modelID, id)
	if err != nil {
		return nil, err
	}
	e.op.Polls++
	op := e.op
	return &op, nil
}
