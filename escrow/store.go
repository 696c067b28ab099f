package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrRecordNotFound is returned by a StateStore when no record exists for
// the given escrow id.
var ErrRecordNotFound = errors.New("escrow record not found")

// StateStore persists coordinator records between process restarts. The
// coordinator writes through on every state change.
type StateStore interface {
	Get(ctx context.Context, escrowID string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, escrowID string) error
}

const redisKeyPrefix = "escrow:"

// RedisStore keeps records as JSON blobs under escrow:<id>.
type RedisStore struct {
	rdb *redis.Client
}

var _ StateStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, escrowID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+escrowID).Bytes()
	if err == redis.Nil {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", escrowID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", escrowID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.EscrowID, err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+rec.EscrowID, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", rec.EscrowID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, escrowID string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+escrowID).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", escrowID, err)
	}
	return nil
}

// MemStore is an in-process StateStore for tests and single-node runs
// without Redis.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

var _ StateStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]*Record)}
}

func (s *MemStore) Get(_ context.Context, escrowID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[escrowID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.EscrowID] = &cp
	return nil
}

func (s *MemStore) Delete(_ context.Context, escrowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, escrowID)
	return nil
}
