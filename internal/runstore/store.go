// Package runstore keeps recently completed consensus results retrievable
// by run ID, backed by Redis with a bounded local cache.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/metrics"
)

// ErrNotFound is returned when a run ID is unknown or expired.
var ErrNotFound = errors.New("runstore: run not found")

// DefaultTTL keeps results around long enough for a client to fetch them
// after the fact without letting Redis grow unbounded.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "concord:run:"

// Store persists results in Redis and mirrors the hot set in memory.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*consensus.Result
	cacheAccess map[string]time.Time
	maxEntries  int
}

// New connects to Redis at addr and verifies the connection. ttl <= 0 uses
// DefaultTTL.
func New(addr, password string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string]*consensus.Result),
		cacheAccess: make(map[string]time.Time),
		maxEntries:  1024,
	}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error { return s.client.Close() }

// Ping reports backend reachability for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Save persists a result under its run ID with the store TTL.
func (s *Store) Save(ctx context.Context, res *consensus.Result) error {
	if res == nil || res.RunID == "" {
		return errors.New("runstore: result must have a run ID")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+res.RunID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	s.mu.Lock()
	s.localCache[res.RunID] = res
	s.cacheAccess[res.RunID] = time.Now()
	s.evictLocked()
	metrics.RunStoreCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	s.logger.Debug("Stored consensus result", zap.String("run_id", res.RunID))
	return nil
}

// Get fetches a result, preferring the local cache.
func (s *Store) Get(ctx context.Context, runID string) (*consensus.Result, error) {
	s.mu.RLock()
	cached, ok := s.localCache[runID]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.cacheAccess[runID] = time.Now()
		s.mu.Unlock()
		metrics.RunStoreCacheHits.Inc()
		return cached, nil
	}
	metrics.RunStoreCacheMisses.Inc()

	data, err := s.client.Get(ctx, keyPrefix+runID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}

	var res consensus.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	s.mu.Lock()
	s.localCache[runID] = &res
	s.cacheAccess[runID] = time.Now()
	s.evictLocked()
	metrics.RunStoreCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()
	return &res, nil
}

// evictLocked drops least-recently-accessed entries once the cache exceeds
// maxEntries. Caller holds s.mu.
func (s *Store) evictLocked() {
	for len(s.localCache) > s.maxEntries {
		var oldest string
		var oldestAt time.Time
		for id, at := range s.cacheAccess {
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = id, at
			}
		}
		delete(s.localCache, oldest)
		delete(s.cacheAccess, oldest)
		metrics.RunStoreCacheEvictions.Inc()
	}
}
