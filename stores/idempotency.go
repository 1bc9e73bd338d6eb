package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perstream/checkout/cache"
	"github.com/perstream/checkout/models"
)

var (
	ErrIdempotencyMismatch   = errors.New("idempotency key reused with different request")
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")
)

// IdempotencyStore persists one record per (route, user, idempotency key)
// triple. A record is claimed with a write-once lock; the winning request
// executes and caches its response, losers either replay it or are rejected.
type IdempotencyStore struct {
	cache      *cache.RedisCache
	ttl        time.Duration
	lockWindow time.Duration
}

func CreateIdempotencyStore(redisCache *cache.RedisCache, ttl time.Duration) *IdempotencyStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &IdempotencyStore{
		cache:      redisCache,
		ttl:        ttl,
		lockWindow: time.Minute,
	}
}

func idempotencyKey(route, userID, key string) string {
	return fmt.Sprintf("idemp:%s:%s:%s", route, userID, key)
}

// GetOrCreate claims the key for this request or reports what already holds
// it. Outcomes: a fresh claim (IsNew), a completed record to replay, a
// fingerprint mismatch, or a live lock held by a concurrent request.
func (s *IdempotencyStore) GetOrCreate(ctx context.Context, route, userID, key, fingerprint string) (*models.IdempotencyResult, error) {
	redisKey := idempotencyKey(route, userID, key)
	now := time.Now()

	record := &models.IdempotencyRecord{
		Fingerprint: fingerprint,
		Status:      models.IdempotencyStatusLocked,
		UserID:      userID,
		LockedAt:    now,
		CreatedAt:   now,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	claimed, err := s.cache.SetNX(ctx, redisKey, payload, s.ttl)
	if err != nil {
		return nil, err
	}
	if claimed {
		return &models.IdempotencyResult{IsNew: true, Record: record}, nil
	}

	data, err := s.cache.Get(ctx, redisKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The existing record expired between SetNX and Get. Treat as a
			// store hiccup; the caller proceeds without caching.
			return nil, fmt.Errorf("idempotency record vanished for %s", redisKey)
		}
		return nil, err
	}

	var existing models.IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &existing); err != nil {
		return nil, err
	}

	if existing.Fingerprint != fingerprint {
		return nil, ErrIdempotencyMismatch
	}

	if existing.Status == models.IdempotencyStatusCompleted {
		return &models.IdempotencyResult{IsNew: false, Record: &existing}, nil
	}

	if !existing.LockStale(now, s.lockWindow) {
		return nil, ErrIdempotencyInProgress
	}

	// Stale lock from a crashed handler. Take it over.
	existing.LockedAt = now
	if err := s.save(ctx, redisKey, &existing); err != nil {
		return nil, err
	}

	return &models.IdempotencyResult{IsNew: true, Record: &existing}, nil
}

// Complete caches the successful response under the key for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, route, userID, key string, responseCode int, responseBody []byte, contentType string) error {
	redisKey := idempotencyKey(route, userID, key)

	data, err := s.cache.Get(ctx, redisKey)
	if err != nil {
		return err
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return err
	}

	now := time.Now()
	record.Status = models.IdempotencyStatusCompleted
	record.ResponseCode = responseCode
	record.ResponseBody = responseBody
	record.ContentType = contentType
	record.CompletedAt = &now

	return s.save(ctx, redisKey, &record)
}

// Unlock releases the claim after a failed handler run. The record stays
// behind with its fingerprint so the key remains bound to one request
// shape, but the next retry may execute immediately.
func (s *IdempotencyStore) Unlock(ctx context.Context, route, userID, key string) error {
	redisKey := idempotencyKey(route, userID, key)

	data, err := s.cache.Get(ctx, redisKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return err
	}

	record.LockedAt = time.Time{}

	return s.save(ctx, redisKey, &record)
}

func (s *IdempotencyStore) save(ctx context.Context, redisKey string, record *models.IdempotencyRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.cache.SetWithTTL(ctx, redisKey, payload, s.ttl)
}
