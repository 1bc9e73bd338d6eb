package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/perstream/checkout/cache"
	"github.com/perstream/checkout/models"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// SessionStore persists checkout sessions in Redis. Records are retained
// past their logical expiry so a late completion attempt can be answered
// with the expired status instead of a 404; the retention TTL reclaims
// them afterwards.
type SessionStore struct {
	cache     *cache.RedisCache
	retention time.Duration
}

func CreateSessionStore(redisCache *cache.RedisCache, retention time.Duration) *SessionStore {
	if retention == 0 {
		retention = 24 * time.Hour
	}

	return &SessionStore{
		cache:     redisCache,
		retention: retention,
	}
}

func sessionKey(id string) string {
	return "checkout:" + id
}

func (s *SessionStore) Save(ctx context.Context, session *models.CheckoutSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.cache.SetWithTTL(ctx, sessionKey(session.ID), payload, s.retention)
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	data, err := s.cache.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var session models.CheckoutSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// List returns every live session record. Used by the expiry sweeper;
// skips entries that disappear mid-scan.
func (s *SessionStore) List(ctx context.Context) ([]*models.CheckoutSession, error) {
	keys, err := s.cache.ScanKeys(ctx, "checkout:*")
	if err != nil {
		return nil, err
	}

	sessions := make([]*models.CheckoutSession, 0, len(keys))
	for _, key := range keys {
		data, err := s.cache.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}

		var session models.CheckoutSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}
