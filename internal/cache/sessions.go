package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gentlechase/api/internal/importer"
)

const (
	batchKeyPrefix = "gc:import:batch:"
	lockKeyPrefix  = "gc:import:lock:"
	// A lock outlives a crashed holder by at most this long.
	lockTTL = 2 * time.Minute
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore keeps import batches as JSON with a sliding TTL.
type SessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ importer.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func batchKey(userID uuid.UUID, id string) string {
	return batchKeyPrefix + userID.String() + ":" + id
}

func lockKey(userID uuid.UUID, id string) string {
	return lockKeyPrefix + userID.String() + ":" + id
}

func (s *SessionStore) Put(ctx context.Context, userID uuid.UUID, b *importer.Batch) error {
	data, err := json.Marshal(b.State())
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := s.client.Set(ctx, batchKey(userID, b.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, userID uuid.UUID, id string) (*importer.Batch, error) {
	key := batchKey(userID, id)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, importer.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	var st importer.BatchState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return importer.RestoreBatch(st), nil
}

func (s *SessionStore) Delete(ctx context.Context, userID uuid.UUID, id string) error {
	if err := s.client.Del(ctx, batchKey(userID, id)).Err(); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (s *SessionStore) Lock(ctx context.Context, userID uuid.UUID, id string) (func(), error) {
	key := lockKey(userID, id)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire import lock: %w", err)
	}
	if !ok {
		return nil, importer.ErrCommitInProgress
	}
	return func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err()
	}, nil
}
