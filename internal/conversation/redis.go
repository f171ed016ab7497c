package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "conversation:"

// RedisStore keeps sessions in a shared redis so any replica can serve a
// follow-up turn. Expiry is delegated to redis key TTLs.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func NewRedisStore(client *redis.Client, ttl time.Duration, maxTurns int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxTurns: maxTurns}
}

func (s *RedisStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	session := Session{ID: id, CreatedAt: now, LastActiveAt: now}
	if err := s.write(ctx, &session); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, turn Turn) error {
	session, err := s.read(ctx, id)
	if err != nil {
		return err
	}
	session.Turns = trimTurns(append(session.Turns, turn), s.maxTurns)
	session.LastActiveAt = time.Now().UTC()
	return s.write(ctx, session)
}

func (s *RedisStore) History(ctx context.Context, id string) ([]Turn, error) {
	session, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Turns, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, redisKeyPrefix+id, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	if !ok {
		return ErrSessionExpired
	}
	return nil
}

func (s *RedisStore) read(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

func (s *RedisStore) write(ctx context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+session.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write session %s: %w", session.ID, err)
	}
	return nil
}
