package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// SessionData is what the platform stores server-side for an opaque token.
// The client never sees or supplies role information.
type SessionData struct {
	AccountID string `json:"account_id"`
	GrantID   string `json:"grant_id,omitempty"`
	GrantorID string `json:"grantor_id,omitempty"`
}

// TokenStore is the session backend shared with the external identity
// provider. It issues tokens into the same keyspace this service reads.
type TokenStore interface {
	Get(ctx context.Context, token string) (*SessionData, error)
	Set(ctx context.Context, token string, data *SessionData, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

var StoreModule = fx.Module("account.tokenstore",
	fx.Provide(NewRedisTokenStore),
)

type RedisTokenStore struct {
	rdb *redis.Client
}

func NewRedisTokenStore(rdb *redis.Client) TokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (s *RedisTokenStore) Get(ctx context.Context, token string) (*SessionData, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var data SessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, token string, data *SessionData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(token), raw, ttl).Err()
}

func (s *RedisTokenStore) Delete(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}

// NewToken returns an opaque 256-bit session token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
