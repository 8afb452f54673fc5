package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grana-flow/grana-flow-api/internal/domain"
)

// keyPrefix namespaces single-use token keys ("account security token").
const keyPrefix = "ast"

// consumeScript deletes the key only if its value matches, so a token
// verifies at most once and a wrong guess does not invalidate it.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements store.SingleUseTokenStore over Redis. One key per
// (purpose, account); a save overwrites the previous token and the TTL makes
// expiry a property of the store rather than the caller.
type RedisStore struct {
	client *redis.Client
}

// New creates a Redis-backed single-use token store.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(purpose domain.TokenPurpose, accountID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, purpose, accountID)
}

// Save stores the token digest under the purpose/account key with the TTL,
// replacing any previous token of the same purpose.
func (s *RedisStore) Save(ctx context.Context, purpose domain.TokenPurpose, accountID, tokenDigest string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(purpose, accountID), tokenDigest, ttl).Err(); err != nil {
		return fmt.Errorf("save %s token: %w", purpose, err)
	}
	return nil
}

// Consume atomically verifies and deletes the token. It returns false for a
// mismatched digest, an expired key, or a token that was already consumed.
func (s *RedisStore) Consume(ctx context.Context, purpose domain.TokenPurpose, accountID, tokenDigest string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{key(purpose, accountID)}, tokenDigest).Int()
	if err != nil {
		return false, fmt.Errorf("consume %s token: %w", purpose, err)
	}
	return n == 1, nil
}

// Ping checks Redis connectivity. Used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
