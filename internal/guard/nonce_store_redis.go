package guard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"credence/pkg/platform/sentinel"
)

const nonceKeyPrefix = "credence:nonce:"

// consumeScript compares the stored counter against the supplied value and
// increments atomically. Returns the new counter, or -1 on mismatch. Running
// this server-side keeps check-and-increment atomic across instances.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current ~= tonumber(ARGV[1]) then
  return -1
end
redis.call('SET', KEYS[1], current + 1)
return current + 1
`)

// RedisNonceStore is a Redis-backed nonce store for distributed deployments
// where replay counters must survive restarts and be shared across instances.
type RedisNonceStore struct {
	client *redis.Client
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) Consume(ctx context.Context, identity string, supplied uint64) (uint64, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{nonceKeyPrefix + identity}, supplied).Int64()
	if err != nil {
		return 0, fmt.Errorf("run nonce script: %w", err)
	}
	if res < 0 {
		return 0, sentinel.ErrInvalidState
	}
	return uint64(res), nil
}

func (s *RedisNonceStore) Current(ctx context.Context, identity string) (uint64, error) {
	v, err := s.client.Get(ctx, nonceKeyPrefix+identity).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	return v, nil
}
