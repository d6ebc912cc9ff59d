package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only if it still holds the caller's token, so an expired
// lock re-acquired by another checkout is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// userLock is a single-holder lease per key with a TTL.
type userLock struct {
	client redis.Cmdable
	ttl    time.Duration
}

// acquire returns the holder token, or ok=false when the key is held.
func (l userLock) acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l userLock) release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{key}, token).Err()
}
