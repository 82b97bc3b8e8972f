package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "alert-scanner:reconciler:lease"

// 僅在 token 相符時刪除，避免釋放到已被他人回收的租約。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis 以 SET NX PX 實作跨主機的租約。
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Acquire(ctx context.Context, ttl time.Duration) (string, error) {
	token := newToken()
	ok, err := r.client.SetNX(ctx, r.key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

func (r *Redis) Release(ctx context.Context, token string) error {
	if token == "" {
		return ErrNotHeld
	}
	deleted, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}
