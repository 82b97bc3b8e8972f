// Package lease provides a single-flight lease: Acquire returns a token when
// nobody else holds an unexpired lease, Release gives it back only if the token
// still matches. Expired leases are reclaimed by the next Acquire so a crashed
// holder cannot block future runs forever.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld 表示租約目前由其他持有者佔用。
	ErrHeld = errors.New("lease is held")
	// ErrNotHeld 表示釋放時 token 不符（已過期被回收，或從未取得）。
	ErrNotHeld = errors.New("lease not held by token")
)

// Lease 是互斥租約的共同契約。
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (string, error)
	Release(ctx context.Context, token string) error
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Options 描述要開啟的租約後端。
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	Key       string
}

// Open 依設定建立租約後端，回傳的 close 用於釋放底層連線。
func Open(ctx context.Context, opts Options) (Lease, func() error, error) {
	noop := func() error { return nil }
	switch opts.Backend {
	case BackendMemory:
		return NewMemory(), noop, nil
	case "", BackendFile:
		return NewFile(opts.Path), noop, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedis(client, opts.Key), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lease backend %q", opts.Backend)
	}
}

func newToken() string {
	return uuid.NewString()
}
