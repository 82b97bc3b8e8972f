package scanner

import (
	"context"
	"time"
)

const retryBackoffStep = 300 * time.Millisecond

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetries 最多執行 retries+1 次，每次失敗後線性退避 300ms × 次數。
func withRetries(ctx context.Context, retries int, sleep sleepFunc, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retries+1; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt > retries {
			break
		}
		if sleepErr := sleep(ctx, retryBackoffStep*time.Duration(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
