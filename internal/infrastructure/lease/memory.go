package lease

import (
	"context"
	"sync"
	"time"
)

// Memory 是程序內的租約，逾時後可被下一次 Acquire 回收。
type Memory struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && now.Before(m.expires) {
		return "", ErrHeld
	}
	m.token = newToken()
	m.expires = now.Add(ttl)
	return m.token, nil
}

func (m *Memory) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" || token != m.token {
		return ErrNotHeld
	}
	m.token = ""
	m.expires = time.Time{}
	return nil
}
