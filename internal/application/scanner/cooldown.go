package scanner

import (
	"sync"
	"time"
)

// cooldownLedger 記錄每個標的最後一次通知時間。檢查與寫入在同一把鎖內完成，
// 兩個 worker 不可能同時通過同一標的的冷卻檢查。
type cooldownLedger struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func newCooldownLedger(window time.Duration) *cooldownLedger {
	return &cooldownLedger{window: window, last: make(map[string]time.Time)}
}

// tryAcquire 若不在冷卻期內，記錄 now 並回傳 true。
func (l *cooldownLedger) tryAcquire(symbol string, now time.Time) (prev time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, seen := l.last[symbol]
	if seen && now.Sub(prev) < l.window {
		return prev, false
	}
	l.last[symbol] = now
	return prev, true
}

// rollback 在送出失敗時還原標記，但只在期間沒有其他人更新過的情況下。
func (l *cooldownLedger) rollback(symbol string, stamped, prev time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.last[symbol]; !ok || !cur.Equal(stamped) {
		return
	}
	if prev.IsZero() {
		delete(l.last, symbol)
		return
	}
	l.last[symbol] = prev
}

func (l *cooldownLedger) lastAlertAt(symbol string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[symbol]
	return t, ok
}
