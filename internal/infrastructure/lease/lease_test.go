package lease

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// contract 對所有後端執行相同的租約行為檢查。
func contract(t *testing.T, l Lease) {
	t.Helper()
	ctx := context.Background()

	token, err := l.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if _, err := l.Acquire(ctx, time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire should report ErrHeld, got %v", err)
	}
	if err := l.Release(ctx, "someone-else"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("release with wrong token should report ErrNotHeld, got %v", err)
	}
	if err := l.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(ctx, token); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("double release should report ErrNotHeld, got %v", err)
	}

	again, err := l.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	if again == token {
		t.Error("tokens must be unique per acquisition")
	}
	_ = l.Release(ctx, again)
}

// exclusive 讓多個 goroutine 同時搶租約，任一時刻只能有一個成功。
func exclusive(t *testing.T, l Lease) {
	t.Helper()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemory(t *testing.T) {
	contract(t, NewMemory())
	exclusive(t, NewMemory())
}

func TestMemory_ExpiredIsReclaimed(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	old, err := m.Acquire(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("expired lease should be reclaimed: %v", err)
	}
	if err := m.Release(context.Background(), old); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale holder must not release new lease, got %v", err)
	}
}

func TestFile(t *testing.T) {
	contract(t, NewFile(filepath.Join(t.TempDir(), "run.lock")))
	exclusive(t, NewFile(filepath.Join(t.TempDir(), "run.lock")))
}

func writeMarker(t *testing.T, path string, m marker) {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFile_ReclaimsExpiredMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Now()
	writeMarker(t, path, marker{Token: "old", PID: os.Getpid(), AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)})

	f := NewFile(path)
	token, err := f.Acquire(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("expected expired marker to be reclaimed: %v", err)
	}
	if token == "old" {
		t.Fatal("expected a fresh token")
	}
}

func TestFile_ReclaimsDeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Now()
	writeMarker(t, path, marker{Token: "crashed", PID: 424242, AcquiredAt: now, ExpiresAt: now.Add(time.Hour)})

	f := NewFile(path)
	f.alive = func(pid int) bool { return pid != 424242 }
	if _, err := f.Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("expected dead holder to be reclaimed: %v", err)
	}
}

// 回收過期標記期間另一方同時取得，最多只能有一方成功。
func TestFile_ConcurrentReclaimHasSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Now()
	writeMarker(t, path, marker{Token: "crashed", PID: 424242, AcquiredAt: now, ExpiresAt: now.Add(time.Hour)})

	ctx := context.Background()
	b := NewFile(path)
	b.alive = func(int) bool { return false }

	var bToken string
	var bErr error
	interleaved := false
	a := NewFile(path)
	a.alive = func(int) bool {
		if !interleaved {
			interleaved = true
			bToken, bErr = b.Acquire(ctx, time.Minute)
		}
		return false
	}

	aToken, aErr := a.Acquire(ctx, time.Minute)
	if !interleaved {
		t.Fatal("second acquire did not run during reclaim")
	}

	winners := 0
	for _, err := range []error{aErr, bErr} {
		switch {
		case err == nil:
			winners++
		case !errors.Is(err, ErrHeld):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one holder, got a=(%q,%v) b=(%q,%v)", aToken, aErr, bToken, bErr)
	}

	holder, token := a, aToken
	if aErr != nil {
		holder, token = b, bToken
	}
	current, err := holder.read()
	if err != nil || current.Token != token {
		t.Fatalf("marker on disk = %+v (%v), want token %q", current, err, token)
	}
	if err := holder.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
}

// 持有者釋放時，回收方若正持有 guard，釋放會等待而不是刪掉新標記。
func TestFile_ReleaseWaitsForReclaim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	ctx := context.Background()

	owner := NewFile(path)
	token, err := owner.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	unlock, err := owner.lockGuard(false)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	released := make(chan error, 1)
	go func() { released <- owner.Release(ctx, token) }()

	select {
	case err := <-released:
		t.Fatalf("release returned while guard held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("release: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("release did not finish after guard was freed")
	}
}

func TestFile_LiveHolderBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Now()
	writeMarker(t, path, marker{Token: "busy", PID: os.Getpid(), AcquiredAt: now, ExpiresAt: now.Add(time.Hour)})

	if _, err := NewFile(path).Acquire(context.Background(), time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
}

func TestFile_CorruptMarkerIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Acquire(context.Background(), time.Minute); err != nil {
		t.Fatalf("expected corrupt marker to be reclaimed: %v", err)
	}
}

func TestOpen(t *testing.T) {
	l, closeFn, err := Open(context.Background(), Options{Backend: BackendMemory})
	if err != nil || l == nil {
		t.Fatalf("memory backend: %v", err)
	}
	_ = closeFn()

	path := filepath.Join(t.TempDir(), "x.lock")
	l, _, err = Open(context.Background(), Options{Backend: BackendFile, Path: path})
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	f, ok := l.(*File)
	if !ok {
		t.Fatalf("expected *File, got %T", l)
	}
	if f.Path() != path {
		t.Fatalf("path = %q, want %q", f.Path(), path)
	}

	if _, _, err := Open(context.Background(), Options{Backend: "zookeeper"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

// 需要實際的 Redis；設定 REDIS_ADDR 才會執行。
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "alert-scanner:test:" + newToken()
	defer client.Del(context.Background(), key)

	contract(t, NewRedis(client, key))
	exclusive(t, NewRedis(client, key+":race"))
	client.Del(context.Background(), key+":race")
}
