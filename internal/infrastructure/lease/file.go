package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

type marker struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// File 以磁碟上的標記檔實作租約。標記先寫入暫存檔再以 hard link 建立，
// 因此其他程序永遠不會讀到寫到一半的內容。回收與釋放都在 guard flock 內進行。
type File struct {
	path  string
	pid   int
	now   func() time.Time
	alive func(pid int) bool
}

func NewFile(path string) *File {
	if path == "" {
		path = filepath.Join(os.TempDir(), "alert-reconciler.lock")
	}
	return &File{
		path:  path,
		pid:   os.Getpid(),
		now:   time.Now,
		alive: processAlive,
	}
}

// Path 回傳標記檔位置。
func (f *File) Path() string {
	return f.path
}

func (f *File) Acquire(_ context.Context, ttl time.Duration) (string, error) {
	now := f.now()
	m := marker{
		Token:      newToken(),
		PID:        f.pid,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := f.create(m)
	if err == nil {
		return m.Token, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return "", err
	}

	// 回收過期標記必須持有 guard；guard 被占用代表另一方正在取得或回收，視為租約被持有。
	unlock, err := f.lockGuard(false)
	if errors.Is(err, errGuardBusy) {
		return "", ErrHeld
	}
	if err != nil {
		return "", err
	}
	defer unlock()

	current, err := f.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return "", err
	case !f.stale(current, now):
		return "", ErrHeld
	default:
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reclaim stale lease: %w", err)
		}
	}

	// 快速路徑仍可能在移除後搶先建立；Link 失敗即表示對方已持有。
	if err := f.create(m); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrHeld
		}
		return "", err
	}
	return m.Token, nil
}

func (f *File) Release(_ context.Context, token string) error {
	unlock, err := f.lockGuard(true)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := f.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotHeld
		}
		return err
	}
	if token == "" || current.Token != token {
		return ErrNotHeld
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lease marker: %w", err)
	}
	return nil
}

// lockGuard 對 path+".guard" 取得排他 flock。標記只會在持有 guard 時被刪除，
// 快速路徑的建立則依賴 Link 的原子性。
func (f *File) lockGuard(block bool) (func(), error) {
	g, err := os.OpenFile(f.path+".guard", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lease guard: %w", err)
	}
	if err := flock(g, block); err != nil {
		g.Close()
		return nil, err
	}
	return func() {
		_ = funlock(g)
		g.Close()
	}, nil
}

func (f *File) stale(m marker, now time.Time) bool {
	if !now.Before(m.ExpiresAt) {
		return true
	}
	return m.PID > 0 && !f.alive(m.PID)
}

func (f *File) create(m marker) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".lease-*")
	if err != nil {
		return fmt.Errorf("create lease temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(m); err != nil {
		tmp.Close()
		return fmt.Errorf("write lease marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmp.Name(), f.path)
}

func (f *File) read() (marker, error) {
	var m marker
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		// 無法解析的標記視為已過期。
		return marker{}, nil
	}
	return m, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
