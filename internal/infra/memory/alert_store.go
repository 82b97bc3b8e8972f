package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alertDomain "alert-scanner/internal/domain/alert"
)

// AlertStore 為記憶體版警報儲存，用於未設定資料庫時與測試。併發安全。
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[int64]alertDomain.Alert
	idSeq  int64
	now    func() time.Time
}

// NewAlertStore 建立新的記憶體 AlertStore 實例。
func NewAlertStore() *AlertStore {
	return &AlertStore{
		alerts: make(map[int64]alertDomain.Alert),
		now:    time.Now,
	}
}

func (s *AlertStore) CreateAlert(_ context.Context, a alertDomain.Alert) (alertDomain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idSeq++
	a.ID = s.idSeq
	if a.Status == "" {
		a.Status = alertDomain.StatusActive
	}
	a.CreatedAt = s.now().UTC()
	s.alerts[a.ID] = a
	return a, nil
}

func (s *AlertStore) GetAlert(_ context.Context, id int64) (alertDomain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	return a, nil
}

func (s *AlertStore) ListAlerts(_ context.Context, status alertDomain.Status) ([]alertDomain.Alert, error) {
	return s.filter(func(a alertDomain.Alert) bool {
		return status == "" || a.Status == status
	}), nil
}

func (s *AlertStore) GetAlertsBySymbol(_ context.Context, symbol string, status alertDomain.Status) ([]alertDomain.Alert, error) {
	return s.filter(func(a alertDomain.Alert) bool {
		return a.Symbol == symbol && a.Status == status
	}), nil
}

// UpdateAlertStatus 只允許 active 轉為終止狀態。
func (s *AlertStore) UpdateAlertStatus(_ context.Context, id int64, status alertDomain.Status) (alertDomain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	if !alertDomain.CanTransition(a.Status, status) {
		return alertDomain.Alert{}, alertDomain.ErrInvalidTransition
	}
	a.Status = status
	s.alerts[id] = a
	return a, nil
}

func (s *AlertStore) DeleteAlert(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return alertDomain.ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

// Put 直接寫入一筆警報（保留原狀態），僅供測試模擬異常資料。
func (s *AlertStore) Put(a alertDomain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.idSeq++
		a.ID = s.idSeq
	} else if a.ID > s.idSeq {
		s.idSeq = a.ID
	}
	s.alerts[a.ID] = a
}

func (s *AlertStore) Ping(context.Context) error {
	return nil
}

func (s *AlertStore) filter(keep func(alertDomain.Alert) bool) []alertDomain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []alertDomain.Alert{}
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
