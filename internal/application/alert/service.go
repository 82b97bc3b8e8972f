package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	alertDomain "alert-scanner/internal/domain/alert"
)

// ErrInvalidInput 表示建立警報的輸入不合法。
var ErrInvalidInput = errors.New("invalid alert")

// Store 為警報的完整存取契約，postgres/sqlite/memory 皆實作。
type Store interface {
	AlertStore
	CreateAlert(ctx context.Context, a alertDomain.Alert) (alertDomain.Alert, error)
	GetAlert(ctx context.Context, id int64) (alertDomain.Alert, error)
	ListAlerts(ctx context.Context, status alertDomain.Status) ([]alertDomain.Alert, error)
	DeleteAlert(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// CreateInput 是建立警報的輸入。
type CreateInput struct {
	Symbol      string  `json:"symbol" validate:"required,max=32"`
	Condition   string  `json:"condition" validate:"required"`
	TargetPrice float64 `json:"target_price" validate:"gte=0"`
	Note        string  `json:"note" validate:"max=500"`
}

// Service 處理警報的建立、查詢、取消與刪除。
type Service struct {
	store    Store
	validate *validator.Validate
}

// NewService 建立警報服務。
func NewService(store Store) *Service {
	return &Service{store: store, validate: validator.New()}
}

// Create 驗證輸入後建立 active 警報。
func (s *Service) Create(ctx context.Context, in CreateInput) (alertDomain.Alert, error) {
	in.Symbol = alertDomain.NormalizeSymbol(in.Symbol)
	if err := s.validate.Struct(in); err != nil {
		return alertDomain.Alert{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	a := alertDomain.Alert{
		Symbol:      in.Symbol,
		Condition:   alertDomain.Condition(in.Condition),
		TargetPrice: in.TargetPrice,
		Status:      alertDomain.StatusActive,
		Note:        in.Note,
	}
	if err := a.Validate(); err != nil {
		return alertDomain.Alert{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	created, err := s.store.CreateAlert(ctx, a)
	if err != nil {
		return alertDomain.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	return created, nil
}

// Get 取得單筆警報。
func (s *Service) Get(ctx context.Context, id int64) (alertDomain.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// ListActive 列出所有 active 警報。
func (s *Service) ListActive(ctx context.Context) ([]alertDomain.Alert, error) {
	return s.store.ListAlerts(ctx, alertDomain.StatusActive)
}

// List 依狀態列出警報，空字串代表全部。
func (s *Service) List(ctx context.Context, status alertDomain.Status) ([]alertDomain.Alert, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unsupported status: %q", status)
	}
	return s.store.ListAlerts(ctx, status)
}

// Cancel 將 active 警報轉為 canceled；終止狀態回傳 ErrInvalidTransition。
func (s *Service) Cancel(ctx context.Context, id int64) (alertDomain.Alert, error) {
	return s.store.UpdateAlertStatus(ctx, id, alertDomain.StatusCanceled)
}

// Delete 刪除警報。
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteAlert(ctx, id)
}

// Ping 檢查儲存層連線。
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
