package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alertDomain "alert-scanner/internal/domain/alert"
)

const alertColumns = `id, symbol, condition, target_price, status, created_at, note`

// AlertRepo 提供 alerts 資料表的存取。
type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (alertDomain.Alert, error) {
	var a alertDomain.Alert
	var condition, status string
	if err := row.Scan(&a.ID, &a.Symbol, &condition, &a.TargetPrice, &status, &a.CreatedAt, &a.Note); err != nil {
		return alertDomain.Alert{}, err
	}
	a.Condition = alertDomain.Condition(condition)
	a.Status = alertDomain.Status(status)
	return a, nil
}

func scanAlerts(rows *sql.Rows) ([]alertDomain.Alert, error) {
	defer rows.Close()
	out := []alertDomain.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAlert 新增警報，id 與 created_at 由資料庫產生。
func (r *AlertRepo) CreateAlert(ctx context.Context, a alertDomain.Alert) (alertDomain.Alert, error) {
	const q = `
INSERT INTO alerts (symbol, condition, target_price, status, note)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + alertColumns + `;
`
	status := a.Status
	if status == "" {
		status = alertDomain.StatusActive
	}
	created, err := scanAlert(r.db.QueryRowContext(ctx, q, a.Symbol, string(a.Condition), a.TargetPrice, string(status), a.Note))
	if err != nil {
		return alertDomain.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

func (r *AlertRepo) GetAlert(ctx context.Context, id int64) (alertDomain.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	return a, err
}

// ListAlerts 依狀態列出警報；status 為空時回傳全部。
func (r *AlertRepo) ListAlerts(ctx context.Context, status alertDomain.Status) ([]alertDomain.Alert, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY id;`)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE status = $1 ORDER BY id;`, string(status))
	}
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

func (r *AlertRepo) GetAlertsBySymbol(ctx context.Context, symbol string, status alertDomain.Status) ([]alertDomain.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE symbol = $1 AND status = $2 ORDER BY id;`
	rows, err := r.db.QueryContext(ctx, q, symbol, string(status))
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

// UpdateAlertStatus 僅更新仍為 active 的警報，使終止狀態無法被覆寫。
func (r *AlertRepo) UpdateAlertStatus(ctx context.Context, id int64, status alertDomain.Status) (alertDomain.Alert, error) {
	if !status.Terminal() {
		return alertDomain.Alert{}, alertDomain.ErrInvalidTransition
	}
	const q = `
UPDATE alerts SET status = $2
WHERE id = $1 AND status = 'active'
RETURNING ` + alertColumns + `;
`
	updated, err := scanAlert(r.db.QueryRowContext(ctx, q, id, string(status)))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Alert{}, fmt.Errorf("update alert status: %w", err)
	}
	if _, getErr := r.GetAlert(ctx, id); getErr != nil {
		return alertDomain.Alert{}, getErr
	}
	return alertDomain.Alert{}, alertDomain.ErrInvalidTransition
}

func (r *AlertRepo) DeleteAlert(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return alertDomain.ErrNotFound
	}
	return nil
}

// Ping 供健康檢查使用。
func (r *AlertRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
