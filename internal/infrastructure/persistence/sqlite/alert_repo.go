package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	alertDomain "alert-scanner/internal/domain/alert"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol       TEXT NOT NULL,
	condition    TEXT NOT NULL,
	target_price REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'triggered', 'canceled')),
	created_at   DATETIME NOT NULL,
	note         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol_status ON alerts(symbol, status);
`

const alertColumns = `id, symbol, condition, target_price, status, created_at, note`

// Open 開啟（或建立）本機 SQLite 資料庫並套用 schema。
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// AlertRepo 是單機部署的預設警報儲存。
type AlertRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (alertDomain.Alert, error) {
	var a alertDomain.Alert
	var condition, status string
	if err := row.Scan(&a.ID, &a.Symbol, &condition, &a.TargetPrice, &status, timestamp{&a.CreatedAt}, &a.Note); err != nil {
		return alertDomain.Alert{}, err
	}
	a.Condition = alertDomain.Condition(condition)
	a.Status = alertDomain.Status(status)
	return a, nil
}

// timestamp 接受 driver 已解析的 time.Time，或 RETURNING 回傳的原始字串。
type timestamp struct {
	dst *time.Time
}

func (ts timestamp) Scan(v any) error {
	var raw string
	switch x := v.(type) {
	case time.Time:
		*ts.dst = x
		return nil
	case string:
		raw = x
	case []byte:
		raw = string(x)
	case nil:
		*ts.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			*ts.dst = t
			return nil
		}
	}
	return fmt.Errorf("parse timestamp %q", raw)
}

func (r *AlertRepo) query(ctx context.Context, q string, args ...any) ([]alertDomain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
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

func (r *AlertRepo) CreateAlert(ctx context.Context, a alertDomain.Alert) (alertDomain.Alert, error) {
	status := a.Status
	if status == "" {
		status = alertDomain.StatusActive
	}
	q := `INSERT INTO alerts (symbol, condition, target_price, status, created_at, note)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + alertColumns
	created, err := scanAlert(r.db.QueryRowContext(ctx, q, a.Symbol, string(a.Condition), a.TargetPrice, string(status), r.now().UTC(), a.Note))
	if err != nil {
		return alertDomain.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

func (r *AlertRepo) GetAlert(ctx context.Context, id int64) (alertDomain.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Alert{}, alertDomain.ErrNotFound
	}
	return a, err
}

func (r *AlertRepo) ListAlerts(ctx context.Context, status alertDomain.Status) ([]alertDomain.Alert, error) {
	if status == "" {
		return r.query(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY id`)
	}
	return r.query(ctx, `SELECT `+alertColumns+` FROM alerts WHERE status = ? ORDER BY id`, string(status))
}

func (r *AlertRepo) GetAlertsBySymbol(ctx context.Context, symbol string, status alertDomain.Status) ([]alertDomain.Alert, error) {
	return r.query(ctx, `SELECT `+alertColumns+` FROM alerts WHERE symbol = ? AND status = ? ORDER BY id`, symbol, string(status))
}

// UpdateAlertStatus 僅更新仍為 active 的警報。
func (r *AlertRepo) UpdateAlertStatus(ctx context.Context, id int64, status alertDomain.Status) (alertDomain.Alert, error) {
	if !status.Terminal() {
		return alertDomain.Alert{}, alertDomain.ErrInvalidTransition
	}
	q := `UPDATE alerts SET status = ? WHERE id = ? AND status = 'active' RETURNING ` + alertColumns
	updated, err := scanAlert(r.db.QueryRowContext(ctx, q, string(status), id))
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
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

func (r *AlertRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
