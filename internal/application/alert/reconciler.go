package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alertDomain "alert-scanner/internal/domain/alert"
	"alert-scanner/internal/domain/market"
	"alert-scanner/internal/domain/signal"
	"alert-scanner/internal/infrastructure/lease"
	"alert-scanner/internal/infrastructure/metrics"
	"alert-scanner/internal/infrastructure/notify"
)

// DefaultMinCandles 是對帳時單一標的所需的最少有效 K 線數。
const DefaultMinCandles = 50

// DefaultLeaseTTL 是單次對帳租約的預設存活時間。
const DefaultLeaseTTL = 10 * time.Minute

// AlertStore 提供對帳所需的警報讀寫。
type AlertStore interface {
	GetAlertsBySymbol(ctx context.Context, symbol string, status alertDomain.Status) ([]alertDomain.Alert, error)
	UpdateAlertStatus(ctx context.Context, id int64, status alertDomain.Status) (alertDomain.Alert, error)
}

// MarketData 提供已快取的 OHLCV。
type MarketData interface {
	GetOHLCV(symbol string) []market.Candle
}

// SignalGenerator 將序列轉為訊號。
type SignalGenerator interface {
	Generate(symbol string, series market.Series) signal.Signal
}

// Notifier 寄送觸發通知。
type Notifier interface {
	SendText(ctx context.Context, text string) error
}

// RunResult 彙總一次對帳。
type RunResult struct {
	Skipped   bool          `json:"skipped"`
	Symbols   int           `json:"symbols"`
	Evaluated int           `json:"evaluated"`
	Triggered int           `json:"triggered"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler 以租約保證同一時間只有一次對帳在執行，將命中的 active 警報轉為 triggered 並通知。
type Reconciler struct {
	lease      lease.Lease
	leaseTTL   time.Duration
	store      AlertStore
	market     MarketData
	generator  SignalGenerator
	notifier   Notifier
	symbols    []string
	minCandles int
	metrics    *metrics.Recorder
	log        zerolog.Logger

	mu    sync.Mutex
	token string
}

// ReconcilerOption 調整 Reconciler。
type ReconcilerOption func(*Reconciler)

// WithLeaseTTL 設定租約存活時間。
func WithLeaseTTL(ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.leaseTTL = ttl
		}
	}
}

// WithMinCandles 設定最少有效 K 線數。
func WithMinCandles(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.minCandles = n
		}
	}
}

// WithMetrics 掛上 Prometheus 指標。
func WithMetrics(rec *metrics.Recorder) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = rec }
}

// NewReconciler 建立對帳器。
func NewReconciler(l lease.Lease, store AlertStore, md MarketData, gen SignalGenerator, n Notifier, symbols []string, log zerolog.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		lease:      l,
		leaseTTL:   DefaultLeaseTTL,
		store:      store,
		market:     md,
		generator:  gen,
		notifier:   n,
		symbols:    append([]string(nil), symbols...),
		minCandles: DefaultMinCandles,
		log:        log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 執行一次對帳。租約被佔用時直接略過，回傳 Skipped 且不變更任何警報。
func (r *Reconciler) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()

	token, err := r.lease.Acquire(ctx, r.leaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		r.log.Info().Msg("skip: previous reconcile run still in progress")
		r.metrics.ReconcileRun(metrics.RunSkipped, 0)
		return RunResult{Skipped: true}, nil
	}
	if err != nil {
		r.metrics.ReconcileRun(metrics.RunFailed, time.Since(start))
		return RunResult{}, fmt.Errorf("acquire reconcile lease: %w", err)
	}
	r.setToken(token)
	defer r.release(ctx, token)

	res := RunResult{Symbols: len(r.symbols)}
	var errs []error
	for _, symbol := range r.symbols {
		evaluated, triggered, err := r.reconcileSymbol(ctx, symbol)
		res.Evaluated += evaluated
		res.Triggered += triggered
		if err != nil {
			r.log.Error().Err(err).Str("symbol", symbol).Msg("reconcile symbol failed")
			errs = append(errs, err)
		}
	}
	res.Duration = time.Since(start)

	if err := errors.Join(errs...); err != nil {
		r.metrics.ReconcileRun(metrics.RunFailed, res.Duration)
		return res, err
	}
	r.metrics.ReconcileRun(metrics.RunCompleted, res.Duration)
	r.log.Info().Int("evaluated", res.Evaluated).Int("triggered", res.Triggered).Dur("took", res.Duration).Msg("reconcile run finished")
	return res, nil
}

// Close 釋放目前持有的租約（若有），供收到終止訊號時呼叫。
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	token := r.token
	r.token = ""
	r.mu.Unlock()
	if token == "" {
		return nil
	}
	if err := r.lease.Release(ctx, token); err != nil && !errors.Is(err, lease.ErrNotHeld) {
		return fmt.Errorf("release reconcile lease: %w", err)
	}
	return nil
}

func (r *Reconciler) setToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

func (r *Reconciler) release(ctx context.Context, token string) {
	r.mu.Lock()
	if r.token != token {
		// 已由 Close 釋放
		r.mu.Unlock()
		return
	}
	r.token = ""
	r.mu.Unlock()

	if err := r.lease.Release(context.WithoutCancel(ctx), token); err != nil {
		r.log.Warn().Err(err).Msg("release reconcile lease")
	}
}

func (r *Reconciler) reconcileSymbol(ctx context.Context, symbol string) (evaluated, triggered int, err error) {
	series, err := market.Usable(r.market.GetOHLCV(symbol), r.minCandles)
	if err != nil {
		r.log.Debug().Str("symbol", symbol).Err(err).Msg("skip")
		return 0, 0, nil
	}
	price, _ := series.LastClose()
	sig := r.generator.Generate(symbol, series)

	alerts, err := r.store.GetAlertsBySymbol(ctx, symbol, alertDomain.StatusActive)
	if err != nil {
		return 0, 0, fmt.Errorf("list active alerts for %s: %w", symbol, err)
	}

	for _, a := range alerts {
		if a.Status != alertDomain.StatusActive {
			r.log.Warn().Int64("alert_id", a.ID).Str("status", string(a.Status)).Msg("store returned non-active alert, skipped")
			continue
		}
		evaluated++
		if !a.Matches(sig, price) {
			continue
		}

		updated, err := r.store.UpdateAlertStatus(ctx, a.ID, alertDomain.StatusTriggered)
		if errors.Is(err, alertDomain.ErrInvalidTransition) || errors.Is(err, alertDomain.ErrNotFound) {
			r.log.Debug().Int64("alert_id", a.ID).Err(err).Msg("alert changed during run, skipped")
			continue
		}
		if err != nil {
			return evaluated, triggered, fmt.Errorf("trigger alert %d: %w", a.ID, err)
		}
		triggered++
		r.metrics.AlertTriggered()

		// 狀態轉換為準，通知失敗只記錄。
		if err := r.notifier.SendText(ctx, FormatTriggered(updated, sig, price)); err != nil {
			r.log.Warn().Err(err).Int64("alert_id", a.ID).Msg("alert triggered but notification failed")
		}
	}
	return evaluated, triggered, nil
}

// FormatTriggered 產生警報觸發通知內容。
func FormatTriggered(a alertDomain.Alert, sig signal.Signal, price float64) string {
	lines := []string{
		"🔔 ALERT TRIGGERED",
		"• Symbol: " + a.Symbol,
		"• Condition: " + describeCondition(a),
		fmt.Sprintf("• Signal: %s (%d%%)", strings.ToUpper(string(sig.Direction)), sig.Confidence),
		"• Price: " + notify.Price(price),
	}
	if roi, err := signal.EstimateROI(sig.LastATR, price, sig.Direction); err == nil {
		lines = append(lines, "• Est. ROI: "+notify.Percent(roi))
	}
	if len(sig.Reasons) > 0 {
		lines = append(lines, "• Reasons: "+strings.Join(sig.Reasons, "; "))
	}
	if a.Note != "" {
		lines = append(lines, "• Note: "+a.Note)
	}
	return strings.Join(lines, "\n")
}

func describeCondition(a alertDomain.Alert) string {
	if a.Condition.NeedsTargetPrice() {
		return string(a.Condition) + " " + notify.Price(a.TargetPrice)
	}
	return string(a.Condition)
}
