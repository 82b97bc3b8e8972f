package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Symbol outcomes recorded per unit of scanner work.
const (
	OutcomeNotified           = "notified"
	OutcomeHold               = "hold"
	OutcomeSkippedData        = "skipped_data"
	OutcomeSkippedFeasibility = "skipped_feasibility"
	OutcomeSkippedCooldown    = "skipped_cooldown"
	OutcomeError              = "error"
)

// Reconcile run results.
const (
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

// Recorder 收集掃描器、對帳器與通知的 Prometheus 指標。nil Recorder 的方法皆為 no-op。
type Recorder struct {
	gatherer prometheus.Gatherer

	scanCycles        prometheus.Counter
	scanDuration      prometheus.Histogram
	symbolOutcomes    *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	alertsTriggered   prometheus.Counter
}

// NewRecorder 在指定 registry 上註冊指標；測試時傳入新的 prometheus.NewRegistry()。
func NewRecorder(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		scanCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Total scan cycles started",
		}),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall-clock duration of one scan cycle",
			Buckets: prometheus.DefBuckets,
		}),
		symbolOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_symbol_outcomes_total",
			Help: "Per-symbol scan results",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification attempts by kind and status",
		}, []string{"kind", "status"}),
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_runs_total",
			Help: "Alert reconciliation runs by result",
		}, []string{"result"}),
		reconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_run_duration_seconds",
			Help:    "Duration of reconciliation runs that acquired the lease",
			Buckets: prometheus.DefBuckets,
		}),
		alertsTriggered: f.NewCounter(prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Alerts transitioned to triggered",
		}),
	}
}

func (r *Recorder) ScanCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.scanCycles.Inc()
	r.scanDuration.Observe(d.Seconds())
}

func (r *Recorder) SymbolOutcome(outcome string) {
	if r == nil {
		return
	}
	r.symbolOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Notification(kind string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.notifications.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) ReconcileRun(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.reconcileRuns.WithLabelValues(result).Inc()
	if result != RunSkipped {
		r.reconcileDuration.Observe(d.Seconds())
	}
}

func (r *Recorder) AlertTriggered() {
	if r == nil {
		return
	}
	r.alertsTriggered.Inc()
}

// Handler 回傳 /metrics 的 HTTP handler。
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
