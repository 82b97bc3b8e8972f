package scanner

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"alert-scanner/internal/domain/market"
	"alert-scanner/internal/domain/signal"
	"alert-scanner/internal/infrastructure/metrics"
	"alert-scanner/internal/infrastructure/notify"
)

// MinCandles 是掃描單一標的所需的最少 K 線數。
const MinCandles = signal.MinCandles

const maxReasonsInMessage = 6

// MarketData 提供已快取的 OHLCV。
type MarketData interface {
	GetOHLCV(symbol string) []market.Candle
}

// SignalGenerator 將序列轉為訊號。
type SignalGenerator interface {
	Generate(symbol string, series market.Series) signal.Signal
	RiskRewardTarget() float64
}

// Notifier 為 best-effort 通知通道。
type Notifier interface {
	SendText(ctx context.Context, text string) error
	GoText(ctx context.Context, text string)
}

// Options 為掃描器的可調參數。
type Options struct {
	Interval              time.Duration
	Concurrency           int
	Cooldown              time.Duration
	Jitter                time.Duration
	Retries               int
	HeartbeatEvery        int
	RequireATRFeasibility bool
}

// DefaultOptions 回傳預設掃描參數。
func DefaultOptions() Options {
	return Options{
		Interval:              15 * time.Second,
		Concurrency:           3,
		Cooldown:              5 * time.Minute,
		Jitter:                250 * time.Millisecond,
		Retries:               1,
		HeartbeatEvery:        20,
		RequireATRFeasibility: true,
	}
}

// CycleResult 彙總一次掃描的結果。
type CycleResult struct {
	Cycle    int64
	Symbols  int
	Outcomes map[string]int
	Duration time.Duration
}

// Scanner 以有限的 worker 數輪詢所有標的並發送訊號通知。
type Scanner struct {
	market    MarketData
	generator SignalGenerator
	notifier  Notifier
	symbols   []string
	opts      Options
	log       zerolog.Logger
	metrics   *metrics.Recorder

	now   func() time.Time
	sleep sleepFunc

	cooldown  *cooldownLedger
	scanCount atomic.Int64
	cycleMu   sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New 建立掃描器。Concurrency 小於 1 時視為 1。
func New(md MarketData, gen SignalGenerator, n Notifier, symbols []string, opts Options, log zerolog.Logger, rec *metrics.Recorder) *Scanner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	return &Scanner{
		market:    md,
		generator: gen,
		notifier:  n,
		symbols:   append([]string(nil), symbols...),
		opts:      opts,
		log:       log,
		metrics:   rec,
		now:       time.Now,
		sleep:     sleepContext,
		cooldown:  newCooldownLedger(opts.Cooldown),
	}
}

// Start 啟動掃描迴圈：立即執行一次，之後依 Interval 重複。已在執行時為 no-op 並回傳 false。
func (s *Scanner) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stop, s.done)
	s.log.Info().Int("symbols", len(s.symbols)).Dur("interval", s.opts.Interval).Msg("scanner started")
	return true
}

// Stop 停止排程並等待進行中的掃描完成。未執行時為 no-op 並回傳 false。
func (s *Scanner) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info().Int64("scans", s.scanCount.Load()).Msg("scanner stopped")
	return true
}

// Running 回傳掃描迴圈是否啟動中。
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScanCount 回傳累計掃描次數。
func (s *Scanner) ScanCount() int64 {
	return s.scanCount.Load()
}

func (s *Scanner) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		// ctx 結束時迴圈自行退出；若不是 Stop 造成的，需清除 running 才能再次 Start。
		s.mu.Lock()
		if s.running && s.stop == stop {
			s.running = false
			s.log.Info().Int64("scans", s.scanCount.Load()).Msg("scanner stopped: context done")
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// 進行中的掃描不受 Stop 影響，只會在下一次排程前檢查。
	cycleCtx := context.WithoutCancel(ctx)
	s.RunOnce(cycleCtx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			s.RunOnce(cycleCtx)
		}
	}
}

// RunOnce 執行一次完整掃描：所有標的放入佇列，由 min(Concurrency, 標的數) 個 worker 取用，全部完成後才返回。
func (s *Scanner) RunOnce(ctx context.Context) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	cycle := s.scanCount.Add(1)

	if every := s.opts.HeartbeatEvery; every > 0 && cycle%int64(every) == 0 {
		s.notifier.GoText(ctx, fmt.Sprintf("🫀 Heartbeat: scan #%d over %d symbols.", cycle, len(s.symbols)))
	}

	queue := make(chan string, len(s.symbols))
	for _, symbol := range s.symbols {
		queue <- symbol
	}
	close(queue)

	tally := newTally()
	workers := min(s.opts.Concurrency, len(s.symbols))

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			s.worker(ctx, queue, tally)
			return nil
		})
	}
	_ = g.Wait()

	result := CycleResult{
		Cycle:    cycle,
		Symbols:  len(s.symbols),
		Outcomes: tally.snapshot(),
		Duration: time.Since(start),
	}
	s.metrics.ScanCycle(result.Duration)
	s.log.Debug().Int64("cycle", cycle).Interface("outcomes", result.Outcomes).Dur("took", result.Duration).Msg("scan cycle finished")
	return result
}

func (s *Scanner) worker(ctx context.Context, queue <-chan string, tally *tally) {
	for symbol := range queue {
		outcome := s.scanSymbol(ctx, symbol)
		tally.add(outcome)
		s.metrics.SymbolOutcome(outcome)
	}
}

// scanSymbol 處理單一標的；任何錯誤或 panic 都在此被攔下，不影響其他標的。
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("symbol", symbol).Interface("panic", r).Msg("scan worker recovered")
			outcome = metrics.OutcomeError
		}
	}()

	if s.opts.Jitter > 0 {
		if err := s.sleep(ctx, rand.N(s.opts.Jitter)); err != nil {
			return metrics.OutcomeError
		}
	}

	err := withRetries(ctx, s.opts.Retries, s.sleep, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		outcome, err = s.processSymbol(ctx, symbol)
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Int("retries", s.opts.Retries).Msg("scan failed after retries")
		s.notifier.GoText(ctx, fmt.Sprintf("⚠️ %s scan error: %v", symbol, err))
		return metrics.OutcomeError
	}
	return outcome
}

func (s *Scanner) processSymbol(ctx context.Context, symbol string) (string, error) {
	series, err := market.Usable(s.market.GetOHLCV(symbol), MinCandles)
	if err != nil {
		s.log.Debug().Str("symbol", symbol).Err(err).Msg("skip")
		return metrics.OutcomeSkippedData, nil
	}
	price, _ := series.LastClose()

	sig := s.generator.Generate(symbol, series)
	if !sig.Actionable() {
		return metrics.OutcomeHold, nil
	}

	target := s.generator.RiskRewardTarget()
	if s.opts.RequireATRFeasibility && sig.LastATR > 0 && !signal.Feasible(sig.LastATR, price, target) {
		s.log.Debug().Str("symbol", symbol).Float64("est_move_pct", signal.EstimatedMovePct(sig.LastATR, price)).Float64("target", target).Msg("skip: volatility below target")
		return metrics.OutcomeSkippedFeasibility, nil
	}

	now := s.now()
	prev, ok := s.cooldown.tryAcquire(symbol, now)
	if !ok {
		s.log.Debug().Str("symbol", symbol).Time("last_alert_at", prev).Msg("skip: cooldown")
		return metrics.OutcomeSkippedCooldown, nil
	}

	if err := s.notifier.SendText(ctx, FormatSignal(symbol, price, sig, target)); err != nil {
		s.cooldown.rollback(symbol, now, prev)
		return "", fmt.Errorf("send %s signal: %w", symbol, err)
	}
	s.log.Info().Str("symbol", symbol).Str("direction", string(sig.Direction)).Int("confidence", sig.Confidence).Msg("signal notified")
	return metrics.OutcomeNotified, nil
}

// FormatSignal 產生買賣訊號通知內容，理由最多列出前六項。
func FormatSignal(symbol string, price float64, sig signal.Signal, target float64) string {
	header := "🚀 BUY SIGNAL"
	if sig.Direction == signal.DirectionSell {
		header = "🔻 SELL SIGNAL"
	}
	lines := []string{
		header,
		"• Symbol: " + symbol,
		fmt.Sprintf("• Confidence: %d%%", sig.Confidence),
		"• Price: " + notify.Price(price),
	}
	if sig.StopLoss != nil {
		lines = append(lines, "• Stop: "+notify.Price(*sig.StopLoss))
	}
	if sig.TakeProfit != nil {
		lines = append(lines, fmt.Sprintf("• Take Profit: %s (~%s%%)", notify.Price(*sig.TakeProfit), notify.Number(target)))
	}
	if len(sig.Reasons) > 0 {
		lines = append(lines, "• Reasons:")
		for _, r := range sig.Reasons[:min(len(sig.Reasons), maxReasonsInMessage)] {
			lines = append(lines, "   - "+r)
		}
	}
	return strings.Join(lines, "\n")
}

type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(outcome string) {
	t.mu.Lock()
	t.counts[outcome]++
	t.mu.Unlock()
}

func (t *tally) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
