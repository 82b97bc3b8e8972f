package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// DefaultCron 每五分鐘對帳一次。
const DefaultCron = "*/5 * * * *"

const reconcileJobTag = "reconcile"

// Runner 是排程要執行的對帳工作。
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Schedule 以 cron 表達式觸發對帳；重疊由 Runner 的租約處理，排程本身不做互斥。
type Schedule struct {
	cron   *gocron.Scheduler
	runner Runner
	log    zerolog.Logger

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// NewSchedule 註冊對帳工作，cron 表達式錯誤時回傳 error。
func NewSchedule(ctx context.Context, expr string, runner Runner, log zerolog.Logger) (*Schedule, error) {
	s := &Schedule{
		cron:   gocron.NewScheduler(time.UTC),
		runner: runner,
		log:    log,
	}
	if _, err := s.cron.Cron(expr).Tag(reconcileJobTag).Do(s.run, ctx); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", expr, err)
	}
	return s, nil
}

// Start 啟動排程（非阻塞）。
func (s *Schedule) Start() {
	s.cron.StartAsync()
	s.log.Info().Msg("reconcile schedule started")
}

// Stop 停止排程並等待進行中的工作結束，不依賴 gocron Stop 是否等待工作。
// ctx 到期時回傳 ctx.Err()，此時工作可能仍在執行。
func (s *Schedule) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.cron.Stop()
		s.running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Info().Msg("reconcile schedule stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Err(ctx.Err()).Msg("reconcile schedule stopped with a run still in flight")
		return ctx.Err()
	}
}

// RunNow 立即觸發一次排程工作（非同步），仍受租約約束。
func (s *Schedule) RunNow() error {
	return s.cron.RunByTag(reconcileJobTag)
}

func (s *Schedule) run(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	res, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled reconcile failed")
		return
	}
	if res.Skipped {
		s.log.Debug().Msg("scheduled reconcile skipped")
	}
}
