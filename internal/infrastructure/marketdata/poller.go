package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"alert-scanner/internal/domain/market"
)

// KlineSource 提供 OHLCV 歷史資料。
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// Poller 為每個標的維護一份 K 線快取，並以固定週期在背景刷新。
// 刷新失敗時保留上一份成功的資料。
type Poller struct {
	source        KlineSource
	interval      string
	historyLength int
	pollInterval  time.Duration
	log           zerolog.Logger

	mu      sync.RWMutex
	candles map[string][]market.Candle
	stops   map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewPoller(source KlineSource, interval string, historyLength int, pollInterval time.Duration, log zerolog.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Poller{
		source:        source,
		interval:      interval,
		historyLength: historyLength,
		pollInterval:  pollInterval,
		log:           log,
		candles:       make(map[string][]market.Candle),
		stops:         make(map[string]chan struct{}),
	}
}

// Initialize 先抓取每個標的的初始歷史，再啟動各自的輪詢。
func (p *Poller) Initialize(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		candles, err := p.source.Klines(ctx, symbol, p.interval, p.historyLength)
		if err != nil {
			return fmt.Errorf("initial klines %s: %w", symbol, err)
		}
		p.store(symbol, candles)
		p.startPolling(symbol)
	}
	return nil
}

func (p *Poller) startPolling(symbol string) {
	p.mu.Lock()
	if _, exists := p.stops[symbol]; exists {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.stops[symbol] = stop
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.refresh(symbol, stop)
			}
		}
	}()
}

func (p *Poller) refresh(symbol string, stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	candles, err := p.source.Klines(ctx, symbol, p.interval, p.historyLength)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("refresh ohlcv failed")
		return
	}
	p.store(symbol, candles)
	if n := len(candles); n > 0 {
		p.log.Debug().Str("symbol", symbol).Float64("close", candles[n-1].Close).Msg("ohlcv updated")
	}
}

func (p *Poller) store(symbol string, candles []market.Candle) {
	p.mu.Lock()
	p.candles[symbol] = candles
	p.mu.Unlock()
}

// GetOHLCV 回傳快取的副本；尚未暖機時為空。
func (p *Poller) GetOHLCV(symbol string) []market.Candle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.candles[symbol]
	out := make([]market.Candle, len(src))
	copy(out, src)
	return out
}

// LatestPrice 回傳最新收盤價。
func (p *Poller) LatestPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := p.candles[symbol]
	if len(c) == 0 {
		return 0, false
	}
	return c[len(c)-1].Close, true
}

// StopPolling 停止單一標的的輪詢，快取保留。
func (p *Poller) StopPolling(symbol string) {
	p.mu.Lock()
	stop, ok := p.stops[symbol]
	if ok {
		delete(p.stops, symbol)
	}
	p.mu.Unlock()
	if ok {
		close(stop)
		p.log.Info().Str("symbol", symbol).Msg("polling stopped")
	}
}

// StopAll 停止所有輪詢並等待背景 goroutine 結束。
func (p *Poller) StopAll() {
	p.mu.RLock()
	symbols := make([]string, 0, len(p.stops))
	for s := range p.stops {
		symbols = append(symbols, s)
	}
	p.mu.RUnlock()

	for _, s := range symbols {
		p.StopPolling(s)
	}
	p.wg.Wait()
}
