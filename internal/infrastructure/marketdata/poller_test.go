package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alert-scanner/internal/domain/market"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeSource) Klines(_ context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.fail[symbol] {
		return nil, errors.New("exchange unavailable")
	}
	n := f.calls[symbol]
	out := make([]market.Candle, limit)
	for i := range out {
		out[i] = market.Candle{Close: float64(n*1000 + i)}
	}
	return out, nil
}

func (f *fakeSource) setFail(symbol string, fail bool) {
	f.mu.Lock()
	f.fail[symbol] = fail
	f.mu.Unlock()
}

func (f *fakeSource) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoller_InitializeAndRefresh(t *testing.T) {
	src := newFakeSource()
	p := NewPoller(src, "1m", 5, 10*time.Millisecond, zerolog.Nop())
	defer p.StopAll()

	if got := p.GetOHLCV("BTCUSDT"); len(got) != 0 {
		t.Fatalf("expected empty cache before initialize, got %d", len(got))
	}
	if _, ok := p.LatestPrice("BTCUSDT"); ok {
		t.Fatal("expected no price before initialize")
	}

	if err := p.Initialize(context.Background(), []string{"BTCUSDT", "ETHUSDT"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	candles := p.GetOHLCV("BTCUSDT")
	if len(candles) != 5 || candles[4].Close != 1004 {
		t.Fatalf("unexpected initial cache %+v", candles)
	}

	candles[0].Close = -1
	if p.GetOHLCV("BTCUSDT")[0].Close == -1 {
		t.Fatal("GetOHLCV must return a copy")
	}

	waitFor(t, func() bool { return src.count("ETHUSDT") >= 2 })
	waitFor(t, func() bool {
		price, ok := p.LatestPrice("ETHUSDT")
		return ok && price >= 2004
	})
}

func TestPoller_FailureKeepsCache(t *testing.T) {
	src := newFakeSource()
	p := NewPoller(src, "1m", 3, 10*time.Millisecond, zerolog.Nop())
	defer p.StopAll()

	if err := p.Initialize(context.Background(), []string{"SOLUSDT"}); err != nil {
		t.Fatal(err)
	}
	src.setFail("SOLUSDT", true)
	before := src.count("SOLUSDT")
	waitFor(t, func() bool { return src.count("SOLUSDT") > before+1 })

	if got := p.GetOHLCV("SOLUSDT"); len(got) != 3 {
		t.Fatalf("expected cache kept after failed refresh, got %d candles", len(got))
	}
}

func TestPoller_InitializeError(t *testing.T) {
	src := newFakeSource()
	src.setFail("BAD", true)
	p := NewPoller(src, "1m", 3, time.Minute, zerolog.Nop())
	if err := p.Initialize(context.Background(), []string{"BAD"}); err == nil {
		t.Fatal("expected initialize error")
	}
	p.StopAll()
}

func TestPoller_StopPolling(t *testing.T) {
	src := newFakeSource()
	p := NewPoller(src, "1m", 2, 10*time.Millisecond, zerolog.Nop())
	if err := p.Initialize(context.Background(), []string{"XRPUSDT"}); err != nil {
		t.Fatal(err)
	}
	p.StopPolling("XRPUSDT")
	p.StopPolling("XRPUSDT")
	p.StopAll()

	after := src.count("XRPUSDT")
	time.Sleep(40 * time.Millisecond)
	if src.count("XRPUSDT") != after {
		t.Fatal("polling continued after stop")
	}
	if len(p.GetOHLCV("XRPUSDT")) != 2 {
		t.Fatal("cache should survive StopPolling")
	}
}
