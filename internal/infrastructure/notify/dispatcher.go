package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"alert-scanner/internal/infrastructure/metrics"
)

// Transport 為實際投遞通知的通道（Telegram 或日誌）。
type Transport interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoURL, caption string) error
	SendDocument(ctx context.Context, path, caption string) error
}

const (
	KindText     = "text"
	KindPhoto    = "photo"
	KindDocument = "document"
)

const defaultAsyncTimeout = 15 * time.Second

// Dispatcher 是 best-effort 的通知轉接層：失敗會記錄與計數，但不會讓呼叫端的業務流程中斷。
type Dispatcher struct {
	transport Transport
	log       zerolog.Logger
	metrics   *metrics.Recorder
	timeout   time.Duration

	wg       sync.WaitGroup
	failures atomic.Int64
}

func NewDispatcher(transport Transport, log zerolog.Logger, rec *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		log:       log,
		metrics:   rec,
		timeout:   defaultAsyncTimeout,
	}
}

// SendText 同步送出文字訊息；回傳的錯誤呼叫端可以忽略。
func (d *Dispatcher) SendText(ctx context.Context, text string) error {
	return d.deliver(ctx, KindText, func(ctx context.Context) error {
		return d.transport.SendMessage(ctx, text)
	})
}

// SendPhoto 同步送出圖片。
func (d *Dispatcher) SendPhoto(ctx context.Context, photoURL, caption string) error {
	return d.deliver(ctx, KindPhoto, func(ctx context.Context) error {
		return d.transport.SendPhoto(ctx, photoURL, caption)
	})
}

// SendDocument 同步送出文件。
func (d *Dispatcher) SendDocument(ctx context.Context, path, caption string) error {
	return d.deliver(ctx, KindDocument, func(ctx context.Context) error {
		return d.transport.SendDocument(ctx, path, caption)
	})
}

// GoText 非同步送出文字訊息（心跳、警告等）。呼叫端的取消不會中斷送出。
func (d *Dispatcher) GoText(ctx context.Context, text string) {
	d.Go(ctx, KindText, func(ctx context.Context) error {
		return d.transport.SendMessage(ctx, text)
	})
}

// Go 以背景 goroutine 執行一次投遞，失敗只會記錄；Wait 可等待全部完成。
func (d *Dispatcher) Go(ctx context.Context, kind string, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		_ = d.deliver(sendCtx, kind, send)
	}()
}

// Wait 等待所有非同步投遞結束。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Failures 回傳累計失敗次數。
func (d *Dispatcher) Failures() int64 {
	return d.failures.Load()
}

func (d *Dispatcher) deliver(ctx context.Context, kind string, send func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify %s panic: %v", kind, r)
		}
		d.metrics.Notification(kind, err)
		if err != nil {
			d.failures.Add(1)
			d.log.Warn().Err(err).Str("kind", kind).Msg("notification failed")
			return
		}
		d.log.Debug().Str("kind", kind).Msg("notification sent")
	}()
	return send(ctx)
}
