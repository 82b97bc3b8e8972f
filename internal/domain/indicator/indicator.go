// Package indicator wraps go-talib so every series is returned without its
// warm-up prefix: element i of the result belongs to the input sample at
// offset len(input)-len(result)+i. Inputs shorter than the lookback yield an
// empty result instead of a panic, so callers must check the length before
// indexing.
package indicator

import (
	talib "github.com/markcheno/go-talib"
)

const (
	DefaultRSIPeriod  = 14
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
	DefaultEMAPeriod  = 200
	DefaultATRPeriod  = 14
)

// MACDPoint 為單一時間點的 MACD 三元組。
type MACDPoint struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// RSI 計算相對強弱指標，period <= 1 時使用預設 14。
func RSI(closes []float64, period int) []float64 {
	if period <= 1 {
		period = DefaultRSIPeriod
	}
	if len(closes) < period+1 {
		return nil
	}
	return trim(talib.Rsi(closes, period), period)
}

// EMA 計算指數移動平均，第一個值以 SMA 作為種子。
func EMA(closes []float64, period int) []float64 {
	if period <= 0 {
		period = DefaultEMAPeriod
	}
	if len(closes) < period {
		return nil
	}
	return trim(talib.Ema(closes, period), period-1)
}

// MACD 計算 MACD 線、訊號線與柱狀體。
func MACD(closes []float64, fast, slow, signal int) []MACDPoint {
	if fast <= 0 {
		fast = DefaultMACDFast
	}
	if slow <= 0 {
		slow = DefaultMACDSlow
	}
	if signal <= 0 {
		signal = DefaultMACDSignal
	}
	if slow < fast {
		fast, slow = slow, fast
	}
	lookback := (slow - 1) + (signal - 1)
	if len(closes) <= lookback {
		return nil
	}

	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	out := make([]MACDPoint, 0, len(closes)-lookback)
	for i := lookback; i < len(closes); i++ {
		out = append(out, MACDPoint{MACD: macd[i], Signal: sig[i], Histogram: hist[i]})
	}
	return out
}

// ATR 計算平均真實區間（Wilder 平滑）。三個序列長度不一致時以最短者的尾端對齊。
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period <= 1 {
		period = DefaultATRPeriod
	}
	n := min(len(highs), len(lows), len(closes))
	if n < period+1 {
		return nil
	}
	h := highs[len(highs)-n:]
	l := lows[len(lows)-n:]
	c := closes[len(closes)-n:]
	return trim(talib.Atr(h, l, c, period), period)
}

// Last 回傳序列最後一個值；空序列時 ok 為 false。
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

func trim(values []float64, lookback int) []float64 {
	if lookback >= len(values) {
		return nil
	}
	out := make([]float64, len(values)-lookback)
	copy(out, values[lookback:])
	return out
}
