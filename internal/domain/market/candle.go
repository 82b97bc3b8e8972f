package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInsufficientData 表示樣本數不足以進行計算，呼叫端應視為略過而非失敗。
var ErrInsufficientData = errors.New("insufficient market data")

// Candle 為單一時間區間的 OHLCV 樣本。
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Finite 回傳此樣本的 high/low/close/volume 是否皆為有限數值。
func (c Candle) Finite() bool {
	return finite(c.High) && finite(c.Low) && finite(c.Close) && finite(c.Volume)
}

// Series 是訊號產生器使用的平行序列，由舊到新排列。
type Series struct {
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

// Len 回傳序列長度。
func (s Series) Len() int {
	return len(s.Closes)
}

// LastClose 回傳最新收盤價；序列為空時 ok 為 false。
func (s Series) LastClose() (float64, bool) {
	if len(s.Closes) == 0 {
		return 0, false
	}
	return s.Closes[len(s.Closes)-1], true
}

// SeriesFromCandles 將 K 線轉為平行序列，並剔除含非有限值的樣本。
// 剔除整根 K 線而非單一欄位，確保四個序列仍然對齊。
func SeriesFromCandles(candles []Candle) Series {
	s := Series{
		Highs:   make([]float64, 0, len(candles)),
		Lows:    make([]float64, 0, len(candles)),
		Closes:  make([]float64, 0, len(candles)),
		Volumes: make([]float64, 0, len(candles)),
	}
	for _, c := range candles {
		if !c.Finite() {
			continue
		}
		s.Highs = append(s.Highs, c.High)
		s.Lows = append(s.Lows, c.Low)
		s.Closes = append(s.Closes, c.Close)
		s.Volumes = append(s.Volumes, c.Volume)
	}
	return s
}

// Usable 檢查原始與剔除非有限值後的樣本數皆達 min，否則回傳包裝過的 ErrInsufficientData。
func Usable(candles []Candle, min int) (Series, error) {
	if len(candles) < min {
		return Series{}, fmt.Errorf("%w: %d candles, need %d", ErrInsufficientData, len(candles), min)
	}
	s := SeriesFromCandles(candles)
	if s.Len() < min {
		return s, fmt.Errorf("%w: %d finite samples, need %d", ErrInsufficientData, s.Len(), min)
	}
	return s, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
