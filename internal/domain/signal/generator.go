package signal

import (
	"fmt"
	"math"
	"sync/atomic"

	"alert-scanner/internal/domain/indicator"
	"alert-scanner/internal/domain/market"
)

const (
	// MinCandles 是進行 EMA200 判斷所需的最少收盤價數。
	MinCandles = 200

	defaultCrossoverWindow = 10
	fastEMAPeriod          = 50
	slowEMAPeriod          = 200
	rsiOversold            = 30.0
	rsiOverbought          = 70.0
	pointsPerVote          = 25
	volumeLookback         = 20
	volumeSpikeRatio       = 1.5
	volumeBonus            = 10
	stopLossATRMultiple    = 1.5
)

// Generator 將 OHLCV 序列轉換為方向性訊號。
//
// 四個指標各投一票：RSI 區間、MACD 柱狀體於最新一根翻正/翻負、EMA50/EMA200
// 於觀察窗內交叉、價格相對 EMA200 的趨勢。至少兩票且多於反方才會給出方向，
// 之後再經可行性檢查（3×ATR 的預估波動 >= 目標報酬）。
type Generator struct {
	riskRewardTarget float64
	crossoverWindow  int
	lastATR          atomic.Uint64
}

// Option 調整 Generator 設定。
type Option func(*Generator)

// WithCrossoverWindow 設定交叉偵測的回看根數。
func WithCrossoverWindow(bars int) Option {
	return func(g *Generator) {
		if bars > 0 {
			g.crossoverWindow = bars
		}
	}
}

// NewGenerator 建立訊號產生器，riskRewardTarget 為百分比（例如 3 代表 3%）。
func NewGenerator(riskRewardTarget float64, opts ...Option) *Generator {
	g := &Generator{
		riskRewardTarget: riskRewardTarget,
		crossoverWindow:  defaultCrossoverWindow,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RiskRewardTarget 回傳設定的目標報酬百分比。
func (g *Generator) RiskRewardTarget() float64 {
	return g.riskRewardTarget
}

// LastATR 回傳最近一次 Generate 計算出的 ATR（後寫者勝）。
// 併發呼叫時請改用 Signal.LastATR。
func (g *Generator) LastATR() float64 {
	return math.Float64frombits(g.lastATR.Load())
}

// Generate 計算單一標的的訊號。輸入需事先剔除非有限值。
func (g *Generator) Generate(symbol string, series market.Series) Signal {
	highs, lows, closes, volumes := aligned(series)

	sig := Signal{
		Symbol:           symbol,
		Direction:        DirectionHold,
		Crossover:        CrossoverNone,
		Reasons:          []string{},
		RiskRewardTarget: g.riskRewardTarget,
	}

	atr, _ := indicator.Last(indicator.ATR(highs, lows, closes, indicator.DefaultATRPeriod))
	g.lastATR.Store(math.Float64bits(atr))
	sig.LastATR = atr

	if len(closes) == 0 {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s: no closes", reasonInsufficient))
		return sig
	}
	price := closes[len(closes)-1]
	sig.Price = price

	if len(closes) < MinCandles {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s: %d/%d closes", reasonInsufficient, len(closes), MinCandles))
		return sig
	}

	var bull, bear int

	if rsi, ok := indicator.Last(indicator.RSI(closes, indicator.DefaultRSIPeriod)); ok {
		switch {
		case rsi < rsiOversold:
			bull++
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s (%.1f)", reasonRSIOversold, rsi))
		case rsi > rsiOverbought:
			bear++
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s (%.1f)", reasonRSIOverbought, rsi))
		}
	}

	if macd := indicator.MACD(closes, indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal); len(macd) >= 2 {
		prev, curr := macd[len(macd)-2].Histogram, macd[len(macd)-1].Histogram
		switch {
		case prev <= 0 && curr > 0:
			bull++
			sig.Reasons = append(sig.Reasons, ReasonMACDBullish)
		case prev >= 0 && curr < 0:
			bear++
			sig.Reasons = append(sig.Reasons, ReasonMACDBearish)
		}
	}

	fast := indicator.EMA(closes, fastEMAPeriod)
	slow := indicator.EMA(closes, slowEMAPeriod)
	sig.Crossover = detectCrossover(fast, slow, g.crossoverWindow)
	switch sig.Crossover {
	case CrossoverGolden:
		bull++
		sig.Reasons = append(sig.Reasons, ReasonGoldenCross)
	case CrossoverDeath:
		bear++
		sig.Reasons = append(sig.Reasons, ReasonDeathCross)
	}

	if ema200, ok := indicator.Last(slow); ok {
		switch {
		case price > ema200:
			bull++
			sig.Reasons = append(sig.Reasons, ReasonAboveEMA200)
		case price < ema200:
			bear++
			sig.Reasons = append(sig.Reasons, ReasonBelowEMA200)
		}
	}

	bonus := 0
	if ratio, ok := volumeRatio(volumes); ok && ratio >= volumeSpikeRatio {
		bonus = volumeBonus
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s (%.1fx %d-bar average)", reasonVolumeSpike, ratio, volumeLookback))
	}

	dominant := 0
	switch {
	case bull >= 2 && bull > bear:
		sig.Direction = DirectionBuy
		dominant = bull
	case bear >= 2 && bear > bull:
		sig.Direction = DirectionSell
		dominant = bear
	default:
		return sig
	}

	move := EstimatedMovePct(atr, price)
	if move < g.riskRewardTarget {
		sig.Direction = DirectionHold
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("%s: est. move %.2f%% < target %.2f%%", reasonLowVolatility, move, g.riskRewardTarget))
		return sig
	}

	sig.Confidence = min(100, dominant*pointsPerVote+bonus)
	sig.StopLoss, sig.TakeProfit = levels(sig.Direction, price, atr, g.riskRewardTarget)
	return sig
}

// detectCrossover 在最近 window 根內尋找快線穿越慢線，且目前仍維持交叉後的相對位置。
func detectCrossover(fast, slow []float64, window int) Crossover {
	n := min(len(fast), len(slow))
	if n < 2 {
		return CrossoverNone
	}
	f := fast[len(fast)-n:]
	s := slow[len(slow)-n:]

	from := max(1, n-window)
	switch {
	case f[n-1] > s[n-1]:
		for j := n - 1; j >= from; j-- {
			if f[j-1] <= s[j-1] && f[j] > s[j] {
				return CrossoverGolden
			}
		}
	case f[n-1] < s[n-1]:
		for j := n - 1; j >= from; j-- {
			if f[j-1] >= s[j-1] && f[j] < s[j] {
				return CrossoverDeath
			}
		}
	}
	return CrossoverNone
}

func volumeRatio(volumes []float64) (float64, bool) {
	if len(volumes) < volumeLookback+1 {
		return 0, false
	}
	window := volumes[len(volumes)-volumeLookback-1 : len(volumes)-1]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(volumeLookback)
	if avg <= 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg, true
}

func levels(dir Direction, price, atr, targetPct float64) (*float64, *float64) {
	var stop, take float64
	switch dir {
	case DirectionBuy:
		stop = price - stopLossATRMultiple*atr
		take = price * (1 + targetPct/100)
	case DirectionSell:
		stop = price + stopLossATRMultiple*atr
		take = price * (1 - targetPct/100)
	default:
		return nil, nil
	}
	return &stop, &take
}

// aligned 以最短序列的尾端對齊四個輸入。
func aligned(s market.Series) (highs, lows, closes, volumes []float64) {
	n := min(len(s.Highs), len(s.Lows), len(s.Closes))
	highs = s.Highs[len(s.Highs)-n:]
	lows = s.Lows[len(s.Lows)-n:]
	closes = s.Closes[len(s.Closes)-n:]
	volumes = s.Volumes
	if len(volumes) > n {
		volumes = volumes[len(volumes)-n:]
	}
	return highs, lows, closes, volumes
}
