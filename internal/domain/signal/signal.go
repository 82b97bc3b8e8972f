package signal

import (
	"errors"
	"slices"
	"strings"
)

// Direction 表示訊號方向。
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Crossover 記錄 EMA50 與 EMA200 的交叉事實，供警報條件直接比對。
type Crossover string

const (
	CrossoverNone   Crossover = "none"
	CrossoverGolden Crossover = "golden"
	CrossoverDeath  Crossover = "death"
)

// Reason strings consumed downstream; keep them stable.
const (
	ReasonGoldenCross   = "Golden Cross (EMA50 crossed above EMA200)"
	ReasonDeathCross    = "Death Cross (EMA50 crossed below EMA200)"
	ReasonMACDBullish   = "MACD bullish crossover"
	ReasonMACDBearish   = "MACD bearish crossover"
	ReasonAboveEMA200   = "Price above EMA200"
	ReasonBelowEMA200   = "Price below EMA200"
	reasonRSIOversold   = "RSI oversold"
	reasonRSIOverbought = "RSI overbought"
	reasonVolumeSpike   = "Volume spike"
	reasonLowVolatility = "Volatility too low"
	reasonInsufficient  = "Insufficient data"
)

// Signal 是一次評估的結果，不具身分也不持久化。
type Signal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence int       `json:"confidence"`
	Price      float64   `json:"price"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Reasons    []string  `json:"reasons"`
	Crossover  Crossover `json:"crossover"`

	LastATR          float64 `json:"last_atr"`
	RiskRewardTarget float64 `json:"risk_reward_target"`
}

// Actionable 回傳訊號是否為買或賣。
func (s Signal) Actionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}

// EstimatedMovePct 以本次評估的 ATR 估算可能波動百分比。
func (s Signal) EstimatedMovePct() float64 {
	return EstimatedMovePct(s.LastATR, s.Price)
}

// HasReason 檢查理由清單是否包含指定片段。
func (s Signal) HasReason(fragment string) bool {
	return slices.ContainsFunc(s.Reasons, func(r string) bool {
		return strings.Contains(r, fragment)
	})
}

// EstimatedMovePct 回傳 3×ATR 相對價格的百分比；任一輸入非正數時回傳 0。
func EstimatedMovePct(atr, price float64) float64 {
	if atr <= 0 || price <= 0 {
		return 0
	}
	// multiply before dividing so 3×1/100 lands exactly on 3
	return 300 * atr / price
}

// Feasible 判斷預估波動是否達到目標報酬（含等於）。
func Feasible(atr, price, targetPct float64) bool {
	return EstimatedMovePct(atr, price) >= targetPct
}

// EstimateROI 以 ATR 估算報酬率，買方為正、賣方為負。
func EstimateROI(atr, price float64, direction Direction) (float64, error) {
	if atr <= 0 {
		return 0, errors.New("atr must be positive")
	}
	if price <= 0 {
		return 0, errors.New("current price must be positive")
	}
	roi := EstimatedMovePct(atr, price)
	if direction == DirectionSell {
		return -roi, nil
	}
	return roi, nil
}
