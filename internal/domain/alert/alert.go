package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"alert-scanner/internal/domain/signal"
)

var (
	// ErrNotFound 表示找不到指定警報。
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition 表示狀態轉換不被允許（終止狀態不可再變更）。
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// MaxNoteLength 為備註長度上限（字元數）。
const MaxNoteLength = 500

// Condition 為警報觸發條件，集合固定。
type Condition string

const (
	ConditionPriceAbove         Condition = "price >"
	ConditionPriceBelow         Condition = "price <"
	ConditionCrossesAboveEMA200 Condition = "crosses_above_ema200"
	ConditionCrossesBelowEMA200 Condition = "crosses_below_ema200"
)

// Valid 回傳條件是否屬於支援集合。
func (c Condition) Valid() bool {
	switch c {
	case ConditionPriceAbove, ConditionPriceBelow, ConditionCrossesAboveEMA200, ConditionCrossesBelowEMA200:
		return true
	}
	return false
}

// NeedsTargetPrice 價格條件需要目標價。
func (c Condition) NeedsTargetPrice() bool {
	return c == ConditionPriceAbove || c == ConditionPriceBelow
}

// Status 為警報生命週期狀態。
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusCanceled  Status = "canceled"
)

// Terminal 表示狀態已結束，不會再被評估。
func (s Status) Terminal() bool {
	return s == StatusTriggered || s == StatusCanceled
}

// Valid 回傳狀態是否屬於支援集合。
func (s Status) Valid() bool {
	return s == StatusActive || s.Terminal()
}

// Alert 是使用者持久化的價格/趨勢警報。
type Alert struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	Condition   Condition `json:"condition"`
	TargetPrice float64   `json:"target_price"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Note        string    `json:"note,omitempty"`
}

// NormalizeSymbol 去除空白並轉為大寫。
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate 基本欄位檢查。
func (a Alert) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !a.Condition.Valid() {
		return fmt.Errorf("unsupported condition: %q", a.Condition)
	}
	if a.Condition.NeedsTargetPrice() && a.TargetPrice <= 0 {
		return fmt.Errorf("target price must be positive for %q", a.Condition)
	}
	if a.TargetPrice < 0 {
		return fmt.Errorf("target price must not be negative")
	}
	if utf8.RuneCountInString(a.Note) > MaxNoteLength {
		return fmt.Errorf("note exceeds %d characters", MaxNoteLength)
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("unsupported status: %q", a.Status)
	}
	return nil
}

// CanTransition 只允許 active 轉為 triggered 或 canceled。
func CanTransition(from, to Status) bool {
	return from == StatusActive && to.Terminal()
}

// Matches 判斷警報是否被本次評估觸發。非 active 的警報一律不觸發。
func (a Alert) Matches(sig signal.Signal, price float64) bool {
	if a.Status != StatusActive {
		return false
	}
	switch a.Condition {
	case ConditionPriceAbove:
		return price > a.TargetPrice
	case ConditionPriceBelow:
		return price < a.TargetPrice
	case ConditionCrossesAboveEMA200:
		return sig.Crossover == signal.CrossoverGolden
	case ConditionCrossesBelowEMA200:
		return sig.Crossover == signal.CrossoverDeath
	}
	return false
}
