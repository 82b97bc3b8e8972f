package notify

import (
	"github.com/shopspring/decimal"
)

// Price 以固定四位小數輸出價格，避免浮點數尾差出現在訊息中。
func Price(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(4)
}

// Percent 以兩位小數輸出百分比。
func Percent(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// Number 輸出最短表示，例如 3 或 2.5。
func Number(v float64) string {
	return decimal.NewFromFloat(v).String()
}
