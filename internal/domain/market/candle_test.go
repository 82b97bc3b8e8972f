package market

import (
	"errors"
	"math"
	"testing"
)

func TestSeriesFromCandles_DropsNonFinite(t *testing.T) {
	candles := []Candle{
		{High: 11, Low: 9, Close: 10, Volume: 100},
		{High: math.NaN(), Low: 9, Close: 10, Volume: 100},
		{High: 12, Low: 10, Close: math.Inf(1), Volume: 100},
		{High: 13, Low: 11, Close: 12, Volume: math.Inf(-1)},
		{High: 14, Low: 12, Close: 13, Volume: 50},
	}

	s := SeriesFromCandles(candles)
	if s.Len() != 2 {
		t.Fatalf("expected 2 usable samples, got %d", s.Len())
	}
	if len(s.Highs) != 2 || len(s.Lows) != 2 || len(s.Volumes) != 2 {
		t.Fatalf("series are not aligned: %+v", s)
	}
	last, ok := s.LastClose()
	if !ok || last != 13 {
		t.Errorf("expected last close 13, got %v (ok=%v)", last, ok)
	}
}

func TestSeries_LastCloseEmpty(t *testing.T) {
	var s Series
	if _, ok := s.LastClose(); ok {
		t.Error("expected ok=false for empty series")
	}
}

func TestUsable(t *testing.T) {
	good := Candle{High: 2, Low: 1, Close: 1.5, Volume: 10}
	bad := Candle{High: 2, Low: 1, Close: math.NaN(), Volume: 10}

	tests := []struct {
		name    string
		candles []Candle
		wantErr bool
	}{
		{"enough", []Candle{good, good, good}, false},
		{"too few raw", []Candle{good, good}, true},
		{"too few after filtering", []Candle{good, bad, good}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Usable(tt.candles, 3)
			if tt.wantErr {
				if !errors.Is(err, ErrInsufficientData) {
					t.Fatalf("expected ErrInsufficientData, got %v", err)
				}
				return
			}
			if err != nil || s.Len() != 3 {
				t.Fatalf("got len=%d err=%v", s.Len(), err)
			}
		})
	}
}
