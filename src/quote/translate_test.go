package quote

import (
	"testing"

	"market-observer/src/models"
)

func TestTranslateCarriesEveryQuoteKey(t *testing.T) {
	tick := &models.DepthTick{
		InstrumentID: "SHFE.cu2501",
		UpdateTime:   "09:30:00",
		LastPrice:    72500,
		AskPrice:     [5]float64{72510, 72520, 72530, 72540, 72550},
		AskVolume:    [5]int64{1, 2, 3, 4, 5},
		BidPrice:     [5]float64{72490, 72480, 72470, 72460, 72450},
		BidVolume:    [5]int64{5, 4, 3, 2, 1},
	}
	q := Translate(tick)

	for _, key := range models.QuoteKeys {
		if _, ok := q[key]; !ok {
			t.Fatalf("translated quote is missing required key %q", key)
		}
	}
}

func TestTranslateNullsOutLevelsSixThroughTen(t *testing.T) {
	tick := &models.DepthTick{InstrumentID: "I1", LastPrice: 100}
	q := Translate(tick)

	if q["ask_price6"] != nil || q["bid_price10"] != nil {
		t.Fatalf("levels 6-10 must be nil, got ask_price6=%v bid_price10=%v", q["ask_price6"], q["bid_price10"])
	}
}

func TestTranslateInvalidPriceBecomesNull(t *testing.T) {
	tick := &models.DepthTick{InstrumentID: "I1", LastPrice: 0}
	q := Translate(tick)
	if q["last_price"] != nil {
		t.Fatalf("an invalid price (0) should translate to nil, got %v", q["last_price"])
	}
}

func TestTranslateCloseAndSettlementFallBackToDash(t *testing.T) {
	tick := &models.DepthTick{InstrumentID: "I1", ClosePrice: 0, SettlementPrice: 0}
	q := Translate(tick)
	if q["close"] != "-" {
		t.Fatalf("close should fall back to \"-\" when missing, got %v", q["close"])
	}
	if q["settlement"] != "-" {
		t.Fatalf("settlement should fall back to \"-\" when missing, got %v", q["settlement"])
	}
}

func TestTranslateRoundsPricesToTwoDecimals(t *testing.T) {
	tick := &models.DepthTick{InstrumentID: "I1", LastPrice: 100.126}
	q := Translate(tick)
	if q["last_price"] != 100.13 {
		t.Fatalf("expected last_price rounded to 100.13, got %v", q["last_price"])
	}
}

// TestTranslateDatetimeUsesTradingDayNotWallClock covers the night-session
// case where trading_day legitimately differs from the calendar date.
func TestTranslateDatetimeUsesTradingDayNotWallClock(t *testing.T) {
	tick := &models.DepthTick{
		InstrumentID:   "I1",
		TradingDay:     "20260804",
		UpdateTime:     "21:00:00",
		UpdateMillisec: 500,
	}
	q := Translate(tick)
	want := "2026-08-04 21:00:00.50000"
	if q["datetime"] != want {
		t.Fatalf("datetime = %v, want %v", q["datetime"], want)
	}
}

// TestTranslateDatetimeFallsBackOnMalformedTradingDay ensures a garbage or
// short trading_day never corrupts the date part; wall-clock takes over.
func TestTranslateDatetimeFallsBackOnMalformedTradingDay(t *testing.T) {
	tick := &models.DepthTick{InstrumentID: "I1", TradingDay: "bad", UpdateTime: "10:00:00"}
	q := Translate(tick)
	dt, ok := q["datetime"].(string)
	if !ok || len(dt) < 10 {
		t.Fatalf("expected a well-formed datetime string, got %v", q["datetime"])
	}
	if dt[:4] == "bad0" {
		t.Fatalf("malformed trading_day leaked into datetime: %v", dt)
	}
}

func TestIsValidPriceBounds(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{0, false},
		{1e-7, false},
		{1e-5, true},
		{100, true},
		{1e300, false},
		{1e299, true},
	}
	for _, tc := range cases {
		if got := IsValidPrice(tc.v); got != tc.want {
			t.Errorf("IsValidPrice(%v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}
