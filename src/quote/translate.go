package quote

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"market-observer/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Translate converts one upstream depth tick into the flat, JSON-shaped quote
// object delivered to downstream clients (spec §6). The result always
// carries every key in models.QuoteKeys; missing/invalid prices are nil
// (encoded as JSON null), close/settlement fall back to "-" when missing.
// -----------------------------------------------------------------------------

func Translate(tick *models.DepthTick) map[string]interface{} {
	q := make(map[string]interface{}, len(models.QuoteKeys))

	q["instrument_id"] = tick.InstrumentID
	q["datetime"] = formatDatetime(tick.TradingDay, tick.UpdateTime, tick.UpdateMillisec)

	for lvl := 1; lvl <= 10; lvl++ {
		priceKey := fmt.Sprintf("ask_price%d", lvl)
		volKey := fmt.Sprintf("ask_volume%d", lvl)
		if lvl <= 5 {
			q[priceKey] = nullablePrice(tick.AskPrice[lvl-1])
			q[volKey] = nullableVolume(tick.AskVolume[lvl-1])
		} else {
			q[priceKey] = nil
			q[volKey] = nil
		}
	}

	for lvl := 1; lvl <= 10; lvl++ {
		priceKey := fmt.Sprintf("bid_price%d", lvl)
		volKey := fmt.Sprintf("bid_volume%d", lvl)
		if lvl <= 5 {
			q[priceKey] = nullablePrice(tick.BidPrice[lvl-1])
			q[volKey] = nullableVolume(tick.BidVolume[lvl-1])
		} else {
			q[priceKey] = nil
			q[volKey] = nil
		}
	}

	q["last_price"] = nullablePrice(tick.LastPrice)
	q["highest"] = nullablePrice(tick.HighestPrice)
	q["lowest"] = nullablePrice(tick.LowestPrice)
	q["open"] = nullablePrice(tick.OpenPrice)
	q["close"] = dashOrPrice(tick.ClosePrice)
	q["average"] = nullablePrice(tick.AveragePrice)
	q["volume"] = tick.Volume
	q["amount"] = nullablePrice(tick.Turnover)
	q["open_interest"] = nullablePrice(tick.OpenInterest)
	q["settlement"] = dashOrPrice(tick.SettlementPrice)
	q["upper_limit"] = nullablePrice(tick.UpperLimitPrice)
	q["lower_limit"] = nullablePrice(tick.LowerLimitPrice)
	q["pre_open_interest"] = nullablePrice(tick.PreOpenInterest)
	q["pre_settlement"] = nullablePrice(tick.PreSettlement)
	q["pre_close"] = nullablePrice(tick.PreClosePrice)

	return q
}

// -----------------------------------------------------------------------------

// IsValidPrice implements spec §3's validity rule: 1e-6 < v < 1e300.
func IsValidPrice(v float64) bool {
	return v > 1e-6 && v < 1e300
}

// -----------------------------------------------------------------------------

func round2(v float64) float64 {
	d := decimal.NewFromFloat(v).Round(2)
	f, _ := d.Float64()
	return f
}

func nullablePrice(v float64) interface{} {
	if !IsValidPrice(v) {
		return nil
	}
	return round2(v)
}

func nullableVolume(v int64) interface{} {
	if v < 0 {
		return nil
	}
	return v
}

func dashOrPrice(v float64) interface{} {
	if !IsValidPrice(v) {
		return "-"
	}
	return round2(v)
}

// -----------------------------------------------------------------------------

// formatDatetime renders "YYYY-MM-DD HH:MM:SS.fffff" where the fractional
// part is update_millisec * 100. The date part comes from the tick's own
// trading_day ("YYYYMMDD"), per the original gateway's datetime construction
// (night-session ticks routinely carry a trading_day that differs from the
// wall-clock calendar date). Falls back to wall-clock time whenever
// trading_day or update_time is malformed or absent (spec §6).
func formatDatetime(tradingDay, updateTime string, updateMillisec int) string {
	now := time.Now()
	datePart := now.Format("2006-01-02")
	if len(tradingDay) == 8 {
		if _, err := strconv.Atoi(tradingDay); err == nil {
			datePart = tradingDay[0:4] + "-" + tradingDay[4:6] + "-" + tradingDay[6:8]
		}
	}

	parts := strings.Split(updateTime, ":")
	hh, mm, ss := now.Hour(), now.Minute(), now.Second()
	malformed := len(parts) != 3
	if !malformed {
		var err error
		if hh, err = strconv.Atoi(parts[0]); err != nil {
			malformed = true
		}
		if mm, err = strconv.Atoi(parts[1]); err != nil {
			malformed = true
		}
		if ss, err = strconv.Atoi(parts[2]); err != nil {
			malformed = true
		}
	}
	if malformed {
		hh, mm, ss = now.Hour(), now.Minute(), now.Second()
	}

	millis := updateMillisec
	if malformed || updateMillisec < 0 || updateMillisec > 999 {
		millis = now.Nanosecond() / 1e6
	}

	return fmt.Sprintf("%s %02d:%02d:%02d.%05d", datePart, hh, mm, ss, millis*100)
}
