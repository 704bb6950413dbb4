package models

import "strconv"

// -----------------------------------------------------------------------------
// DepthTick is what the out-of-scope upstream wire driver is assumed to hand
// us for every inbound tick (spec §1: "a callback-style SPI yielding typed
// depth-market-data records"). Field names mirror the broker wire fields the
// original CTP gateway translates from. Only 5 depth levels are carried;
// levels 6..10 of the downstream quote object are always null.
// -----------------------------------------------------------------------------

type DepthTick struct {
	InstrumentID    string
	TradingDay      string // "YYYYMMDD"; the exchange trading day this tick belongs to
	UpdateTime      string // "HH:MM:SS"
	UpdateMillisec  int
	LastPrice       float64
	HighestPrice    float64
	LowestPrice     float64
	OpenPrice       float64
	ClosePrice      float64
	AveragePrice    float64
	Volume          int64
	Turnover        float64
	OpenInterest    float64
	SettlementPrice float64
	UpperLimitPrice float64
	LowerLimitPrice float64
	PreOpenInterest float64
	PreSettlement   float64
	PreClosePrice   float64
	BidPrice        [5]float64
	BidVolume       [5]int64
	AskPrice        [5]float64
	AskVolume       [5]int64
}

// QuoteKeys is the fixed key set every translated quote object MUST carry
// (spec §6). Order here matches the spec's documented wire order; JSON
// object member order itself carries no meaning, but tests use this slice
// to assert completeness.
var QuoteKeys = buildQuoteKeys()

func buildQuoteKeys() []string {
	keys := []string{"instrument_id", "datetime"}
	for lvl := 10; lvl >= 1; lvl-- {
		keys = append(keys, askKey(lvl, "price"), askKey(lvl, "volume"))
	}
	for lvl := 1; lvl <= 10; lvl++ {
		keys = append(keys, bidKey(lvl, "price"), bidKey(lvl, "volume"))
	}
	keys = append(keys,
		"last_price", "highest", "lowest", "open", "close", "average",
		"volume", "amount", "open_interest", "settlement", "upper_limit",
		"lower_limit", "pre_open_interest", "pre_settlement", "pre_close",
	)
	return keys
}

func askKey(level int, kind string) string {
	return "ask_" + kind + strconv.Itoa(level)
}

func bidKey(level int, kind string) string {
	return "bid_" + kind + strconv.Itoa(level)
}
