package interfaces

import "market-observer/src/models"

// -----------------------------------------------------------------------------
// MarketDataDriver is the out-of-scope upstream wire-protocol driver (spec
// §1): "assumed as a callback-style SPI yielding typed depth-market-data
// records". One instance is owned per UpstreamConnection. Implementations
// are driver-owned and call back on their own threads (spec §9) through
// DriverEvents — never synchronously from these methods.
// -----------------------------------------------------------------------------

type MarketDataDriver interface {
	// Connect opens the transport to frontAddr. Asynchronous: completion is
	// signalled via DriverEvents.OnFrontConnected/OnFrontDisconnected.
	Connect(frontAddr string) error

	// Login sends a market-data login request (empty user/password, only
	// brokerID per spec §4.1). Asynchronous: signalled via OnRspUserLogin.
	Login(brokerID string) error

	// Subscribe requests market data for instrumentID. Asynchronous:
	// signalled via OnRspSubscribe.
	Subscribe(instrumentID string) error

	// Unsubscribe cancels market data for instrumentID. Asynchronous:
	// signalled via OnRspUnsubscribe.
	Unsubscribe(instrumentID string) error

	// Close tears down the transport immediately; no further callbacks
	// fire after Close returns.
	Close() error
}

// -----------------------------------------------------------------------------

// DriverEvents is the callback target a MarketDataDriver invokes. Naming
// mirrors the broker SPI method names (OnFrontConnected,
// OnRtnDepthMarketData, ...) the original CTP gateway this spec was
// distilled from implements.
type DriverEvents interface {
	OnFrontConnected()
	OnFrontDisconnected()
	OnRspUserLogin(success bool)
	OnRspSubscribe(instrumentID string, success bool)
	OnRspUnsubscribe(instrumentID string, success bool)
	OnRtnDepthMarketData(tick *models.DepthTick)
	OnDriverError()
}
