package upstream

import (
	"testing"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
)

// -----------------------------------------------------------------------------

type countingDriver struct {
	connectCalls int
}

func (d *countingDriver) Connect(frontAddr string) error {
	d.connectCalls++
	return nil
}
func (d *countingDriver) Login(brokerID string) error         { return nil }
func (d *countingDriver) Subscribe(instrumentID string) error { return nil }
func (d *countingDriver) Unsubscribe(instrumentID string) error { return nil }
func (d *countingDriver) Close() error { return nil }

// -----------------------------------------------------------------------------

func TestAddConnectionRejectsDuplicateID(t *testing.T) {
	driver := &countingDriver{}
	factory := func(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
		return driver
	}
	pool := NewConnectionPool(factory, &noopEvents{}, logger.NewLogger("test"), time.Hour)

	cfg := models.MConnectionConfig{ConnectionID: "c1", FrontAddr: "x", BrokerID: "9999", MaxSubscriptions: 10, Enabled: true}
	if _, err := pool.AddConnection(cfg); err != nil {
		t.Fatalf("first AddConnection should succeed: %v", err)
	}
	if _, err := pool.AddConnection(cfg); err == nil {
		t.Fatalf("duplicate connection_id should be rejected")
	}
}

// -----------------------------------------------------------------------------

func TestBestForSubscriptionPicksHighestQuality(t *testing.T) {
	factory := func(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
		return &countingDriver{}
	}
	pool := NewConnectionPool(factory, &noopEvents{}, logger.NewLogger("test"), time.Hour)

	for _, id := range []string{"c1", "c2"} {
		pool.AddConnection(models.MConnectionConfig{ConnectionID: id, FrontAddr: "x", BrokerID: "9999", MaxSubscriptions: 10, Enabled: true})
	}

	c1, _ := pool.Get("c1")
	c2, _ := pool.Get("c2")
	c1.Start()
	c1.OnFrontConnected()
	c1.OnRspUserLogin(true)
	c2.Start()
	c2.OnFrontConnected()
	c2.OnRspUserLogin(true)

	c1.mu.Lock()
	c1.quality = 40
	c1.mu.Unlock()
	c2.mu.Lock()
	c2.quality = 90
	c2.mu.Unlock()

	best := pool.BestForSubscription()
	if best == nil || best.ID() != "c2" {
		t.Fatalf("expected c2 (quality 90) to be best, got %v", best)
	}
}

// -----------------------------------------------------------------------------

func TestRunHealthTickDoesNotRestartWithinBackoffWindow(t *testing.T) {
	factory := func(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
		return &countingDriver{}
	}
	pool := NewConnectionPool(factory, &noopEvents{}, logger.NewLogger("test"), time.Hour)
	conn, _ := pool.AddConnection(models.MConnectionConfig{ConnectionID: "c1", FrontAddr: "x", BrokerID: "9999", MaxSubscriptions: 10, Enabled: true})
	conn.forceError()

	pool.runHealthTick()
	pool.runHealthTick()

	pool.mu.Lock()
	allowedAt := pool.restartAllowed["c1"]
	pool.mu.Unlock()
	if allowedAt.Before(time.Now()) {
		t.Fatalf("expected restart backoff window to extend at least 10s into the future")
	}
}

// -----------------------------------------------------------------------------

// noopEvents is a zero-value interfaces.DispatcherEvents used where the
// pool's callback target does not matter to the test.
type noopEvents struct{}

func (noopEvents) OnSubscriptionSuccess(connectionID, instrumentID string)   {}
func (noopEvents) OnSubscriptionFailed(connectionID, instrumentID string)    {}
func (noopEvents) OnUnsubscriptionSuccess(connectionID, instrumentID string) {}
func (noopEvents) OnMarketData(connectionID, instrumentID string, quote map[string]interface{}) {}
func (noopEvents) HandleConnectionFailure(connectionID string)  {}
func (noopEvents) HandleConnectionRecovery(connectionID string) {}
