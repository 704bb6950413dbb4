package dispatcher

import (
	"testing"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
	"market-observer/src/quotecache"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------

type fakeDriver struct {
	events interfaces.DriverEvents
}

func (d *fakeDriver) Connect(frontAddr string) error {
	go d.events.OnFrontConnected()
	return nil
}
func (d *fakeDriver) Login(brokerID string) error {
	go d.events.OnRspUserLogin(true)
	return nil
}
func (d *fakeDriver) Subscribe(instrumentID string) error {
	go d.events.OnRspSubscribe(instrumentID, true)
	return nil
}
func (d *fakeDriver) Unsubscribe(instrumentID string) error {
	go d.events.OnRspUnsubscribe(instrumentID, true)
	return nil
}
func (d *fakeDriver) Close() error { return nil }

func fakeFactory(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
	return &fakeDriver{events: events}
}

// -----------------------------------------------------------------------------

func newTestPoolAndDispatcher(t *testing.T, connIDs ...string) (*upstream.ConnectionPool, *SubscriptionDispatcher) {
	t.Helper()
	log := logger.NewLogger("test")
	cache := quotecache.NewQuoteCache()
	var dsp *SubscriptionDispatcher
	pool := upstream.NewConnectionPool(fakeFactory, nil, log, time.Hour)
	dsp = NewSubscriptionDispatcher(pool, cache, log, models.StrategyConnectionQuality, 3)
	pool.SetEvents(dsp)

	for _, id := range connIDs {
		if _, err := pool.AddConnection(models.MConnectionConfig{
			ConnectionID: id, FrontAddr: "fake://" + id, BrokerID: "9999", MaxSubscriptions: 10, Enabled: true,
		}); err != nil {
			t.Fatalf("AddConnection(%s): %v", id, err)
		}
	}
	pool.StartAll()
	waitUntil(t, func() bool { return pool.ActiveCount() == len(connIDs) })
	return pool, dsp
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition never became true")
	}
}

// -----------------------------------------------------------------------------

func TestAddSubscriptionDedupsAcrossSessions(t *testing.T) {
	_, dsp := newTestPoolAndDispatcher(t, "c1")

	dsp.AddSubscription("session-a", "I1")
	waitUntil(t, func() bool {
		s, ok := dsp.SubscriptionStatus("I1")
		return ok && s == models.SubActive
	})
	dsp.AddSubscription("session-b", "I1")

	sessions := dsp.SessionsForInstrument("I1")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 requesting sessions, got %d (%v)", len(sessions), sessions)
	}
	if dsp.TotalSubscriptions() != 1 {
		t.Fatalf("expected exactly one global subscription entry, got %d", dsp.TotalSubscriptions())
	}
}

// -----------------------------------------------------------------------------

func TestRemoveSubscriptionOnlyTearsDownWhenLastSessionLeaves(t *testing.T) {
	_, dsp := newTestPoolAndDispatcher(t, "c1")

	dsp.AddSubscription("session-a", "I1")
	dsp.AddSubscription("session-b", "I1")
	waitUntil(t, func() bool {
		s, ok := dsp.SubscriptionStatus("I1")
		return ok && s == models.SubActive
	})

	dsp.RemoveSubscription("session-a", "I1")
	if _, ok := dsp.SubscriptionStatus("I1"); !ok {
		t.Fatalf("subscription should still exist while session-b holds it")
	}

	dsp.RemoveSubscription("session-b", "I1")
	if _, ok := dsp.SubscriptionStatus("I1"); ok {
		t.Fatalf("subscription should be gone once the last session leaves")
	}
}

// -----------------------------------------------------------------------------

func TestRemoveAllSubscriptionsForSession(t *testing.T) {
	_, dsp := newTestPoolAndDispatcher(t, "c1")

	dsp.AddSubscription("session-a", "I1")
	dsp.AddSubscription("session-a", "I2")
	waitUntil(t, func() bool { return dsp.TotalSubscriptions() == 2 })

	dsp.RemoveAllSubscriptionsForSession("session-a")
	if got := dsp.SubscriptionsForSession("session-a"); len(got) != 0 {
		t.Fatalf("expected no subscriptions left for session-a, got %v", got)
	}
	waitUntil(t, func() bool { return dsp.TotalSubscriptions() == 0 })
}

// -----------------------------------------------------------------------------

func TestHandleConnectionFailureMigratesSubscriptions(t *testing.T) {
	pool, dsp := newTestPoolAndDispatcher(t, "c1", "c2")

	dsp.AddSubscription("session-a", "I1")
	waitUntil(t, func() bool {
		s, ok := dsp.SubscriptionStatus("I1")
		return ok && s == models.SubActive
	})

	stats := dsp.Statistics()
	var failedConn string
	for id := range stats.ConnectionDistribution {
		failedConn = id
		break
	}

	dsp.HandleConnectionFailure(failedConn)
	waitUntil(t, func() bool {
		s, ok := dsp.SubscriptionStatus("I1")
		return ok && s == models.SubActive
	})

	stats = dsp.Statistics()
	if stats.ConnectionDistribution[failedConn] != 0 {
		t.Fatalf("expected failed connection %s to hold no subscriptions after migration, got %v", failedConn, stats.ConnectionDistribution)
	}
	_ = pool
}

// -----------------------------------------------------------------------------

func TestHashBasedStrategyIsStableAcrossCalls(t *testing.T) {
	pool, dsp := newTestPoolAndDispatcher(t, "c1", "c2", "c3")
	dsp.SetLoadBalanceStrategy(models.StrategyHashBased)

	first := dsp.selectConnection("SHFE.cu2501", "")
	second := dsp.selectConnection("SHFE.cu2501", "")
	if first == nil || second == nil || first.ID() != second.ID() {
		t.Fatalf("hash-based selection must be stable for the same instrument, got %v then %v", first, second)
	}
	_ = pool
}

// -----------------------------------------------------------------------------

func TestRoundRobinDistributesAcrossConnections(t *testing.T) {
	_, dsp := newTestPoolAndDispatcher(t, "c1", "c2")
	dsp.SetLoadBalanceStrategy(models.StrategyRoundRobin)

	seen := make(map[string]struct{})
	for i := 0; i < 4; i++ {
		c := dsp.selectConnection("whatever", "")
		if c == nil {
			t.Fatalf("expected a connection, got nil")
		}
		seen[c.ID()] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("round robin should use more than one connection over 4 picks, used %v", seen)
	}
}
