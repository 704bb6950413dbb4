package main

import (
	"fmt"
	"time"

	"market-observer/src/catalogue"
	"market-observer/src/delivery"
	"market-observer/src/dispatcher"
	"market-observer/src/drivers"
	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
	"market-observer/src/quotecache"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------
// A standalone harness exercising the literal end-to-end scenarios from
// spec §8 against the in-memory simulator driver, the way the teacher's
// cmd/test bootstraps a smoke run without a network client.
// -----------------------------------------------------------------------------

// fakeSession is a minimal delivery.Session that records every frame it is
// sent, for scenario assertions.
type fakeSession struct {
	id        string
	instrumentIDs []string
	received  []interface{}
}

func (f *fakeSession) ID() string               { return f.id }
func (f *fakeSession) SubscribedRaw() []string   { return f.instrumentIDs }
func (f *fakeSession) Send(frame interface{}) error {
	f.received = append(f.received, frame)
	return nil
}

// -----------------------------------------------------------------------------

func main() {
	log := logger.NewLogger("scenario-runner")
	cache := quotecache.NewQuoteCache()
	cat := catalogue.NewInMemoryCatalogue()
	engine := delivery.NewDiffDeliveryEngine(cache, cat, log)

	driverFactory := func(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver {
		return drivers.NewSimulatorDriver(events)
	}

	var dsp *dispatcher.SubscriptionDispatcher
	pool := upstream.NewConnectionPool(driverFactory, nil, log, 30*time.Second)
	dsp = dispatcher.NewSubscriptionDispatcher(pool, cache, log, models.StrategyConnectionQuality, 3)
	pool.SetEvents(dsp)

	conn1 := mustAdd(pool, log, models.MConnectionConfig{ConnectionID: "ctp-1", FrontAddr: "sim://1", BrokerID: "9999", MaxSubscriptions: 100, Enabled: true})
	mustAdd(pool, log, models.MConnectionConfig{ConnectionID: "ctp-2", FrontAddr: "sim://2", BrokerID: "9999", MaxSubscriptions: 100, Enabled: true})

	pool.StartAll()
	waitFor(func() bool { return pool.ActiveCount() == 2 }, 2*time.Second)

	session := &fakeSession{id: "session-1", instrumentIDs: []string{"cu2501"}}
	engine.RegisterSession(session)

	// Scenario 2: peek before any tick — empty quotes object, no parking.
	engine.PeekMessage(session)
	fmt.Printf("scenario-2: frames so far = %d\n", len(session.received))

	cat.Register("cu2501", "SHFE.cu2501")
	dsp.AddSubscription(session.id, "cu2501")
	waitFor(func() bool {
		status, ok := dsp.SubscriptionStatus("cu2501")
		return ok && status == models.SubActive
	}, 2*time.Second)

	// Let a tick land, then peek — scenario 3: first peek after data sends a
	// full snapshot and stores it as last_sent_snapshot.
	time.Sleep(700 * time.Millisecond)
	engine.PeekMessage(session)
	fmt.Printf("scenario-3: frames so far = %d\n", len(session.received))

	// Scenario 4: a second peek before any further tick parks (no frame).
	framesBefore := len(session.received)
	engine.PeekMessage(session)
	fmt.Printf("scenario-4: frame count unchanged = %v (before=%d after=%d)\n",
		len(session.received) == framesBefore, framesBefore, len(session.received))

	// Scenario 5/6: failover — simulate connection 1 failing outright (the
	// same call UpstreamConnection.OnFrontDisconnected makes), verify its
	// subscriptions migrate and market data keeps flowing.
	conn1.Stop()
	dsp.HandleConnectionFailure(conn1.ID())
	waitFor(func() bool {
		status, ok := dsp.SubscriptionStatus("cu2501")
		return ok && status != models.SubFailed
	}, 3*time.Second)
	status, _ := dsp.SubscriptionStatus("cu2501")
	fmt.Printf("scenario-6: post-failover status = %s\n", status)

	stats := dsp.Statistics()
	fmt.Printf("final stats: %+v\n", stats)
}

// -----------------------------------------------------------------------------

func mustAdd(pool *upstream.ConnectionPool, log *logger.Logger, cfg models.MConnectionConfig) *upstream.UpstreamConnection {
	conn, err := pool.AddConnection(cfg)
	if err != nil {
		log.Critical("failed to add connection %s: %v", cfg.ConnectionID, err)
	}
	return conn
}

// -----------------------------------------------------------------------------

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
