package upstream

import (
	"sync"
	"sync/atomic"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/models"
	"market-observer/src/quote"
)

// -----------------------------------------------------------------------------
// UpstreamConnection is one session to a broker market-data front. It owns a
// MarketDataDriver and is itself the DriverEvents implementation the driver
// calls back into (spec §4.1). The pool owns the connection; the dispatcher
// only ever holds a handle obtained by id lookup (spec §9).
// -----------------------------------------------------------------------------

type UpstreamConnection struct {
	config models.MConnectionConfig

	mu            sync.Mutex
	status        models.ConnectionStatus
	subscribed    map[string]struct{}
	quality       int
	lastHeartbeat time.Time
	errorCount    int
	nextRequestID int64

	driver interfaces.MarketDataDriver
	events interfaces.DispatcherEvents
	log    interfaces.LogSink
}

// -----------------------------------------------------------------------------

func NewUpstreamConnection(cfg models.MConnectionConfig, driver interfaces.MarketDataDriver, events interfaces.DispatcherEvents, log interfaces.LogSink) *UpstreamConnection {
	return &UpstreamConnection{
		config:     cfg,
		status:     models.StatusDisconnected,
		subscribed: make(map[string]struct{}),
		driver:     driver,
		events:     events,
		log:        log,
	}
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (c *UpstreamConnection) ID() string { return c.config.ConnectionID }

func (c *UpstreamConnection) Config() models.MConnectionConfig { return c.config }

func (c *UpstreamConnection) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *UpstreamConnection) Quality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

func (c *UpstreamConnection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

func (c *UpstreamConnection) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount
}

func (c *UpstreamConnection) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed)
}

func (c *UpstreamConnection) CanAcceptMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribed) < c.config.MaxSubscriptions
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start transitions DISCONNECTED -> CONNECTING and asks the driver to
// connect. Returns false (no state change) if not currently DISCONNECTED.
func (c *UpstreamConnection) Start() bool {
	c.mu.Lock()
	if c.status != models.StatusDisconnected {
		c.mu.Unlock()
		return false
	}
	c.status = models.StatusConnecting
	c.mu.Unlock()

	if err := c.driver.Connect(c.config.FrontAddr); err != nil {
		c.log.Error("connection %s: driver connect failed: %v", c.config.ConnectionID, err)
		c.forceError()
		return false
	}
	return true
}

// -----------------------------------------------------------------------------

// Stop releases the driver and returns to DISCONNECTED from any state.
func (c *UpstreamConnection) Stop() {
	c.mu.Lock()
	c.status = models.StatusDisconnected
	c.subscribed = make(map[string]struct{})
	c.quality = 0
	c.mu.Unlock()

	if err := c.driver.Close(); err != nil {
		c.log.Warning("connection %s: driver close error: %v", c.config.ConnectionID, err)
	}
}

// -----------------------------------------------------------------------------

// Restart stops, waits the fixed 2s reconnect pause (spec §4.1), and starts
// again. Restart-frequency backoff (>=10s between attempts) is enforced by
// the pool's health monitor, not here.
func (c *UpstreamConnection) Restart() {
	c.Stop()
	time.Sleep(2 * time.Second)
	c.Start()
}

// -----------------------------------------------------------------------------
// Subscribe / Unsubscribe
// -----------------------------------------------------------------------------

func (c *UpstreamConnection) Subscribe(instrumentID string) bool {
	c.mu.Lock()
	if c.status != models.StatusLoggedIn {
		c.mu.Unlock()
		return false
	}
	if _, already := c.subscribed[instrumentID]; already {
		c.mu.Unlock()
		return true
	}
	atomic.AddInt64(&c.nextRequestID, 1)
	c.mu.Unlock()

	if err := c.driver.Subscribe(instrumentID); err != nil {
		c.log.Warning("connection %s: subscribe(%s) failed: %v", c.config.ConnectionID, instrumentID, err)
		c.noteDriverError()
		return false
	}

	c.mu.Lock()
	c.subscribed[instrumentID] = struct{}{}
	c.mu.Unlock()
	return true
}

// -----------------------------------------------------------------------------

func (c *UpstreamConnection) Unsubscribe(instrumentID string) bool {
	c.mu.Lock()
	if c.status != models.StatusLoggedIn {
		c.mu.Unlock()
		return false
	}
	if _, present := c.subscribed[instrumentID]; !present {
		c.mu.Unlock()
		return true
	}
	atomic.AddInt64(&c.nextRequestID, 1)
	c.mu.Unlock()

	if err := c.driver.Unsubscribe(instrumentID); err != nil {
		c.log.Warning("connection %s: unsubscribe(%s) failed: %v", c.config.ConnectionID, instrumentID, err)
		c.noteDriverError()
		return false
	}

	c.mu.Lock()
	delete(c.subscribed, instrumentID)
	c.mu.Unlock()
	return true
}

// -----------------------------------------------------------------------------
// DriverEvents implementation — invoked on the driver's own threads (spec
// §9). Only bookkeeping happens under the lock; outbound work (dispatcher
// notification) happens after release.
// -----------------------------------------------------------------------------

func (c *UpstreamConnection) OnFrontConnected() {
	c.mu.Lock()
	c.status = models.StatusConnected
	c.mu.Unlock()

	if err := c.driver.Login(c.config.BrokerID); err != nil {
		c.log.Error("connection %s: login request failed: %v", c.config.ConnectionID, err)
		c.forceError()
	}
}

// -----------------------------------------------------------------------------

func (c *UpstreamConnection) OnFrontDisconnected() {
	c.mu.Lock()
	c.status = models.StatusDisconnected
	c.quality = 0
	c.subscribed = make(map[string]struct{})
	c.mu.Unlock()

	c.events.HandleConnectionFailure(c.config.ConnectionID)
}

// -----------------------------------------------------------------------------

func (c *UpstreamConnection) OnRspUserLogin(success bool) {
	if !success {
		c.forceError()
		return
	}

	c.mu.Lock()
	c.status = models.StatusLoggedIn
	c.quality = 80
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	c.events.HandleConnectionRecovery(c.config.ConnectionID)
}

// -----------------------------------------------------------------------------

func (c *UpstreamConnection) OnRspSubscribe(instrumentID string, success bool) {
	if success {
		c.mu.Lock()
		c.subscribed[instrumentID] = struct{}{}
		c.mu.Unlock()
		c.events.OnSubscriptionSuccess(c.config.ConnectionID, instrumentID)
		return
	}
	c.events.OnSubscriptionFailed(c.config.ConnectionID, instrumentID)
}

// -----------------------------------------------------------------------------

func (c *UpstreamConnection) OnRspUnsubscribe(instrumentID string, success bool) {
	if !success {
		return
	}
	c.mu.Lock()
	delete(c.subscribed, instrumentID)
	c.mu.Unlock()
	c.events.OnUnsubscriptionSuccess(c.config.ConnectionID, instrumentID)
}

// -----------------------------------------------------------------------------

// OnRtnDepthMarketData handles one inbound tick: refresh heartbeat,
// recompute quality, translate to the downstream quote shape, and forward
// to the dispatcher (spec §4.1 "Inbound tick handling").
func (c *UpstreamConnection) OnRtnDepthMarketData(tick *models.DepthTick) {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.quality = c.computeQualityLocked()
	connID := c.config.ConnectionID
	c.mu.Unlock()

	q := quote.Translate(tick)
	c.events.OnMarketData(connID, tick.InstrumentID, q)
}

// -----------------------------------------------------------------------------

// OnDriverError is invoked by the driver on any fatal, connection-level
// error that is not a subscribe/unsubscribe rejection.
func (c *UpstreamConnection) OnDriverError() {
	c.noteDriverError()
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

func (c *UpstreamConnection) noteDriverError() {
	c.mu.Lock()
	c.errorCount++
	forceErr := c.errorCount > 10
	if forceErr {
		c.status = models.StatusError
		c.quality = 0
	}
	c.mu.Unlock()
}

func (c *UpstreamConnection) forceError() {
	c.mu.Lock()
	c.status = models.StatusError
	c.errorCount++
	c.quality = 0
	c.mu.Unlock()
}

// computeQualityLocked implements the scoring formula from spec §4.1.
// Caller must hold c.mu.
func (c *UpstreamConnection) computeQualityLocked() int {
	q := 100

	if !c.lastHeartbeat.IsZero() {
		idle := time.Since(c.lastHeartbeat)
		switch {
		case idle > 10*time.Second:
			q -= 30
		case idle > 5*time.Second:
			q -= 15
		}
	}

	errPenalty := c.errorCount * 10
	if errPenalty > 50 {
		errPenalty = 50
	}
	q -= errPenalty

	if c.config.MaxSubscriptions > 0 {
		ratio := float64(len(c.subscribed)) / float64(c.config.MaxSubscriptions)
		switch {
		case ratio > 0.8:
			q -= 20
		case ratio > 0.6:
			q -= 10
		}
	}

	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return q
}
