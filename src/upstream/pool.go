package upstream

import (
	"fmt"
	"sync"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/models"
)

// -----------------------------------------------------------------------------
// DriverFactory builds a MarketDataDriver for a connection, wiring its
// DriverEvents callback target. Injected so tests can supply a fake driver
// without a real broker front.
// -----------------------------------------------------------------------------

type DriverFactory func(cfg models.MConnectionConfig, events interfaces.DriverEvents) interfaces.MarketDataDriver

// -----------------------------------------------------------------------------
// ConnectionPool owns the lifecycle of every UpstreamConnection (spec §4.2).
// -----------------------------------------------------------------------------

type ConnectionPool struct {
	mu          sync.RWMutex
	connections map[string]*UpstreamConnection
	order       []string // insertion order, for best_for_subscription tie-breaks

	driverFactory DriverFactory
	events        interfaces.DispatcherEvents
	log           interfaces.LogSink

	healthInterval time.Duration
	restartAllowed map[string]time.Time // connection_id -> earliest next restart
	monitorStop    chan struct{}
	monitorDone    chan struct{}
	monitorRunning bool
}

// -----------------------------------------------------------------------------

func NewConnectionPool(driverFactory DriverFactory, events interfaces.DispatcherEvents, log interfaces.LogSink, healthInterval time.Duration) *ConnectionPool {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	return &ConnectionPool{
		connections:    make(map[string]*UpstreamConnection),
		driverFactory:  driverFactory,
		events:         events,
		log:            log,
		healthInterval: healthInterval,
		restartAllowed: make(map[string]time.Time),
	}
}

// -----------------------------------------------------------------------------

// SetEvents wires the dispatcher after construction, breaking the
// pool/dispatcher constructor cycle (spec §9 design notes): the dispatcher
// needs the pool to select connections, and connections need the dispatcher
// as their DispatcherEvents target. Call before AddConnection.
func (p *ConnectionPool) SetEvents(events interfaces.DispatcherEvents) {
	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

// -----------------------------------------------------------------------------

// AddConnection fails if connection_id already exists (spec §4.2).
func (p *ConnectionPool) AddConnection(cfg models.MConnectionConfig) (*UpstreamConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.connections[cfg.ConnectionID]; exists {
		return nil, fmt.Errorf("connection %s already exists", cfg.ConnectionID)
	}

	var conn *UpstreamConnection
	conn = NewUpstreamConnection(cfg, nil, p.events, p.log)
	conn.driver = p.driverFactory(cfg, conn)

	p.connections[cfg.ConnectionID] = conn
	p.order = append(p.order, cfg.ConnectionID)
	return conn, nil
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) RemoveConnection(id string) error {
	p.mu.Lock()
	conn, exists := p.connections[id]
	if !exists {
		p.mu.Unlock()
		return fmt.Errorf("connection %s not found", id)
	}
	delete(p.connections, id)
	for i, cid := range p.order {
		if cid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	delete(p.restartAllowed, id)
	p.mu.Unlock()

	conn.Stop()
	return nil
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) Get(id string) (*UpstreamConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.connections[id]
	return c, ok
}

// -----------------------------------------------------------------------------

// All returns every connection in insertion order.
func (p *ConnectionPool) All() []*UpstreamConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*UpstreamConnection, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.connections[id])
	}
	return out
}

// -----------------------------------------------------------------------------

// Available filters for status == LOGGED_IN && CanAcceptMore() (spec §4.2).
func (p *ConnectionPool) Available() []*UpstreamConnection {
	var out []*UpstreamConnection
	for _, c := range p.All() {
		if c.Status() == models.StatusLoggedIn && c.CanAcceptMore() {
			out = append(out, c)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// BestForSubscription returns the available connection with the highest
// quality, ties broken by insertion order.
func (p *ConnectionPool) BestForSubscription() *UpstreamConnection {
	var best *UpstreamConnection
	bestQuality := -1
	for _, c := range p.Available() {
		q := c.Quality()
		if q > bestQuality {
			best = c
			bestQuality = q
		}
	}
	return best
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) ActiveCount() int {
	count := 0
	for _, c := range p.All() {
		if c.Status() == models.StatusLoggedIn {
			count++
		}
	}
	return count
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) TotalSubscriptions() int {
	total := 0
	for _, c := range p.All() {
		total += c.SubscriptionCount()
	}
	return total
}

// -----------------------------------------------------------------------------

// StartAll starts every enabled connection. A connection failing to start is
// non-fatal as long as at least one other enabled connection starts (spec
// §7); StartAll reports an error only if ALL enabled connections fail.
func (p *ConnectionPool) StartAll() error {
	conns := p.All()
	started := 0
	enabled := 0
	for _, c := range conns {
		if !c.Config().Enabled {
			continue
		}
		enabled++
		if c.Start() {
			started++
		} else {
			p.log.Warning("connection %s failed to start at boot", c.ID())
		}
	}
	if enabled > 0 && started == 0 {
		return fmt.Errorf("no enabled connection could be started")
	}
	return nil
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) StopAll() {
	for _, c := range p.All() {
		c.Stop()
	}
}

// -----------------------------------------------------------------------------
// Health monitor
// -----------------------------------------------------------------------------

// StartHealthMonitor launches the periodic supervisory task (spec §4.2). Its
// sleep loop polls a cancel channel at second granularity so shutdown is
// prompt even though the tick period defaults to 30s.
func (p *ConnectionPool) StartHealthMonitor() {
	p.mu.Lock()
	if p.monitorRunning {
		p.mu.Unlock()
		return
	}
	p.monitorRunning = true
	p.monitorStop = make(chan struct{})
	p.monitorDone = make(chan struct{})
	p.mu.Unlock()

	go p.healthMonitorLoop()
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) StopHealthMonitor() {
	p.mu.Lock()
	if !p.monitorRunning {
		p.mu.Unlock()
		return
	}
	stop := p.monitorStop
	done := p.monitorDone
	p.monitorRunning = false
	p.mu.Unlock()

	close(stop)
	<-done
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) healthMonitorLoop() {
	defer close(p.monitorDone)

	elapsed := time.Duration(0)
	const pollInterval = 1 * time.Second

	for {
		select {
		case <-p.monitorStop:
			return
		case <-time.After(pollInterval):
			elapsed += pollInterval
			if elapsed < p.healthInterval {
				continue
			}
			elapsed = 0
			p.runHealthTick()
		}
	}
}

// -----------------------------------------------------------------------------

func (p *ConnectionPool) runHealthTick() {
	now := time.Now()
	for _, c := range p.All() {
		status := c.Status()

		shouldRestart := status == models.StatusError ||
			(status == models.StatusDisconnected && c.ErrorCount() > 5)

		if shouldRestart {
			p.mu.Lock()
			allowedAt, scheduled := p.restartAllowed[c.ID()]
			if scheduled && now.Before(allowedAt) {
				p.mu.Unlock()
			} else {
				p.restartAllowed[c.ID()] = now.Add(10 * time.Second)
				p.mu.Unlock()
				p.log.Info("health monitor: restarting connection %s (status=%s, errors=%d)", c.ID(), status, c.ErrorCount())
				go c.Restart()
			}
			continue
		}

		if status == models.StatusLoggedIn && now.Sub(c.LastHeartbeat()) > 60*time.Second {
			p.log.Warning("health monitor: connection %s heartbeat stale, treating as failed", c.ID())
			p.events.HandleConnectionFailure(c.ID())
		}
	}
}
