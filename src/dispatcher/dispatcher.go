package dispatcher

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/models"
	"market-observer/src/quotecache"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------
// SubscriptionDispatcher is the global subscription fan-out (spec §4.3): it
// owns three composite indexes (by instrument, by session, by connection),
// runs the load-balancing strategies that pick which upstream connection a
// fresh instrument lands on, and migrates subscriptions away from a
// connection that fails. It implements interfaces.DispatcherEvents so
// UpstreamConnection can call back into it without an import cycle.
// -----------------------------------------------------------------------------

type SubscriptionDispatcher struct {
	pool  *upstream.ConnectionPool
	cache *quotecache.QuoteCache
	log   interfaces.LogSink

	mu                      sync.Mutex
	globalSubscriptions     map[string]*models.SubscriptionInfo // instrument_id -> info
	sessionSubscriptions    map[string]map[string]struct{}      // session_id -> instrument_ids
	connectionSubscriptions map[string]map[string]struct{}      // connection_id -> instrument_ids

	strategy          models.LoadBalanceStrategy
	roundRobinCounter uint64

	maxRetryCount int

	store interfaces.QuoteStore // optional; nil disables persistence
}

// -----------------------------------------------------------------------------

func NewSubscriptionDispatcher(pool *upstream.ConnectionPool, cache *quotecache.QuoteCache, log interfaces.LogSink, strategy models.LoadBalanceStrategy, maxRetryCount int) *SubscriptionDispatcher {
	if strategy == "" {
		strategy = models.StrategyConnectionQuality
	}
	if maxRetryCount <= 0 {
		maxRetryCount = 3
	}
	return &SubscriptionDispatcher{
		pool:                    pool,
		cache:                   cache,
		log:                     log,
		globalSubscriptions:     make(map[string]*models.SubscriptionInfo),
		sessionSubscriptions:    make(map[string]map[string]struct{}),
		connectionSubscriptions: make(map[string]map[string]struct{}),
		strategy:                strategy,
		maxRetryCount:           maxRetryCount,
	}
}

// -----------------------------------------------------------------------------

// SetStore wires a persistence sink. Writes happen off the driver callback
// thread so a slow store never stalls tick delivery.
func (d *SubscriptionDispatcher) SetStore(store interfaces.QuoteStore) {
	d.mu.Lock()
	d.store = store
	d.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) SetLoadBalanceStrategy(strategy models.LoadBalanceStrategy) {
	d.mu.Lock()
	d.strategy = strategy
	d.mu.Unlock()
}

func (d *SubscriptionDispatcher) LoadBalanceStrategy() models.LoadBalanceStrategy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategy
}

// -----------------------------------------------------------------------------
// Subscription management
// -----------------------------------------------------------------------------

// AddSubscription registers sessionID's interest in instrumentID. If a
// SubscriptionInfo for instrumentID already exists — in ANY status, not just
// ACTIVE/SUBSCRIBING — the session is simply added to its requesting set and
// the reverse index is updated; no upstream call is made (spec §4.3 step 1).
// Reassignment of a PENDING/FAILED entry is left to the maintenance loop's
// ProcessPending or to OnSubscriptionFailed's own retry, both of which gate
// on max_retry_count. Only a brand-new instrument triggers assign here.
func (d *SubscriptionDispatcher) AddSubscription(sessionID, instrumentID string) bool {
	d.mu.Lock()

	if info, exists := d.globalSubscriptions[instrumentID]; exists {
		info.RequestingSessions[sessionID] = struct{}{}
		if d.sessionSubscriptions[sessionID] == nil {
			d.sessionSubscriptions[sessionID] = make(map[string]struct{})
		}
		d.sessionSubscriptions[sessionID][instrumentID] = struct{}{}
		d.mu.Unlock()
		return true
	}

	info := models.NewSubscriptionInfo(instrumentID)
	d.globalSubscriptions[instrumentID] = info
	info.RequestingSessions[sessionID] = struct{}{}
	if d.sessionSubscriptions[sessionID] == nil {
		d.sessionSubscriptions[sessionID] = make(map[string]struct{})
	}
	d.sessionSubscriptions[sessionID][instrumentID] = struct{}{}
	d.mu.Unlock()

	d.assign(instrumentID, "")
	return true
}

// -----------------------------------------------------------------------------

// RemoveSubscription drops sessionID's interest in instrumentID. Once no
// session requests it, the upstream subscription is torn down and the
// bookkeeping entry is removed.
func (d *SubscriptionDispatcher) RemoveSubscription(sessionID, instrumentID string) bool {
	d.mu.Lock()

	info, exists := d.globalSubscriptions[instrumentID]
	if !exists {
		d.mu.Unlock()
		return false
	}
	delete(info.RequestingSessions, sessionID)
	if subs, ok := d.sessionSubscriptions[sessionID]; ok {
		delete(subs, instrumentID)
		if len(subs) == 0 {
			delete(d.sessionSubscriptions, sessionID)
		}
	}

	if len(info.RequestingSessions) > 0 {
		d.mu.Unlock()
		return true
	}

	connID := info.AssignedConnectionID
	delete(d.globalSubscriptions, instrumentID)
	if connID != "" {
		if set, ok := d.connectionSubscriptions[connID]; ok {
			delete(set, instrumentID)
			if len(set) == 0 {
				delete(d.connectionSubscriptions, connID)
			}
		}
	}
	d.mu.Unlock()

	if connID != "" {
		if conn, ok := d.pool.Get(connID); ok {
			conn.Unsubscribe(instrumentID)
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// RemoveAllSubscriptionsForSession tears down every instrument the session
// holds (spec §3, session destruction).
func (d *SubscriptionDispatcher) RemoveAllSubscriptionsForSession(sessionID string) {
	d.mu.Lock()
	instruments := make([]string, 0, len(d.sessionSubscriptions[sessionID]))
	for inst := range d.sessionSubscriptions[sessionID] {
		instruments = append(instruments, inst)
	}
	d.mu.Unlock()

	for _, inst := range instruments {
		d.RemoveSubscription(sessionID, inst)
	}
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) SubscriptionsForSession(sessionID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sessionSubscriptions[sessionID]))
	for inst := range d.sessionSubscriptions[sessionID] {
		out = append(out, inst)
	}
	return out
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) SessionsForInstrument(instrumentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.globalSubscriptions[instrumentID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(info.RequestingSessions))
	for s := range info.RequestingSessions {
		out = append(out, s)
	}
	return out
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) SubscriptionStatus(instrumentID string) (models.SubscriptionStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.globalSubscriptions[instrumentID]
	if !ok {
		return 0, false
	}
	return info.Status, true
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) TotalSubscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.globalSubscriptions)
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) Statistics() models.Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := models.Statistics{
		ConnectionDistribution: make(map[string]int),
		TotalSessions:          len(d.sessionSubscriptions),
	}
	stats.TotalInstruments = len(d.globalSubscriptions)
	for _, info := range d.globalSubscriptions {
		switch info.Status {
		case models.SubActive:
			stats.ActiveSubscriptions++
		case models.SubPending, models.SubSubscribing:
			stats.PendingSubscriptions++
		case models.SubFailed:
			stats.FailedSubscriptions++
		}
	}
	for connID, set := range d.connectionSubscriptions {
		stats.ConnectionDistribution[connID] = len(set)
	}
	return stats
}

// -----------------------------------------------------------------------------
// Load balancing
// -----------------------------------------------------------------------------

// selectConnection picks an upstream connection for instrumentID per the
// active strategy, excluding excludeID (used during failover migration).
func (d *SubscriptionDispatcher) selectConnection(instrumentID, excludeID string) *upstream.UpstreamConnection {
	candidates := make([]*upstream.UpstreamConnection, 0, 4)
	for _, c := range d.pool.Available() {
		if c.ID() == excludeID {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch d.LoadBalanceStrategy() {
	case models.StrategyRoundRobin:
		idx := atomic.AddUint64(&d.roundRobinCounter, 1) - 1
		return candidates[idx%uint64(len(candidates))]
	case models.StrategyLeastConnections:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.SubscriptionCount() < best.SubscriptionCount() {
				best = c
			}
		}
		return best
	case models.StrategyHashBased:
		h := fnv.New32a()
		h.Write([]byte(instrumentID))
		idx := int(h.Sum32()) % len(candidates)
		if idx < 0 {
			idx += len(candidates)
		}
		return candidates[idx]
	default: // connection_quality
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Quality() > best.Quality() {
				best = c
			}
		}
		return best
	}
}

// -----------------------------------------------------------------------------

// assign selects a connection for instrumentID (excluding excludeID, if any)
// and sends the subscribe request. On success the instrument moves to
// SUBSCRIBING pending the async confirmation callback; on failure it moves
// to PENDING (no connection available) or FAILED (request rejected) for the
// maintenance loop to retry.
func (d *SubscriptionDispatcher) assign(instrumentID, excludeID string) {
	conn := d.selectConnection(instrumentID, excludeID)

	d.mu.Lock()
	info, exists := d.globalSubscriptions[instrumentID]
	if !exists {
		d.mu.Unlock()
		return
	}
	if conn == nil {
		info.Status = models.SubPending
		info.AssignedConnectionID = ""
		info.LastUpdatedAt = time.Now()
		d.mu.Unlock()
		return
	}
	info.Status = models.SubSubscribing
	info.AssignedConnectionID = conn.ID()
	info.LastUpdatedAt = time.Now()
	if d.connectionSubscriptions[conn.ID()] == nil {
		d.connectionSubscriptions[conn.ID()] = make(map[string]struct{})
	}
	d.connectionSubscriptions[conn.ID()][instrumentID] = struct{}{}
	d.mu.Unlock()

	if !conn.Subscribe(instrumentID) {
		d.mu.Lock()
		if info, ok := d.globalSubscriptions[instrumentID]; ok {
			info.Status = models.SubFailed
			info.RetryCount++
			info.LastUpdatedAt = time.Now()
		}
		if set, ok := d.connectionSubscriptions[conn.ID()]; ok {
			delete(set, instrumentID)
		}
		d.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------
// DispatcherEvents implementation
// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) OnSubscriptionSuccess(connectionID, instrumentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.globalSubscriptions[instrumentID]
	if !ok {
		return
	}
	info.Status = models.SubActive
	info.AssignedConnectionID = connectionID
	info.RetryCount = 0
	info.LastUpdatedAt = time.Now()
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) OnSubscriptionFailed(connectionID, instrumentID string) {
	d.mu.Lock()
	info, ok := d.globalSubscriptions[instrumentID]
	if !ok {
		d.mu.Unlock()
		return
	}
	info.RetryCount++
	info.LastUpdatedAt = time.Now()
	retry := info.RetryCount < d.maxRetryCount
	if !retry {
		info.Status = models.SubFailed
	}
	if set, ok := d.connectionSubscriptions[connectionID]; ok {
		delete(set, instrumentID)
	}
	d.mu.Unlock()

	if retry {
		d.assign(instrumentID, connectionID)
	}
}

// -----------------------------------------------------------------------------

func (d *SubscriptionDispatcher) OnUnsubscriptionSuccess(connectionID, instrumentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.globalSubscriptions[instrumentID]; ok {
		info.Status = models.SubCancelled
		info.LastUpdatedAt = time.Now()
	}
	if set, ok := d.connectionSubscriptions[connectionID]; ok {
		delete(set, instrumentID)
	}
}

// -----------------------------------------------------------------------------

// OnMarketData forwards a translated tick straight to the quote cache, which
// drives the delivery engine's wakeup path, and fires off a best-effort
// persistence write.
func (d *SubscriptionDispatcher) OnMarketData(connectionID, instrumentID string, quote map[string]interface{}) {
	d.cache.Update(instrumentID, quote)

	d.mu.Lock()
	store := d.store
	d.mu.Unlock()
	if store == nil {
		return
	}

	go func() {
		data, err := json.Marshal(quote)
		if err != nil {
			d.log.Warning("dispatcher: failed to marshal quote for %s: %v", instrumentID, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SaveLatest(ctx, instrumentID, data); err != nil {
			d.log.Warning("dispatcher: persist latest %s failed: %v", instrumentID, err)
		}
		if err := store.AppendHistory(ctx, instrumentID, time.Now().UnixMilli(), data); err != nil {
			d.log.Warning("dispatcher: persist history %s failed: %v", instrumentID, err)
		}
	}()
}

// -----------------------------------------------------------------------------

// HandleConnectionFailure migrates every subscription owned by connectionID
// onto other available connections (spec §4.3 failover).
func (d *SubscriptionDispatcher) HandleConnectionFailure(connectionID string) {
	d.mu.Lock()
	set := d.connectionSubscriptions[connectionID]
	instruments := make([]string, 0, len(set))
	for inst := range set {
		instruments = append(instruments, inst)
	}
	delete(d.connectionSubscriptions, connectionID)
	d.mu.Unlock()

	d.log.Warning("dispatcher: migrating %d subscriptions off failed connection %s", len(instruments), connectionID)
	for _, inst := range instruments {
		d.assign(inst, connectionID)
	}
}

// -----------------------------------------------------------------------------

// HandleConnectionRecovery retries every PENDING instrument, and every FAILED
// one still within the retry budget, now that connectionID may have capacity
// again.
func (d *SubscriptionDispatcher) HandleConnectionRecovery(connectionID string) {
	d.ProcessPending()
}

// -----------------------------------------------------------------------------
// Maintenance
// -----------------------------------------------------------------------------

// ProcessPending retries every instrument stuck PENDING or FAILED (within the
// retry budget). Safe to call from the maintenance loop or directly after a
// connection recovers.
func (d *SubscriptionDispatcher) ProcessPending() {
	d.mu.Lock()
	var targets []string
	for inst, info := range d.globalSubscriptions {
		if info.Status == models.SubPending || (info.Status == models.SubFailed && info.RetryCount < d.maxRetryCount) {
			targets = append(targets, inst)
		}
	}
	d.mu.Unlock()

	for _, inst := range targets {
		d.assign(inst, "")
	}
}

// -----------------------------------------------------------------------------

// CleanupExpired removes bookkeeping for instruments nobody requests and
// that have sat FAILED or CANCELLED for longer than the given age.
func (d *SubscriptionDispatcher) CleanupExpired(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for inst, info := range d.globalSubscriptions {
		if len(info.RequestingSessions) > 0 {
			continue
		}
		if info.Status != models.SubFailed && info.Status != models.SubCancelled {
			continue
		}
		if info.LastUpdatedAt.After(cutoff) {
			continue
		}
		delete(d.globalSubscriptions, inst)
		if info.AssignedConnectionID != "" {
			if set, ok := d.connectionSubscriptions[info.AssignedConnectionID]; ok {
				delete(set, inst)
			}
		}
		removed++
	}
	return removed
}

// -----------------------------------------------------------------------------

// StartMaintenance runs ProcessPending and CleanupExpired on interval until
// stop is closed (spec §4.3 "monitoring and maintenance").
func (d *SubscriptionDispatcher) StartMaintenance(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.ProcessPending()
			removed := d.CleanupExpired(10 * time.Minute)
			if removed > 0 {
				d.log.Info("dispatcher: maintenance removed %d expired subscription entries", removed)
			}
			stats := d.Statistics()
			d.log.Debug("dispatcher: stats instruments=%d active=%d pending=%d failed=%d sessions=%d",
				stats.TotalInstruments, stats.ActiveSubscriptions, stats.PendingSubscriptions, stats.FailedSubscriptions, stats.TotalSessions)
		}
	}
}
