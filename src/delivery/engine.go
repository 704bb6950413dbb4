package delivery

import (
	"sync"

	"market-observer/src/interfaces"
	"market-observer/src/quotecache"
)

// -----------------------------------------------------------------------------
// Session is the minimal view the delivery engine needs of a downstream
// ClientSession: which raw instruments it wants, and how to enqueue an
// outbound frame onto its writer. server.ClientSession implements this.
// -----------------------------------------------------------------------------

type Session interface {
	ID() string
	SubscribedRaw() []string
	Send(frame interface{}) error
}

// -----------------------------------------------------------------------------
// DiffDeliveryEngine implements the peek-driven diff delivery protocol
// (spec §4.5). Lock order, per spec §5, is: cache -> last-sent -> pending.
// The cache has its own internal lock; engine-owned locks below are always
// taken in last-sent-then-pending order relative to each other.
// -----------------------------------------------------------------------------

type DiffDeliveryEngine struct {
	cache     *quotecache.QuoteCache
	catalogue interfaces.InstrumentCatalogue
	log       interfaces.LogSink

	sessionsMu sync.RWMutex
	sessions   map[string]Session

	lastSentMu sync.Mutex
	lastSent   map[string]map[string]interface{}

	pendingMu        sync.Mutex
	pendingSessions  map[string]struct{}
	instrumentParked map[string]map[string]struct{}
}

// -----------------------------------------------------------------------------

func NewDiffDeliveryEngine(cache *quotecache.QuoteCache, catalogue interfaces.InstrumentCatalogue, log interfaces.LogSink) *DiffDeliveryEngine {
	e := &DiffDeliveryEngine{
		cache:            cache,
		catalogue:        catalogue,
		log:              log,
		sessions:         make(map[string]Session),
		lastSent:         make(map[string]map[string]interface{}),
		pendingSessions:  make(map[string]struct{}),
		instrumentParked: make(map[string]map[string]struct{}),
	}
	cache.OnUpdate(e.onInstrumentUpdated)
	return e
}

// -----------------------------------------------------------------------------

// RegisterSession makes s eligible to be woken by cache updates.
func (e *DiffDeliveryEngine) RegisterSession(s Session) {
	e.sessionsMu.Lock()
	e.sessions[s.ID()] = s
	e.sessionsMu.Unlock()
}

// -----------------------------------------------------------------------------

// CloseSession removes every trace of sessionID from the engine: its
// last-sent snapshot and its presence in the parked-peek set (spec §3:
// session destruction "MUST remove the session from ... the parked-peek
// set").
func (e *DiffDeliveryEngine) CloseSession(sessionID string) {
	e.sessionsMu.Lock()
	delete(e.sessions, sessionID)
	e.sessionsMu.Unlock()

	e.lastSentMu.Lock()
	delete(e.lastSent, sessionID)
	e.lastSentMu.Unlock()

	e.pendingMu.Lock()
	delete(e.pendingSessions, sessionID)
	for inst, set := range e.instrumentParked {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(e.instrumentParked, inst)
		}
	}
	e.pendingMu.Unlock()
}

// -----------------------------------------------------------------------------

// PeekMessage implements spec §4.5's peek_message handling. At most one
// outstanding peek is meaningful per session; a peek arriving while parked
// is idempotent because it simply re-evaluates the same comparison.
func (e *DiffDeliveryEngine) PeekMessage(s Session) {
	instruments := s.SubscribedRaw()

	quotes := make(map[string]interface{})
	for _, raw := range instruments {
		q, ok := e.cache.Snapshot(raw)
		if !ok {
			continue
		}
		display, ok := e.catalogue.Display(raw)
		if !ok {
			display = raw
		}
		quotes[display] = q
	}

	if len(quotes) == 0 {
		e.unpark(s.ID())
		e.send(s, quotes)
		return
	}

	e.lastSentMu.Lock()
	prev, has := e.lastSent[s.ID()]
	e.lastSentMu.Unlock()

	if !has {
		e.send(s, quotes)
		e.storeLastSent(s.ID(), quotes)
		e.unpark(s.ID())
		return
	}

	diff := ComputeDiff(prev, quotes)
	if len(diff) == 0 {
		e.park(s.ID(), instruments)
		return
	}

	e.send(s, diff)
	e.storeLastSent(s.ID(), quotes)
	e.unpark(s.ID())
}

// -----------------------------------------------------------------------------

func (e *DiffDeliveryEngine) send(s Session, quotes map[string]interface{}) {
	frame := map[string]interface{}{
		"aid": "rtn_data",
		"data": []interface{}{
			map[string]interface{}{"quotes": quotes},
			map[string]interface{}{
				"account_id":       "",
				"ins_list":         "",
				"mdhis_more_data":  false,
			},
		},
	}
	if err := s.Send(frame); err != nil {
		e.log.Warning("delivery: failed to send frame to session %s: %v", s.ID(), err)
	}
}

// -----------------------------------------------------------------------------

func (e *DiffDeliveryEngine) storeLastSent(sessionID string, quotes map[string]interface{}) {
	copyOf := make(map[string]interface{}, len(quotes))
	for k, v := range quotes {
		copyOf[k] = v
	}
	e.lastSentMu.Lock()
	e.lastSent[sessionID] = copyOf
	e.lastSentMu.Unlock()
}

// -----------------------------------------------------------------------------

func (e *DiffDeliveryEngine) park(sessionID string, instruments []string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pendingSessions[sessionID] = struct{}{}
	for _, inst := range instruments {
		set, ok := e.instrumentParked[inst]
		if !ok {
			set = make(map[string]struct{})
			e.instrumentParked[inst] = set
		}
		set[sessionID] = struct{}{}
	}
}

// -----------------------------------------------------------------------------

func (e *DiffDeliveryEngine) unpark(sessionID string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pendingSessions, sessionID)
	for inst, set := range e.instrumentParked {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(e.instrumentParked, inst)
		}
	}
}

// -----------------------------------------------------------------------------

// onInstrumentUpdated is the QuoteCache wakeup callback (spec §4.4/§4.5).
func (e *DiffDeliveryEngine) onInstrumentUpdated(instrumentID string) {
	e.pendingMu.Lock()
	set, ok := e.instrumentParked[instrumentID]
	var woken []string
	if ok {
		woken = make([]string, 0, len(set))
		for sessionID := range set {
			woken = append(woken, sessionID)
		}
	}
	e.pendingMu.Unlock()

	for _, sessionID := range woken {
		e.sessionsMu.RLock()
		s, present := e.sessions[sessionID]
		e.sessionsMu.RUnlock()
		if present {
			e.PeekMessage(s)
		}
	}
}
