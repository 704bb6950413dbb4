package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"market-observer/src/delivery"
	"market-observer/src/dispatcher"
	"market-observer/src/interfaces"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------
// Hub owns every live ClientSession (spec §3/§5). Registration and
// unregistration run on a single loop goroutine, the same channel-based
// pattern the teacher uses for its broadcast hub, so the client map itself
// never needs its own lock.
// -----------------------------------------------------------------------------

type Hub struct {
	dispatcher *dispatcher.SubscriptionDispatcher
	engine     *delivery.DiffDeliveryEngine
	catalogue  interfaces.InstrumentCatalogue
	pool       *upstream.ConnectionPool
	log        interfaces.LogSink

	clients    map[*ClientSession]struct{}
	register   chan *ClientSession
	unregister chan *ClientSession

	connCount int64 // atomic, safe to read from the REST goroutines
}

// -----------------------------------------------------------------------------

func NewHub(d *dispatcher.SubscriptionDispatcher, e *delivery.DiffDeliveryEngine, cat interfaces.InstrumentCatalogue, pool *upstream.ConnectionPool, log interfaces.LogSink) *Hub {
	return &Hub{
		dispatcher: d,
		engine:     e,
		catalogue:  cat,
		pool:       pool,
		log:        log,
		clients:    make(map[*ClientSession]struct{}),
		register:   make(chan *ClientSession),
		unregister: make(chan *ClientSession),
	}
}

// -----------------------------------------------------------------------------

// Run is the hub's single-goroutine loop. Cancel stop to shut down.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			for c := range h.clients {
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			atomic.StoreInt64(&h.connCount, int64(len(h.clients)))
			h.engine.RegisterSession(c)
			c.Send(h.welcomeFrame(c.id))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				atomic.StoreInt64(&h.connCount, int64(len(h.clients)))
				close(c.send)
				h.dispatcher.RemoveAllSubscriptionsForSession(c.id)
				h.engine.CloseSession(c.id)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// welcomeFrame is the first frame sent on accept (spec §6/§8 scenario 1).
func (h *Hub) welcomeFrame(sessionID string) interface{} {
	return map[string]interface{}{
		"type":          "welcome",
		"message":       "connected",
		"session_id":    sessionID,
		"ctp_connected": h.pool.ActiveCount() > 0,
		"timestamp":     time.Now().UnixMilli(),
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) ConnectionCount() int { return int(atomic.LoadInt64(&h.connCount)) }

// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (h *Hub) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warning("failed to upgrade websocket: %v", err)
		return
	}

	session := newClientSession(h, conn)
	h.register <- session

	go session.writePump()
	go session.readPump()
}
