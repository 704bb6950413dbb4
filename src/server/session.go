package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants — mirrors the teacher's client.go pump timings.
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outboundBuffer = 256
)

// -----------------------------------------------------------------------------
// ClientSession is one downstream WebSocket connection (spec §3). Its
// subscribed-instrument set is not duplicated here: it is read straight from
// the dispatcher's session index, so there is exactly one source of truth
// (spec §5 lock order step "subscribers").
// -----------------------------------------------------------------------------

type ClientSession struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan interface{}
}

// -----------------------------------------------------------------------------

func newClientSession(hub *Hub, conn *websocket.Conn) *ClientSession {
	return &ClientSession{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan interface{}, outboundBuffer),
	}
}

// -----------------------------------------------------------------------------

func (s *ClientSession) ID() string { return s.id }

// SubscribedRaw satisfies delivery.Session by delegating to the dispatcher's
// own session index rather than keeping a second copy of the same set.
func (s *ClientSession) SubscribedRaw() []string {
	return s.hub.dispatcher.SubscriptionsForSession(s.id)
}

// Send enqueues frame for delivery on the session's writer goroutine. Per
// spec §5, a session too slow to drain its queue is disconnected rather than
// allowed to block the sender.
func (s *ClientSession) Send(frame interface{}) error {
	select {
	case s.send <- frame:
		return nil
	default:
		s.hub.log.Warning("session %s: outbound queue full, dropping connection", s.id)
		s.hub.unregister <- s
		return nil
	}
}

// -----------------------------------------------------------------------------

func (s *ClientSession) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.log.Info("session %s: websocket error: %v", s.id, err)
			}
			return
		}
		s.hub.handleMessage(s, message)
	}
}

// -----------------------------------------------------------------------------

func (s *ClientSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(message); err != nil {
				s.hub.log.Warning("session %s: write error: %v", s.id, err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
