package delivery

import (
	"testing"

	"market-observer/src/logger"
	"market-observer/src/quotecache"
)

// -----------------------------------------------------------------------------

type identityCatalogue struct{}

func (identityCatalogue) Register(raw, display string)  {}
func (identityCatalogue) Display(raw string) (string, bool) { return raw, true }
func (identityCatalogue) Raw(display string) (string, bool) { return display, true }
func (identityCatalogue) List() []string                { return nil }
func (identityCatalogue) Search(q string) []string      { return nil }

// -----------------------------------------------------------------------------

type testSession struct {
	id          string
	instruments []string
	frames      []interface{}
}

func (s *testSession) ID() string             { return s.id }
func (s *testSession) SubscribedRaw() []string { return s.instruments }
func (s *testSession) Send(frame interface{}) error {
	s.frames = append(s.frames, frame)
	return nil
}

// -----------------------------------------------------------------------------

func newTestEngine() (*DiffDeliveryEngine, *quotecache.QuoteCache) {
	cache := quotecache.NewQuoteCache()
	log := logger.NewLogger("test")
	return NewDiffDeliveryEngine(cache, identityCatalogue{}, log), cache
}

func quotesOf(frame interface{}) map[string]interface{} {
	m := frame.(map[string]interface{})
	data := m["data"].([]interface{})
	return data[0].(map[string]interface{})["quotes"].(map[string]interface{})
}

// -----------------------------------------------------------------------------

func TestPeekMessageBeforeAnyTickSendsEmptyQuotes(t *testing.T) {
	engine, _ := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	engine.PeekMessage(s)

	if len(s.frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(s.frames))
	}
	if quotes := quotesOf(s.frames[0]); len(quotes) != 0 {
		t.Fatalf("expected empty quotes object, got %#v", quotes)
	}
}

// -----------------------------------------------------------------------------

func TestPeekMessageFirstPeekAfterDataSendsFullSnapshot(t *testing.T) {
	engine, cache := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	cache.Update("I1", map[string]interface{}{"last_price": 10.0})
	engine.PeekMessage(s)

	if len(s.frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(s.frames))
	}
	quotes := quotesOf(s.frames[0])
	if _, ok := quotes["I1"]; !ok {
		t.Fatalf("expected full snapshot to contain I1, got %#v", quotes)
	}
}

// -----------------------------------------------------------------------------

func TestPeekMessageWithNoChangeParks(t *testing.T) {
	engine, cache := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	cache.Update("I1", map[string]interface{}{"last_price": 10.0})
	engine.PeekMessage(s) // full snapshot, consumes the first diff

	framesBefore := len(s.frames)
	engine.PeekMessage(s) // no change since last send: must park, no frame
	if len(s.frames) != framesBefore {
		t.Fatalf("expected no new frame when nothing changed, got %d new frames", len(s.frames)-framesBefore)
	}
}

// -----------------------------------------------------------------------------

func TestPeekMessageWakesOnCacheUpdate(t *testing.T) {
	engine, cache := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	cache.Update("I1", map[string]interface{}{"last_price": 10.0})
	engine.PeekMessage(s) // full snapshot
	engine.PeekMessage(s) // parks

	framesBefore := len(s.frames)
	cache.Update("I1", map[string]interface{}{"last_price": 11.0})

	if len(s.frames) != framesBefore+1 {
		t.Fatalf("expected parked peek to wake and deliver a diff frame, got %d new frames", len(s.frames)-framesBefore)
	}
	quotes := quotesOf(s.frames[len(s.frames)-1])
	inner := quotes["I1"].(map[string]interface{})
	if inner["last_price"] != 11.0 {
		t.Fatalf("expected diff to carry the new price, got %#v", inner)
	}
}

// -----------------------------------------------------------------------------

func TestPeekMessageIdempotentWhileParked(t *testing.T) {
	engine, cache := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	cache.Update("I1", map[string]interface{}{"last_price": 10.0})
	engine.PeekMessage(s)

	framesBefore := len(s.frames)
	engine.PeekMessage(s)
	engine.PeekMessage(s)
	if len(s.frames) != framesBefore {
		t.Fatalf("repeated peeks before any update must not deliver extra frames, got %d", len(s.frames)-framesBefore)
	}
}

// -----------------------------------------------------------------------------

func TestCloseSessionRemovesParkState(t *testing.T) {
	engine, cache := newTestEngine()
	s := &testSession{id: "s1", instruments: []string{"I1"}}
	engine.RegisterSession(s)

	cache.Update("I1", map[string]interface{}{"last_price": 10.0})
	engine.PeekMessage(s)
	engine.PeekMessage(s) // parks

	engine.CloseSession(s.id)

	framesBefore := len(s.frames)
	cache.Update("I1", map[string]interface{}{"last_price": 99.0})
	if len(s.frames) != framesBefore {
		t.Fatalf("closed session must not receive further frames, got %d new frames", len(s.frames)-framesBefore)
	}
}
