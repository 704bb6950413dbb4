package server

import (
	"testing"
	"time"

	"market-observer/src/catalogue"
	"market-observer/src/delivery"
	"market-observer/src/dispatcher"
	"market-observer/src/interfaces"
	"market-observer/src/logger"
	"market-observer/src/models"
	"market-observer/src/quotecache"
	"market-observer/src/upstream"
)

// -----------------------------------------------------------------------------

type fakeDriver struct{ events interfaces.DriverEvents }

func (d *fakeDriver) Connect(frontAddr string) error { return nil }
func (d *fakeDriver) Login(brokerID string) error    { return nil }
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

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logger.NewLogger("test")
	cache := quotecache.NewQuoteCache()
	cat := catalogue.NewInMemoryCatalogue()
	engine := delivery.NewDiffDeliveryEngine(cache, cat, log)

	pool := upstream.NewConnectionPool(fakeFactory, nil, log, time.Hour)
	dsp := dispatcher.NewSubscriptionDispatcher(pool, cache, log, models.StrategyConnectionQuality, 3)
	pool.SetEvents(dsp)

	return NewHub(dsp, engine, cat, pool, log)
}

// drain reads every currently-queued frame off a session's send channel.
func drain(s *ClientSession) []interface{} {
	var out []interface{}
	for {
		select {
		case f := <-s.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

// -----------------------------------------------------------------------------

func TestRawInstrumentID(t *testing.T) {
	cases := map[string]string{
		"SHFE.cu2501": "cu2501",
		"cu2501":      "cu2501",
		"CFFEX.IF2501": "IF2501",
		"":            "",
	}
	for in, want := range cases {
		if got := rawInstrumentID(in); got != want {
			t.Errorf("rawInstrumentID(%q) = %q, want %q", in, got, want)
		}
	}
}

// -----------------------------------------------------------------------------

// TestSubscribeQuoteStripsPrefixAndAcks exercises spec §8 scenario 1: the
// dispatcher sees the raw id only, the catalogue maps the raw id to the
// display form, and the session receives the literal {"aid":"subscribe_quote","status":"ok"} ack.
func TestSubscribeQuoteStripsPrefixAndAcks(t *testing.T) {
	h := newTestHub(t)
	s := newClientSession(h, nil)

	h.setSubscriptions(s, []string{"SHFE.cu2501"})

	if _, ok := h.dispatcher.SubscriptionStatus("SHFE.cu2501"); ok {
		t.Fatalf("dispatcher must never see the dotted display string as the instrument key")
	}
	if _, ok := h.dispatcher.SubscriptionStatus("cu2501"); !ok {
		t.Fatalf("dispatcher should be tracking the raw id %q", "cu2501")
	}
	if display, ok := h.catalogue.Display("cu2501"); !ok || display != "SHFE.cu2501" {
		t.Fatalf("catalogue.Display(%q) = (%q, %v), want (%q, true)", "cu2501", display, ok, "SHFE.cu2501")
	}

	frames := drain(s)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d: %+v", len(frames), frames)
	}
	ack, ok := frames[0].(map[string]interface{})
	if !ok || ack["aid"] != "subscribe_quote" || ack["status"] != "ok" {
		t.Fatalf("unexpected ack frame: %+v", frames[0])
	}
}

// -----------------------------------------------------------------------------

func TestWelcomeFrameShape(t *testing.T) {
	h := newTestHub(t)
	frame := h.welcomeFrame("session-xyz")
	m, ok := frame.(map[string]interface{})
	if !ok {
		t.Fatalf("welcomeFrame did not return a map")
	}
	if m["type"] != "welcome" {
		t.Fatalf(`welcomeFrame["type"] = %v, want "welcome"`, m["type"])
	}
	if m["session_id"] != "session-xyz" {
		t.Fatalf(`welcomeFrame["session_id"] = %v, want "session-xyz"`, m["session_id"])
	}
	for _, key := range []string{"message", "ctp_connected", "timestamp"} {
		if _, present := m[key]; !present {
			t.Errorf("welcomeFrame missing key %q", key)
		}
	}
}

// -----------------------------------------------------------------------------

func TestHandleMessageMalformedJSONSendsErrorFrame(t *testing.T) {
	h := newTestHub(t)
	s := newClientSession(h, nil)

	h.handleMessage(s, []byte(`{not valid json`))

	frames := drain(s)
	if len(frames) != 1 {
		t.Fatalf("expected one error frame, got %d", len(frames))
	}
	m, ok := frames[0].(map[string]interface{})
	if !ok || m["type"] != "error" {
		t.Fatalf("expected {\"type\":\"error\",...}, got %+v", frames[0])
	}
}

// -----------------------------------------------------------------------------

func TestHandleMessageUnrecognizedFrameSendsErrorFrame(t *testing.T) {
	h := newTestHub(t)
	s := newClientSession(h, nil)

	h.handleMessage(s, []byte(`{"aid":"something_else"}`))

	frames := drain(s)
	if len(frames) != 1 {
		t.Fatalf("expected one error frame, got %d", len(frames))
	}
	m, ok := frames[0].(map[string]interface{})
	if !ok || m["type"] != "error" {
		t.Fatalf("expected {\"type\":\"error\",...}, got %+v", frames[0])
	}
}

// -----------------------------------------------------------------------------

// TestSetSubscriptionsIsNotAdditive replaces an existing set instead of
// merging into it, matching CTP's subscribe_quote semantics.
func TestSetSubscriptionsIsNotAdditive(t *testing.T) {
	h := newTestHub(t)
	s := newClientSession(h, nil)

	h.setSubscriptions(s, []string{"SHFE.cu2501", "DCE.m2501"})
	drain(s)

	h.setSubscriptions(s, []string{"DCE.m2501"})
	drain(s)

	current := h.dispatcher.SubscriptionsForSession(s.id)
	if len(current) != 1 || current[0] != "m2501" {
		t.Fatalf("expected session left subscribed to only [m2501], got %v", current)
	}
}
