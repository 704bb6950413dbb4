package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// inboundFrame covers both the CTP-style wire protocol (aid: subscribe_quote
// / peek_message, spec §6) and the debug action-style protocol supplemented
// from original_source (subscribe/unsubscribe/list_instruments/
// search_instruments).
// -----------------------------------------------------------------------------

type inboundFrame struct {
	Aid          string `json:"aid"`
	InsList      string `json:"ins_list"`
	Action       string `json:"action"`
	InstrumentID string `json:"instrument_id"`
	Query        string `json:"query"`
}

// -----------------------------------------------------------------------------

func (h *Hub) handleMessage(s *ClientSession, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Warning("session %s: malformed frame ignored: %v", s.id, err)
		s.Send(errorFrame(fmt.Sprintf("malformed frame: %v", err)))
		return
	}

	switch {
	case frame.Aid == "subscribe_quote":
		h.setSubscriptions(s, splitInsList(frame.InsList))

	case frame.Aid == "peek_message":
		h.engine.PeekMessage(s)

	case frame.Action == "subscribe":
		h.subscribeOne(s, frame.InstrumentID)

	case frame.Action == "unsubscribe":
		h.unsubscribeOne(s, frame.InstrumentID)

	case frame.Action == "list_instruments":
		s.Send(map[string]interface{}{
			"action":      "list_instruments",
			"instruments": h.catalogue.List(),
		})

	case frame.Action == "search_instruments":
		s.Send(map[string]interface{}{
			"action":  "search_instruments",
			"query":   frame.Query,
			"results": h.catalogue.Search(frame.Query),
		})

	default:
		h.log.Debug("session %s: unrecognized frame aid=%q action=%q", s.id, frame.Aid, frame.Action)
		s.Send(errorFrame(fmt.Sprintf("unrecognized frame aid=%q action=%q", frame.Aid, frame.Action)))
	}
}

// -----------------------------------------------------------------------------

// errorFrame builds the spec §6/§7 error frame. The session stays open.
func errorFrame(message string) interface{} {
	return map[string]interface{}{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	}
}

// -----------------------------------------------------------------------------

// rawInstrumentID strips the exchange prefix from a display-form instrument
// id ("SHFE.cu2501" -> "cu2501"), per spec §3/§6. Instruments with no dot are
// already in raw form.
func rawInstrumentID(instrument string) string {
	if idx := strings.IndexByte(instrument, '.'); idx >= 0 {
		return instrument[idx+1:]
	}
	return instrument
}

// -----------------------------------------------------------------------------

func splitInsList(insList string) []string {
	if insList == "" {
		return nil
	}
	parts := strings.Split(insList, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// setSubscriptions replaces the session's full instrument set with wanted,
// matching CTP's subscribe_quote semantics: it is not additive. wanted may
// carry either display form ("SHFE.cu2501") or bare raw form ("cu2501");
// the dispatcher and upstream only ever see the raw form, with the full
// string remembered as the display mapping (spec §3/§6).
func (h *Hub) setSubscriptions(s *ClientSession, wanted []string) {
	current := h.dispatcher.SubscriptionsForSession(s.id) // raw ids

	currentSet := make(map[string]struct{}, len(current))
	for _, raw := range current {
		currentSet[raw] = struct{}{}
	}

	wantedRaw := make([]string, 0, len(wanted))
	wantedSet := make(map[string]struct{}, len(wanted))
	for _, inst := range wanted {
		raw := rawInstrumentID(inst)
		h.catalogue.Register(raw, inst)
		wantedRaw = append(wantedRaw, raw)
		wantedSet[raw] = struct{}{}
	}

	for _, raw := range wantedRaw {
		if _, already := currentSet[raw]; !already {
			h.dispatcher.AddSubscription(s.id, raw)
		}
	}
	for _, raw := range current {
		if _, keep := wantedSet[raw]; !keep {
			h.dispatcher.RemoveSubscription(s.id, raw)
		}
	}

	s.Send(map[string]interface{}{"aid": "subscribe_quote", "status": "ok"})
}

// -----------------------------------------------------------------------------

func (h *Hub) subscribeOne(s *ClientSession, instrumentID string) {
	if instrumentID == "" {
		return
	}
	raw := rawInstrumentID(instrumentID)
	h.catalogue.Register(raw, instrumentID)
	ok := h.dispatcher.AddSubscription(s.id, raw)
	s.Send(map[string]interface{}{
		"action":        "subscribe_ack",
		"instrument_id": instrumentID,
		"ok":            ok,
	})
}

// -----------------------------------------------------------------------------

func (h *Hub) unsubscribeOne(s *ClientSession, instrumentID string) {
	if instrumentID == "" {
		return
	}
	raw := rawInstrumentID(instrumentID)
	ok := h.dispatcher.RemoveSubscription(s.id, raw)
	s.Send(map[string]interface{}{
		"action":        "unsubscribe_ack",
		"instrument_id": instrumentID,
		"ok":            ok,
	})
}
