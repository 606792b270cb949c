package ws

import (
	"encoding/json"
	"testing"

	"pairwire/pkg/directory"
	"pairwire/pkg/registry"
	"pairwire/pkg/router"
	"pairwire/pkg/store"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *registry.Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(6)
	dir, err := directory.New(st, reg)
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}
	st.BindResolver(dir)
	rtr := router.New(reg, dir, st)

	if opts.SendBuffer == 0 {
		opts.SendBuffer = 64
	}
	return NewHub(reg, dir, rtr, opts), reg
}

// attachClient registers a client without a socket; frames land on the
// buffered send channel where the test can inspect them.
func attachClient(h *Hub, id string) *Client {
	c := &Client{id: id, send: make(chan []byte, h.sendBuffer), hub: h}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

type sentFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func drainFrames(t *testing.T, c *Client) []sentFrame {
	t.Helper()
	var out []sentFrame
	for {
		select {
		case raw := <-c.send:
			var f sentFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("undecodable frame %s: %v", raw, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func errorKind(t *testing.T, f sentFrame) string {
	t.Helper()
	if f.Event != EvError {
		t.Fatalf("expected error frame; got %q", f.Event)
	}
	var p ErrorPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatalf("undecodable error payload: %v", err)
	}
	return p.Kind
}

func TestThrottledClientIsToldAboutTheDrop(t *testing.T) {
	h, _ := newTestHub(t, Options{EventsPerSecond: 0.01, Burst: 2})
	c := attachClient(h, "conn-throttle")

	for i := 0; i < 5; i++ {
		h.dispatch(c, []byte(`{"event":"getConversations"}`))
	}

	frames := drainFrames(t, c)
	if len(frames) != 5 {
		t.Fatalf("expected 5 reply frames; got %d", len(frames))
	}
	// the first two pass the limiter and fail on registration; the rest
	// are dropped, each with an explicit rate-limit signal
	for i := 0; i < 2; i++ {
		if kind := errorKind(t, frames[i]); kind != KindNotRegistered {
			t.Fatalf("frame %d: kind = %q; want %q", i, kind, KindNotRegistered)
		}
	}
	for i := 2; i < 5; i++ {
		if kind := errorKind(t, frames[i]); kind != KindRateLimited {
			t.Fatalf("frame %d: kind = %q; want %q", i, kind, KindRateLimited)
		}
	}
}

func TestRegisterRejectsMalformedCode(t *testing.T) {
	h, reg := newTestHub(t, Options{})
	c := attachClient(h, "conn-reg")

	h.dispatch(c, []byte(`{"event":"register","data":{"userCode":"ab"}}`))

	frames := drainFrames(t, c)
	if len(frames) != 1 {
		t.Fatalf("expected a single error frame; got %d frames", len(frames))
	}
	if kind := errorKind(t, frames[0]); kind != KindMalformedRequest {
		t.Fatalf("kind = %q; want %q", kind, KindMalformedRequest)
	}
	if _, bound := reg.ResolveByConnection("conn-reg"); bound {
		t.Fatalf("rejected register must not bind an identity")
	}
}

func TestRegisterNormalizesAcceptableCode(t *testing.T) {
	h, reg := newTestHub(t, Options{})
	c := attachClient(h, "conn-reg")

	h.dispatch(c, []byte(`{"event":"register","data":{"userCode":" ab12cd "}}`))

	frames := drainFrames(t, c)
	if len(frames) < 3 || frames[0].Event != EvRegistered {
		t.Fatalf("expected registered + userList + conversations; got %+v", frames)
	}
	ident, bound := reg.ResolveByConnection("conn-reg")
	if !bound || ident.UserCode != "AB12CD" {
		t.Fatalf("expected normalized binding AB12CD; got %+v bound=%v", ident, bound)
	}
}
