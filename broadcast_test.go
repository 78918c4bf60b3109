package main

import (
	"encoding/json"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestOutboxKeepsOrder(t *testing.T) {
	var o Outbox
	o.Broadcast("a", nil)
	o.Send("p1", "b", nil)
	o.BroadcastExcept("p2", "c", nil)
	if o.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", o.Len())
	}
	msgs := o.Drain()
	if kinds := kindsOf(msgs); kinds[0] != "a" || kinds[1] != "b" || kinds[2] != "c" {
		t.Errorf("unexpected order %v", kinds)
	}
	if msgs[1].To != "p1" || msgs[2].Except != "p2" {
		t.Errorf("routing lost: %+v", msgs)
	}
	if o.Len() != 0 {
		t.Error("drain should empty the outbox")
	}
}

func TestDispatcherRouting(t *testing.T) {
	d := NewDispatcher()
	a, b, c := &mockBroadcaster{}, &mockBroadcaster{}, &mockBroadcaster{}
	d.Attach("a", a, false)
	d.Attach("b", b, false)
	d.Attach("c", c, false)

	d.Flush([]Outbound{
		{Kind: "all"},
		{To: "b", Kind: "only_b"},
		{Except: "a", Kind: "not_a"},
		{To: "ghost", Kind: "nobody"},
	})

	if got := a.kinds(t); len(got) != 1 || got[0] != "all" {
		t.Errorf("a got %v", got)
	}
	if got := b.kinds(t); len(got) != 3 || got[1] != "only_b" || got[2] != "not_a" {
		t.Errorf("b got %v", got)
	}
	if got := c.kinds(t); len(got) != 2 || got[1] != "not_a" {
		t.Errorf("c got %v", got)
	}
}

func TestDispatcherDetach(t *testing.T) {
	d := NewDispatcher()
	a, b := &mockBroadcaster{}, &mockBroadcaster{}
	d.Attach("a", a, false)
	d.Attach("b", b, false)
	d.Detach("a")
	d.Detach("missing")
	if d.Len() != 1 {
		t.Fatalf("expected 1 attached, got %d", d.Len())
	}
	d.Flush([]Outbound{{Kind: "x"}})
	if len(a.frames) != 0 {
		t.Error("detached client should get nothing")
	}
	if len(b.frames) != 1 {
		t.Errorf("expected 1 frame for b, got %d", len(b.frames))
	}
}

func TestDispatcherReattachKeepsSingleEntry(t *testing.T) {
	d := NewDispatcher()
	first, second := &mockBroadcaster{}, &mockBroadcaster{}
	d.Attach("a", first, false)
	d.Attach("a", second, false)
	d.Flush([]Outbound{{Kind: "x"}})
	if len(first.frames) != 0 || len(second.frames) != 1 {
		t.Errorf("expected delivery only to the latest connection, got %d/%d", len(first.frames), len(second.frames))
	}
}

func TestDispatcherJSONEnvelope(t *testing.T) {
	d := NewDispatcher()
	mb := &mockBroadcaster{}
	d.Attach("a", mb, false)
	d.Flush([]Outbound{
		{Kind: MsgPlayerDisconnected, Payload: PlayerIDMsg{PlayerID: "z"}},
		{Kind: "bare"},
	})

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(mb.frames[0], &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["t"]) != `"`+MsgPlayerDisconnected+`"` {
		t.Errorf("unexpected type field %s", raw["t"])
	}
	var msg PlayerIDMsg
	if !mb.last(t, MsgPlayerDisconnected, &msg) || msg.PlayerID != "z" {
		t.Errorf("unexpected payload %+v", msg)
	}

	raw = nil
	if err := json.Unmarshal(mb.frames[1], &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["d"]; ok {
		t.Error("nil payload should omit d")
	}
}

func TestDispatcherMsgpackForBinaryClients(t *testing.T) {
	d := NewDispatcher()
	text, bin := &mockBroadcaster{}, &mockBroadcaster{}
	d.Attach("text", text, false)
	d.Attach("bin", bin, true)
	d.Flush([]Outbound{{Kind: MsgPlayerDisconnected, Payload: PlayerIDMsg{PlayerID: "z"}}})

	if len(text.frames) != 1 || len(text.binary) != 0 {
		t.Fatalf("text client should get one JSON frame, got %d/%d", len(text.frames), len(text.binary))
	}
	if len(bin.binary) != 1 || len(bin.frames) != 0 {
		t.Fatalf("binary client should get one msgpack frame, got %d/%d", len(bin.binary), len(bin.frames))
	}

	var env struct {
		T string         `msgpack:"t"`
		D map[string]any `msgpack:"d"`
	}
	if err := msgpack.Unmarshal(bin.binary[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.T != MsgPlayerDisconnected {
		t.Errorf("expected %s, got %s", MsgPlayerDisconnected, env.T)
	}
	if env.D["player_id"] != "z" {
		t.Errorf("payload should use json field names, got %v", env.D)
	}
}

func TestDispatcherEncodesOncePerFormat(t *testing.T) {
	d := NewDispatcher()
	a, b := &mockBroadcaster{}, &mockBroadcaster{}
	d.Attach("a", a, false)
	d.Attach("b", b, false)
	d.Flush([]Outbound{{Kind: "x", Payload: MessageMsg{Message: "hi"}}})
	if string(a.frames[0]) != string(b.frames[0]) {
		t.Error("every text client should receive identical bytes")
	}
}

func TestDispatcherSkipsUnencodablePayload(t *testing.T) {
	d := NewDispatcher()
	mb := &mockBroadcaster{}
	d.Attach("a", mb, false)
	d.Flush([]Outbound{{Kind: "bad", Payload: make(chan int)}, {Kind: "good"}})
	if got := mb.kinds(t); len(got) != 1 || got[0] != "good" {
		t.Errorf("expected only the encodable message, got %v", got)
	}
}
