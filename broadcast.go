package main

import (
	"bytes"
	"encoding/json"
	"log"

	"github.com/vmihailenco/msgpack/v5"
)

// Broadcaster interface for sending encoded frames to a client
type Broadcaster interface {
	SendRaw(data []byte)
	SendBinary(data []byte)
}

// Outbound is one message generated during a tick
type Outbound struct {
	To      string // "" broadcasts
	Except  string // skipped on broadcast
	Kind    string
	Payload interface{}
}

// Outbox collects a tick's messages in generation order
type Outbox struct {
	msgs []Outbound
}

// Broadcast queues a message for every connection
func (o *Outbox) Broadcast(kind string, payload interface{}) {
	o.msgs = append(o.msgs, Outbound{Kind: kind, Payload: payload})
}

// BroadcastExcept queues a message for every connection but one
func (o *Outbox) BroadcastExcept(except, kind string, payload interface{}) {
	o.msgs = append(o.msgs, Outbound{Except: except, Kind: kind, Payload: payload})
}

// Send queues a message for a single player
func (o *Outbox) Send(to, kind string, payload interface{}) {
	o.msgs = append(o.msgs, Outbound{To: to, Kind: kind, Payload: payload})
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	return len(o.msgs)
}

// Drain returns the queued messages and empties the outbox
func (o *Outbox) Drain() []Outbound {
	msgs := o.msgs
	o.msgs = nil
	return msgs
}

type recipient struct {
	b      Broadcaster
	binary bool
}

// Dispatcher fans encoded messages out to attached connections. It is
// owned by the session coordinator goroutine.
type Dispatcher struct {
	clients map[string]recipient
	order   []string
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{clients: make(map[string]recipient)}
}

// Attach routes messages for playerID to b
func (d *Dispatcher) Attach(playerID string, b Broadcaster, binary bool) {
	if _, ok := d.clients[playerID]; !ok {
		d.order = append(d.order, playerID)
	}
	d.clients[playerID] = recipient{b: b, binary: binary}
}

// Detach stops routing messages to playerID
func (d *Dispatcher) Detach(playerID string) {
	if _, ok := d.clients[playerID]; !ok {
		return
	}
	delete(d.clients, playerID)
	for i, id := range d.order {
		if id == playerID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of attached connections
func (d *Dispatcher) Len() int {
	return len(d.clients)
}

// Flush delivers msgs in order. Each message is encoded at most once per
// wire format; delivery never blocks.
func (d *Dispatcher) Flush(msgs []Outbound) {
	for _, m := range msgs {
		var text, bin []byte
		deliver := func(r recipient) {
			if r.binary {
				if bin == nil {
					bin = encodeMsgpack(m)
				}
				if bin != nil {
					r.b.SendBinary(bin)
				}
				return
			}
			if text == nil {
				text = encodeJSON(m)
			}
			if text != nil {
				r.b.SendRaw(text)
			}
		}

		if m.To != "" {
			if r, ok := d.clients[m.To]; ok {
				deliver(r)
			}
			continue
		}
		for _, id := range d.order {
			if id == m.Except {
				continue
			}
			deliver(d.clients[id])
		}
	}
}

func encodeJSON(m Outbound) []byte {
	data, err := json.Marshal(Envelope{T: m.Kind, Data: m.Payload})
	if err != nil {
		log.Printf("marshal error (%s): %v", m.Kind, err)
		return nil
	}
	return data
}

func encodeMsgpack(m Outbound) []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(Envelope{T: m.Kind, Data: m.Payload}); err != nil {
		log.Printf("msgpack error (%s): %v", m.Kind, err)
		return nil
	}
	return buf.Bytes()
}
