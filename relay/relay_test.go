package relay

import (
	"encoding/json"
	"testing"

	"github.com/vmihailenco/msgpack"
)

func TestPublishSkipsBlacklistedEventWithoutTouchingStan(t *testing.T) {
	r := &Relay{
		shard:     "0",
		channel:   "events",
		blacklist: map[string]struct{}{"PRESENCE_UPDATE": {}},
	}

	// stan is nil; if blacklist filtering didn't short-circuit, this would
	// panic on the nil stan.Conn before the test could fail cleanly.
	r.Publish("PRESENCE_UPDATE", json.RawMessage(`{}`))
}

func TestPublishOnNilRelayIsNoop(t *testing.T) {
	var r *Relay
	r.Publish("MESSAGE_CREATE", json.RawMessage(`{}`))
}

func TestEnvelopeRoundTripsThroughMsgpack(t *testing.T) {
	env := Envelope{Shard: "2", Type: "MESSAGE_CREATE", Data: json.RawMessage(`{"id":"1"}`)}

	encoded, err := msgpack.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Envelope
	if err := msgpack.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Shard != env.Shard || decoded.Type != env.Type || string(decoded.Data) != string(env.Data) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, env)
	}
}
