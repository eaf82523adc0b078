package deserializer

import "testing"

func TestParseDispatchFrame(t *testing.T) {
	raw := []byte(`{"op":0,"s":42,"t":"MESSAGE_CREATE","d":{"content":"hi","nested":{"a":[1,2,"}"]}}}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if env.Op != 0 {
		t.Fatalf("expected op 0, got %d", env.Op)
	}
	if env.Sequence == nil || env.Sequence.Value != 42 {
		t.Fatalf("expected sequence 42, got %+v", env.Sequence)
	}
	if string(raw[env.Sequence.Offset:env.Sequence.Offset+env.Sequence.Length]) != "42" {
		t.Fatalf("sequence span mismatched: %q", raw[env.Sequence.Offset:env.Sequence.Offset+env.Sequence.Length])
	}
	if env.Event == nil || env.Event.Name != "MESSAGE_CREATE" {
		t.Fatalf("expected event MESSAGE_CREATE, got %+v", env.Event)
	}
}

func TestParseKeyOrderIndependent(t *testing.T) {
	raw := []byte(`{"d":{"foo":"bar"},"t":"READY","op":10,"s":null}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if env.Op != 10 {
		t.Fatalf("expected op 10, got %d", env.Op)
	}
	if env.Sequence != nil {
		t.Fatalf("expected nil sequence for null s, got %+v", env.Sequence)
	}
	if env.Event == nil || env.Event.Name != "READY" {
		t.Fatalf("expected event READY, got %+v", env.Event)
	}
}

func TestParseMissingOp(t *testing.T) {
	_, err := Parse([]byte(`{"s":1,"t":"READY"}`))
	if err != ErrMissingOp {
		t.Fatalf("expected ErrMissingOp, got %v", err)
	}
}

func TestParseNotAnObject(t *testing.T) {
	_, err := Parse([]byte(`[1,2,3]`))
	if err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestParseHeartbeatHasNoSequenceOrEvent(t *testing.T) {
	env, err := Parse([]byte(`{"op":11,"d":null}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if env.Op != 11 {
		t.Fatalf("expected op 11, got %d", env.Op)
	}
	if env.Sequence != nil || env.Event != nil {
		t.Fatalf("expected no sequence/event, got %+v %+v", env.Sequence, env.Event)
	}
}
