package broadcast

import "testing"

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	done := make(chan struct{})

	b.Publish(Message{Payload: []byte("a")})
	b.Publish(Message{Payload: []byte("b")})

	msg, err, ok := sub.Recv(done)
	if !ok || err != nil || string(msg.Payload) != "a" {
		t.Fatalf("expected a, got %q err=%v ok=%v", msg.Payload, err, ok)
	}
	msg, err, ok = sub.Recv(done)
	if !ok || err != nil || string(msg.Payload) != "b" {
		t.Fatalf("expected b, got %q err=%v ok=%v", msg.Payload, err, ok)
	}
}

func TestSlowSubscriberObservesLagged(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		b.Publish(Message{Payload: []byte{byte(i)}})
	}

	_, err, ok := sub.Recv(done)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if _, isLagged := err.(Lagged); !isLagged {
		t.Fatalf("expected Lagged error, got %v", err)
	}
}

func TestSubscribeOnlySeesLaterPublishes(t *testing.T) {
	b := New(4)
	b.Publish(Message{Payload: []byte("before")})

	sub := b.Subscribe()
	b.Publish(Message{Payload: []byte("after")})

	done := make(chan struct{})
	msg, err, ok := sub.Recv(done)
	if !ok || err != nil {
		t.Fatalf("Recv error: ok=%v err=%v", ok, err)
	}
	if string(msg.Payload) != "after" {
		t.Fatalf("expected to only see messages published after Subscribe, got %q", msg.Payload)
	}
}

func TestCloseEndsSubscribers(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	b.Close()

	done := make(chan struct{})
	_, err, ok := sub.Recv(done)
	if ok || err != nil {
		t.Fatalf("expected end-of-stream after Close, got ok=%v err=%v", ok, err)
	}
}
