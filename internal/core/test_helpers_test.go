package core

import (
	"testing"
	"time"
)

func mustMessage(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()

	select {
	case msg := <-ch:
		if msg == nil {
			t.Fatal("received nil message")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected message not received")
		return nil
	}
}

func mustNoMessage(t *testing.T, ch <-chan *Message) {
	t.Helper()

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
