package core

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Client is a connected chat participant as seen by the core layer. It is
// the handle a Room holds for fan-out: an identity plus a bounded outbound
// message queue. The transport owns the connection lifetime; rooms only
// track membership.
type Client struct {
	ID    string
	Inbox chan *Message

	dropped atomic.Uint64
}

// NewClient constructs a client with a bounded outbound queue.
func NewClient(queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Client{
		ID:    uuid.NewString(),
		Inbox: make(chan *Message, queueSize),
	}
}

// Deliver enqueues a message without blocking. If the client's queue is full
// the message is dropped and counted; a slow consumer must never stall the
// broadcaster.
func (c *Client) Deliver(msg *Message) bool {
	select {
	case c.Inbox <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped reports how many messages were discarded because the queue was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}
