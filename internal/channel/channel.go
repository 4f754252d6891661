// Package channel wraps a BoundedQueue with a stable identity so the
// dataflow graph can name and reconnect its edges.
package channel

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/queue"
)

// DefaultCapacity is the default bounded-queue depth for a new Channel.
const DefaultCapacity = 100

// Channel is a named wrapper around a BoundedQueue of *message.Message.
// Identity is by ID, not by Name: duplicate names are legal.
type Channel struct {
	name string
	id   string
	q    *queue.BoundedQueue[*message.Message]
}

// New creates a Channel with a freshly generated random 16-byte hex id.
func New(name string) *Channel {
	id := newID()
	return &Channel{
		name: name,
		id:   id,
		q:    queue.New[*message.Message](name, id, DefaultCapacity),
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is only possible if the OS entropy source is
		// broken; there is nothing sensible to recover to here.
		panic("channel: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

func (c *Channel) Name() string { return c.name }
func (c *Channel) ID() string   { return c.id }

// Queue exposes the underlying BoundedQueue for callers (the Node runtime)
// that need direct enqueue/dequeue/break-wait access.
func (c *Channel) Queue() *queue.BoundedQueue[*message.Message] { return c.q }

func (c *Channel) WriteMessage(m *message.Message) bool { return c.q.EnqueueWait(m) }
func (c *Channel) ReadMessage() (*message.Message, bool) {
	var m *message.Message
	ok := c.q.DequeueWait(&m)
	return m, ok
}
