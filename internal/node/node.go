// Package node implements the dataflow graph's work units: Node, the
// per-type work loops, and NodeManager, the graph builder.
//
// The source's up_channels_/down_channels_ pair means different things
// depending on node kind (input side for a relay, write queue for a
// duplex), which is exactly the ambiguity the design notes flag as a bug
// source. This package names the two sides by role instead: InChannels is
// always what a node's work loop dequeues from, OutChannels is always what
// Dispatch enqueues to. A duplex's fd-write queue is its InChannels; the
// channels it feeds after decoding an fd read are its OutChannels. Connect
// always wires "up's Out" to "down's In", with no per-node-kind branching.
package node

import (
	"sync"
	"sync/atomic"

	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/pkg/iterator"
)

// Type is the node kind.
type Type int

const (
	Source Type = iota
	Sink
	Relay
	FullDuplex
)

func (t Type) String() string {
	switch t {
	case Source:
		return "SOURCE"
	case Sink:
		return "SINK"
	case Relay:
		return "RELAY"
	case FullDuplex:
		return "FULL_DUPLEX"
	default:
		return "UNKNOWN"
	}
}

// Node is the interface NodeManager operates on.
type Node interface {
	Name() string
	Type() Type
	InChannels() []*channel.Channel
	OutChannels() []*channel.Channel
	AddInChannel(ch *channel.Channel)
	AddOutChannel(ch *channel.Channel)
	Stop()
	IsStop() bool
}

// Worker is a Node whose work loop NodeManager can run as one or more
// goroutines.
type Worker interface {
	Node
	// Work processes exactly one message from ch. Returns false when ch's
	// queue has been broken (shutdown) and the worker should exit.
	Work(ch *channel.Channel) bool
	// ClaimInChannel assigns the calling worker goroutine one input
	// channel by round-robin; call once per worker goroutine.
	ClaimInChannel() *channel.Channel
}

// Base implements the bookkeeping shared by every node: channel sets,
// stop flag, and round-robin worker-to-channel assignment. Concrete node
// kinds embed Base and add HandleMsg/FDRead/FDWrite as appropriate.
type Base struct {
	name string
	typ  Type

	mu  sync.Mutex
	in  []*channel.Channel
	out []*channel.Channel

	stopped atomic.Bool

	claimOnce sync.Once
	claimIter *iterator.Iterator[*channel.Channel]
}

// NewBase constructs a Base. Concrete node constructors call this and
// embed the result.
func NewBase(name string, typ Type) *Base {
	return &Base{name: name, typ: typ}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Type() Type   { return b.typ }

func (b *Base) InChannels() []*channel.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*channel.Channel, len(b.in))
	copy(out, b.in)
	return out
}

func (b *Base) OutChannels() []*channel.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*channel.Channel, len(b.out))
	copy(out, b.out)
	return out
}

func (b *Base) AddInChannel(ch *channel.Channel) {
	b.mu.Lock()
	b.in = append(b.in, ch)
	b.mu.Unlock()
}

func (b *Base) AddOutChannel(ch *channel.Channel) {
	b.mu.Lock()
	b.out = append(b.out, ch)
	b.mu.Unlock()
}

// ClaimInChannel assigns the calling worker goroutine one input channel by
// round-robin over the current InChannels. Call once per worker goroutine,
// before its loop starts. The channel set is fixed by the time
// RunAsThreads starts spawning workers, so the round-robin iterator is
// built once and reused.
func (b *Base) ClaimInChannel() *channel.Channel {
	in := b.InChannels()
	if len(in) == 0 {
		return nil
	}
	b.claimOnce.Do(func() {
		b.claimIter = &iterator.Iterator[*channel.Channel]{Items: in}
	})
	if b.claimIter.Len() == 0 {
		return nil
	}
	return b.claimIter.Next()
}

// IsStop reports whether Stop has been called.
func (b *Base) IsStop() bool { return b.stopped.Load() }

// Stop latches the stop flag and breaks every attached channel's queue
// wait, so blocked workers unblock and observe IsStop on their next loop
// check. Idempotent.
func (b *Base) Stop() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	all := make([]*channel.Channel, 0, len(b.in)+len(b.out))
	all = append(all, b.in...)
	all = append(all, b.out...)
	b.mu.Unlock()
	for _, ch := range all {
		ch.Queue().BreakAllWait()
	}
}

// Dispatch is the default policy: route by msg.ID modulo the number of
// output channels, dropping the message when there are none.
func (b *Base) Dispatch(msg *message.Message) {
	out := b.OutChannels()
	if len(out) == 0 {
		msg.Release()
		return
	}
	idx := int(msg.ID) % len(out)
	out[idx].WriteMessage(msg)
}
