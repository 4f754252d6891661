package node

import (
	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/message"
)

// MsgHandler processes one message and returns the message to propagate
// downstream, or nil to drop it without a Dispatch call.
type MsgHandler interface {
	HandleMsg(msg *message.Message) *message.Message
}

// Dispatcher lets a node kind override Base's default round-robin
// dispatch policy (the Collector is the one spec example).
type Dispatcher interface {
	Dispatch(msg *message.Message)
}

// RelayNode is a Node that reads from an input channel, transforms the
// message via a MsgHandler, and dispatches the result. Encoder, Decoder,
// and Collector are all RelayNodes with different MsgHandler/Dispatcher
// implementations.
type RelayNode struct {
	*Base
	Handler    MsgHandler
	dispatcher Dispatcher
}

// NewRelay constructs a RelayNode around h.
func NewRelay(name string, h MsgHandler) *RelayNode {
	return &RelayNode{Base: NewBase(name, Relay), Handler: h}
}

// SetDispatcher installs a Dispatcher overriding the default round-robin
// policy. Pass nil to restore the default.
func (r *RelayNode) SetDispatcher(d Dispatcher) { r.dispatcher = d }

// Dispatch routes through the installed Dispatcher if any, else Base's
// default policy.
func (r *RelayNode) Dispatch(msg *message.Message) {
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(msg)
		return
	}
	r.Base.Dispatch(msg)
}

// Work implements Worker: dequeue, propagate Stop (then stop this node),
// else hand the message to the handler and dispatch its result.
func (r *RelayNode) Work(ch *channel.Channel) bool {
	msg, ok := ch.ReadMessage()
	if !ok {
		return false
	}
	if msg.IsStop() {
		r.Dispatch(msg)
		r.Stop()
		return true
	}
	if res := r.Handler.HandleMsg(msg); res != nil {
		r.Dispatch(res)
	}
	return true
}
