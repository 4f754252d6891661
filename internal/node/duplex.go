package node

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/reactor"
)

// FDHandler is implemented by node kinds that own a file descriptor:
// Tunnel and UdpNode. FDRead performs exactly one read and returns
// unix.EAGAIN (wrapped) when nothing is currently available; FDWrite
// performs exactly one write of msg.
type FDHandler interface {
	FD() int
	FDRead() (*message.Message, error)
	FDWrite(msg *message.Message) error
}

// DuplexNode is a full-duplex Node: its InChannels are write queues
// drained via FDWrite by its single worker goroutine, which claims one of
// them (see ClaimInChannel); its OutChannels
// receive messages produced by FDRead, invoked from the reactor thread
// rather than the worker goroutine.
type DuplexNode struct {
	*Base
	Handler    FDHandler
	dispatcher Dispatcher
}

// NewDuplex constructs a DuplexNode around h.
func NewDuplex(name string, h FDHandler) *DuplexNode {
	return &DuplexNode{Base: NewBase(name, FullDuplex), Handler: h}
}

func (d *DuplexNode) SetDispatcher(dp Dispatcher) { d.dispatcher = dp }

func (d *DuplexNode) Dispatch(msg *message.Message) {
	if d.dispatcher != nil {
		d.dispatcher.Dispatch(msg)
		return
	}
	d.Base.Dispatch(msg)
}

// Work implements Worker: dequeue one message to write and write it to
// the fd. A Stop message stops the node without being written.
func (d *DuplexNode) Work(ch *channel.Channel) bool {
	msg, ok := ch.ReadMessage()
	if !ok {
		return false
	}
	if msg.IsStop() {
		msg.Release()
		d.Stop()
		return true
	}
	if err := d.Handler.FDWrite(msg); err != nil {
		flog.Warnf("node %s: fd_write: %v", d.Name(), err)
	}
	msg.Release()
	return true
}

// RegisterToPoller arms the process-wide reactor to drain this node's fd
// whenever it becomes readable, dispatching every message FDRead produces
// downstream. Persistent registration (timeout_ms = -1): reads are driven
// entirely by readiness, never by a timeout. Edge-triggered (EPOLLET):
// the callback loops FDRead until EAGAIN on every wakeup, since a second
// readiness event is not guaranteed for data that arrives while this
// callback is still running.
func (d *DuplexNode) RegisterToPoller() bool {
	fd := d.Handler.FD()
	return reactor.Instance().Register(reactor.Request{
		FD:        fd,
		Events:    unix.EPOLLIN | unix.EPOLLET,
		TimeoutMs: -1,
		Callback: func(resp reactor.Response) {
			if resp.Events&unix.EPOLLIN == 0 {
				return
			}
			for {
				msg, err := d.Handler.FDRead()
				if err != nil {
					if isAgain(err) {
						return
					}
					flog.Warnf("node %s: fd_read: %v", d.Name(), err)
					return
				}
				d.Dispatch(msg)
			}
		},
	})
}

// Pump runs a blocking FDRead loop, dispatching every message downstream,
// for FDHandlers with no pollable file descriptor to register with the
// reactor (a net.Conn-backed session rather than a raw socket). Use this
// instead of RegisterToPoller for such handlers; it returns once FDRead
// reports a non-retryable error, which Close() is expected to produce by
// unblocking the underlying read.
func (d *DuplexNode) Pump() {
	for {
		msg, err := d.Handler.FDRead()
		if err != nil {
			if isAgain(err) {
				continue
			}
			flog.Warnf("node %s: fd_read: %v", d.Name(), err)
			return
		}
		d.Dispatch(msg)
	}
}

func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
