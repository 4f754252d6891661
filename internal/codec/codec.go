// Package codec implements Encoder and Decoder, the thin RELAY nodes that
// wrap an opaque coding engine: a relay node driving a coding scheme and
// passing raw messages through unchanged. Header room for the wire format
// is reserved upstream, by the collector that built the message.
package codec

import (
	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/node"
)

// MaxMessageSize bounds what Encoder.HandleMsg accepts: a message of
// MaxMessageSize bytes or more is dropped rather than handed to a Coder.
const MaxMessageSize = 65540

// Coder is the opaque coding engine an Encoder or Decoder node drives. A
// single input message may expand into zero or more output messages
// (fragmentation) or coalesce with others (recoding), so Code delivers its
// results through emit rather than a single return value. Code takes
// ownership of msg: it must Release it once done reading.
type Coder interface {
	Code(msg *message.Message, emit func(*message.Message)) error
}

// PassthroughCoder emits msg unchanged. Used when a node carries coded and
// raw traffic without a real coding scheme attached.
type PassthroughCoder struct{}

func (PassthroughCoder) Code(msg *message.Message, emit func(*message.Message)) error {
	emit(msg)
	return nil
}

// Encoder is a RELAY node: messages marked NeedsCoded are handed to the
// Coder, everything else passes straight through.
type Encoder struct {
	*node.RelayNode
	coder Coder
}

// NewEncoder constructs an Encoder. A nil coder falls back to
// PassthroughCoder.
func NewEncoder(name string, coder Coder) *Encoder {
	if coder == nil {
		coder = PassthroughCoder{}
	}
	e := &Encoder{coder: coder}
	e.RelayNode = node.NewRelay(name, e)
	return e
}

// HandleMsg implements node.MsgHandler. A message not marked NeedsCoded is
// returned unchanged for RelayNode to dispatch. For a coded message it
// returns nil: its outputs are dispatched directly from within Code's emit
// callback, since a single input message may produce zero, one, or many
// output messages.
func (e *Encoder) HandleMsg(msg *message.Message) *message.Message {
	if msg.Size() >= MaxMessageSize {
		flog.Errorf("encoder: message of %d bytes exceeds max size %d, dropping", msg.Size(), MaxMessageSize)
		msg.Release()
		return nil
	}
	if !msg.NeedsCoded {
		return msg
	}
	if err := e.coder.Code(msg, func(out *message.Message) {
		e.Dispatch(out)
	}); err != nil {
		flog.Errorf("encoder: code: %v", err)
	}
	return nil
}

// Decoder is a RELAY node: the symmetric sink-side counterpart to Encoder,
// reassembling coded messages back into their original form before
// dispatching toward the tunnel.
type Decoder struct {
	*node.RelayNode
	coder Coder
}

// NewDecoder constructs a Decoder. A nil coder falls back to
// PassthroughCoder.
func NewDecoder(name string, coder Coder) *Decoder {
	if coder == nil {
		coder = PassthroughCoder{}
	}
	d := &Decoder{coder: coder}
	d.RelayNode = node.NewRelay(name, d)
	return d
}

// HandleMsg implements node.MsgHandler, mirroring Encoder.HandleMsg.
func (d *Decoder) HandleMsg(msg *message.Message) *message.Message {
	if !msg.NeedsCoded {
		return msg
	}
	if err := d.coder.Code(msg, func(out *message.Message) {
		d.Dispatch(out)
	}); err != nil {
		flog.Errorf("decoder: code: %v", err)
	}
	return nil
}
