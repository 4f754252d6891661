package codec

import (
	"testing"

	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/message"
)

// splittingCoder fans one input message out into two halves, exercising
// the emit-based dispatch path (one HandleMsg call, multiple Dispatch
// calls).
type splittingCoder struct{}

func (splittingCoder) Code(msg *message.Message, emit func(*message.Message)) error {
	defer msg.Release()
	half := msg.Size() / 2
	a := message.New(half)
	a.Fill(msg.Bytes()[:half])
	b := message.New(msg.Size() - half)
	b.Fill(msg.Bytes()[half:])
	emit(a)
	emit(b)
	return nil
}

func TestEncoderPassesThroughUncodedMessages(t *testing.T) {
	e := NewEncoder("enc", nil)
	out := channel.New("enc:out")
	e.AddOutChannel(out)

	msg := message.New(10)
	msg.Fill(make([]byte, 10))
	msg.NeedsCoded = false

	if !e.Work(setupInChannel(e, msg)) {
		t.Fatal("expected Work to return true")
	}

	var got *message.Message
	if !out.Queue().TryDequeue(&got) {
		t.Fatal("expected the uncoded message to pass straight through")
	}
	if got.Size() != 10 {
		t.Fatalf("expected size 10, got %d", got.Size())
	}
}

func TestEncoderDropsOversizedMessages(t *testing.T) {
	e := NewEncoder("enc2", nil)
	out := channel.New("enc2:out")
	e.AddOutChannel(out)

	msg := message.New(MaxMessageSize)
	msg.Fill(make([]byte, MaxMessageSize))

	e.Work(setupInChannel(e, msg))

	var got *message.Message
	if out.Queue().TryDequeue(&got) {
		t.Fatal("expected the oversized message to be dropped")
	}
}

func TestEncoderDispatchesEveryEmittedFragment(t *testing.T) {
	e := NewEncoder("enc3", splittingCoder{})
	out := channel.New("enc3:out")
	e.AddOutChannel(out)

	msg := message.New(10)
	msg.Fill(make([]byte, 10))
	msg.NeedsCoded = true

	e.Work(setupInChannel(e, msg))

	var first, second *message.Message
	if !out.Queue().TryDequeue(&first) {
		t.Fatal("expected the first fragment")
	}
	if !out.Queue().TryDequeue(&second) {
		t.Fatal("expected the second fragment")
	}
	if first.Size()+second.Size() != 10 {
		t.Fatalf("expected fragments to sum to 10 bytes, got %d+%d", first.Size(), second.Size())
	}
}

func TestDecoderPassesThroughUncodedMessages(t *testing.T) {
	d := NewDecoder("dec", nil)
	out := channel.New("dec:out")
	d.AddOutChannel(out)

	msg := message.New(5)
	msg.Fill(make([]byte, 5))

	d.Work(setupInChannel(d, msg))

	var got *message.Message
	if !out.Queue().TryDequeue(&got) {
		t.Fatal("expected the uncoded message to pass straight through")
	}
}

// setupInChannel wires a throwaway single-message in-channel for a node
// under test and returns it, so RelayNode.Work can be exercised directly
// without spinning up the NodeManager's worker goroutines.
func setupInChannel(n interface {
	AddInChannel(ch *channel.Channel)
}, msg *message.Message) *channel.Channel {
	ch := channel.New("in")
	n.AddInChannel(ch)
	ch.WriteMessage(msg)
	return ch
}
