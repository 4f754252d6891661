package ioudp

import (
	"bytes"
	"testing"

	"github.com/plhitsz/services-framework/internal/message"
)

func TestHeaderEncodeDecodeRoundTrips(t *testing.T) {
	h := Header{FlowID: 0x0102030405060708, FileID: 42, BatchID: 7, PacNum: 3, PacType: PacketCoded}
	b := make([]byte, HeaderSize)
	h.Encode(b)

	got, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsShortInput(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected an error decoding a too-short header")
	}
}

func TestUdpNodeRoundTripsADatagram(t *testing.T) {
	recv, err := New(0, 0, nil)
	if err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	defer recv.Close()

	send, err := New(0, uint16(recv.port), nil)
	if err != nil {
		t.Fatalf("bind sender: %v", err)
	}
	defer send.Close()

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	out := message.New(len(payload))
	if err := out.Fill(payload); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	out.NextHop = "127.0.0.1"
	out.NeedsCoded = true
	out.ID = 7

	if err := send.FDWrite(out); err != nil {
		t.Fatalf("FDWrite: %v", err)
	}

	got, err := recv.FDRead()
	if err != nil {
		t.Fatalf("FDRead: %v", err)
	}
	defer got.Release()
	if got.Size() != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), got.Size())
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Bytes(), payload)
	}
	if !got.NeedsCoded {
		t.Fatal("expected NeedsCoded true from a PacketCoded header")
	}
	if got.ID != 7 {
		t.Fatalf("expected BatchID to round trip msg.ID, got %d", got.ID)
	}
}

func TestUdpNodeRoundTripsAnEncryptedDatagram(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)

	recv, err := New(0, 0, key)
	if err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	defer recv.Close()

	send, err := New(0, uint16(recv.port), key)
	if err != nil {
		t.Fatalf("bind sender: %v", err)
	}
	defer send.Close()

	payload := []byte("secret payload")
	out := message.New(len(payload))
	if err := out.Fill(payload); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	out.NextHop = "127.0.0.1"

	if err := send.FDWrite(out); err != nil {
		t.Fatalf("FDWrite: %v", err)
	}

	got, err := recv.FDRead()
	if err != nil {
		t.Fatalf("FDRead: %v", err)
	}
	defer got.Release()
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("payload mismatch after decrypt: got %v, want %v", got.Bytes(), payload)
	}
}
