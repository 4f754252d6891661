package iotun

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/node"
)

// testTunnel builds a Tunnel whose fd is the write end of a pipe, so
// FDWrite's frame walk can be exercised without a real TUN device.
func testTunnel(t *testing.T) (*Tunnel, int) {
	t.Helper()
	r, w, err := unix.Pipe2(0)
	if err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(r)
		unix.Close(w)
	})
	tun := &Tunnel{fd: w}
	tun.DuplexNode = node.NewDuplex("tun-test", tun)
	return tun, r
}

// ipv4Frame builds a minimal IPv4 header (no options) of ip_len total_len
// bytes, version 4, with the rest zero-filled payload.
func ipv4Frame(totalLen int) []byte {
	b := make([]byte, totalLen)
	b[0] = 0x45 // version 4, IHL 5
	b[2] = byte(totalLen >> 8)
	b[3] = byte(totalLen & 0xff)
	return b
}

func TestFDWriteStopsAtCorruptSecondFrame(t *testing.T) {
	tun, r := testTunnel(t)

	first := ipv4Frame(40)
	corrupt := make([]byte, 40)
	corrupt[0] = 0x90 // ip_v = 9: neither 4 nor 6

	buf := message.New(len(first) + len(corrupt))
	buf.Fill(first)
	buf.Fill(corrupt)

	if err := tun.FDWrite(buf); err != nil {
		t.Fatalf("FDWrite: %v", err)
	}
	unix.Close(tun.fd)

	got := make([]byte, 256)
	n, err := unix.Read(r, got)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if n != len(first) {
		t.Fatalf("expected only the first frame (%d bytes) to be written, got %d", len(first), n)
	}
}

func TestFDWriteWritesAllValidConcatenatedFrames(t *testing.T) {
	tun, r := testTunnel(t)

	a := ipv4Frame(40)
	b := ipv4Frame(40)
	buf := message.New(len(a) + len(b))
	buf.Fill(a)
	buf.Fill(b)

	if err := tun.FDWrite(buf); err != nil {
		t.Fatalf("FDWrite: %v", err)
	}
	unix.Close(tun.fd)

	got := make([]byte, 256)
	n, err := unix.Read(r, got)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if n != len(a)+len(b) {
		t.Fatalf("expected both frames (%d bytes) written, got %d", len(a)+len(b), n)
	}
}

func TestFDWriteStopsOnTrailingGarbage(t *testing.T) {
	tun, r := testTunnel(t)

	a := ipv4Frame(40)
	buf := message.New(len(a) + minRemainder)
	buf.Fill(a)
	buf.Fill(make([]byte, minRemainder)) // zero bytes: terminator

	if err := tun.FDWrite(buf); err != nil {
		t.Fatalf("FDWrite: %v", err)
	}
	unix.Close(tun.fd)

	got := make([]byte, 256)
	n, err := unix.Read(r, got)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if n != len(a) {
		t.Fatalf("expected only the first frame (%d bytes) written, got %d", len(a), n)
	}
}
