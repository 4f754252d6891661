package netmsg

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/plhitsz/services-framework/internal/message"
)

func buildUDPv4(t *testing.T, src, dst string, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	udp.SetNetworkLayerForChecksum(&ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &ip, &udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeUDP(t *testing.T) {
	raw := buildUDPv4(t, "10.0.0.1", "10.0.0.2", 1234, 53, []byte("hello"))

	m := message.New(len(raw))
	m.Fill(raw)
	n := New(m)

	if !n.IsIPv4() {
		t.Fatal("expected IsIPv4 true")
	}
	if err := n.Decode(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.SrcAddrString() != "10.0.0.1" || n.DstAddrString() != "10.0.0.2" {
		t.Fatalf("addr mismatch: %s -> %s", n.SrcAddrString(), n.DstAddrString())
	}
	if n.SrcPort != 1234 || n.DstPort != 53 {
		t.Fatalf("port mismatch: %d -> %d", n.SrcPort, n.DstPort)
	}
	want := "10.0.0.1:10.0.0.2:1234:53"
	if n.FlowKey() != want {
		t.Fatalf("flow key = %q, want %q", n.FlowKey(), want)
	}
}

func TestDecodeTooShortFailsSafely(t *testing.T) {
	m := message.New(10)
	m.Fill(make([]byte, 10))
	n := New(m)
	if n.IsIPv4() {
		t.Fatal("expected IsIPv4 false for short payload")
	}
	if err := n.Decode(); err == nil {
		t.Fatal("expected decode error for short payload")
	}
	if n.SrcIP != 0 || n.DstIP != 0 {
		t.Fatal("state must stay zeroed on decode failure")
	}
}

func TestDecodeNonIPv4FailsSafely(t *testing.T) {
	raw := make([]byte, 20)
	raw[0] = 0x60 // version 6
	m := message.New(len(raw))
	m.Fill(raw)
	n := New(m)
	if n.IsIPv4() {
		t.Fatal("expected IsIPv4 false for IPv6 version nibble")
	}
	if err := n.Decode(); err == nil {
		t.Fatal("expected decode error for non-IPv4 version")
	}
}
