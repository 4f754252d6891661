// Package netmsg implements NetworkMessage: the decoded IPv4 5-tuple view
// of a Message read from the tunnel, used by the route table and flow
// recorder. Decoding is done with gopacket's DecodingLayerParser rather
// than hand-rolled header math.
package netmsg

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/plhitsz/services-framework/internal/message"
)

const minIPHeaderLen = 20

// Protocol mirrors the IP protocol numbers relevant to classification.
type Protocol = layers.IPProtocol

const (
	ProtoTCP  = layers.IPProtocolTCP
	ProtoUDP  = layers.IPProtocolUDP
	ProtoICMP = layers.IPProtocolICMP
)

// NetworkMessage is the parsed IPv4 5-tuple view of a tunnel frame.
type NetworkMessage struct {
	*message.Message

	SrcIP    uint32 // network byte order
	DstIP    uint32 // network byte order
	SrcPort  uint16 // host byte order, zero for ICMP
	DstPort  uint16 // host byte order, zero for ICMP
	Protocol Protocol

	srcIPStr string
	dstIPStr string
	flowKey  string

	parser  *gopacket.DecodingLayerParser
	ipv4    layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	decoded []gopacket.LayerType
}

// New wraps a Message in a NetworkMessage with a reusable decode parser.
func New(m *message.Message) *NetworkMessage {
	n := &NetworkMessage{Message: m, decoded: make([]gopacket.LayerType, 0, 3)}
	n.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeIPv4,
		&n.ipv4, &n.tcp, &n.udp,
	)
	n.parser.IgnoreUnsupported = true
	return n
}

// FlowKey returns "srcIP:dstIP:srcPort:dstPort" as specified.
func (n *NetworkMessage) FlowKey() string { return n.flowKey }
func (n *NetworkMessage) SrcAddrString() string { return n.srcIPStr }
func (n *NetworkMessage) DstAddrString() string { return n.dstIPStr }

// IsIPv4 reports whether the payload looks like an IPv4 datagram, without
// fully decoding it.
func (n *NetworkMessage) IsIPv4() bool {
	b := n.Bytes()
	if len(b) < minIPHeaderLen {
		return false
	}
	return b[0]>>4 == 4
}

// Decode parses the IPv4 header (and TCP/UDP if present) and populates the
// 5-tuple fields. It fails safely: on a too-short payload or a non-IPv4
// version the state is left zeroed and no error-free garbage is produced.
func (n *NetworkMessage) Decode() error {
	if len(n.Bytes()) < minIPHeaderLen {
		return fmt.Errorf("netmsg: payload too short to decode (%d bytes)", len(n.Bytes()))
	}
	if !n.IsIPv4() {
		return fmt.Errorf("netmsg: not an IPv4 datagram")
	}

	n.decoded = n.decoded[:0]
	if err := n.parser.DecodeLayers(n.Bytes(), &n.decoded); err != nil {
		// IgnoreUnsupported means ICMP and other non-TCP/UDP protocols
		// surface here; that is expected, not an error for our purposes.
	}

	n.SrcIP = ipToUint32(n.ipv4.SrcIP)
	n.DstIP = ipToUint32(n.ipv4.DstIP)
	n.srcIPStr = n.ipv4.SrcIP.String()
	n.dstIPStr = n.ipv4.DstIP.String()
	n.Protocol = n.ipv4.Protocol

	n.SrcPort, n.DstPort = 0, 0
	for _, typ := range n.decoded {
		switch typ {
		case layers.LayerTypeTCP:
			n.SrcPort = uint16(n.tcp.SrcPort)
			n.DstPort = uint16(n.tcp.DstPort)
		case layers.LayerTypeUDP:
			n.SrcPort = uint16(n.udp.SrcPort)
			n.DstPort = uint16(n.udp.DstPort)
		}
	}

	n.flowKey = fmt.Sprintf("%s:%s:%d:%d", n.srcIPStr, n.dstIPStr, n.SrcPort, n.DstPort)
	return nil
}

// Reset zeroes the decoded fields, for reuse of the NetworkMessage wrapper
// across a fresh underlying Message.
func (n *NetworkMessage) Reset() {
	n.SrcIP, n.DstIP = 0, 0
	n.SrcPort, n.DstPort = 0, 0
	n.Protocol = 0
	n.srcIPStr, n.dstIPStr, n.flowKey = "", "", ""
}

func ipToUint32(ip []byte) uint32 {
	ip4 := ip
	if len(ip4) == 16 {
		ip4 = ip4[12:]
	}
	if len(ip4) != 4 {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
