// Package transport selects the next-hop backend beneath UdpNode's wire
// header: plain UDP (the mandatory default), KCP+smux for loss recovery,
// or QUIC for 0-RTT reconnection. Dial/Listen are exposed directly as
// net.Conn/net.Listener since nothing in this relay multiplexes streams
// over the session.
package transport

import (
	"fmt"
	"net"

	"github.com/plhitsz/services-framework/internal/conf"
)

// Dial opens a session to addr using the backend named by cfg.Protocol.
// "udp" is the mandatory default UdpNode reads/writes directly with raw
// syscalls; it has no Dial/Listen here; dispatch just errors if asked.
func Dial(addr string, cfg *conf.Transport) (net.Conn, error) {
	switch cfg.Protocol {
	case "kcp":
		return DialKCP(addr, cfg.KCP)
	case "quic":
		return DialQUIC(addr, cfg.QUIC)
	default:
		return nil, fmt.Errorf("transport: %q has no Dial backend; UdpNode handles it directly", cfg.Protocol)
	}
}

// Listen opens a listener on laddr using the backend named by cfg.Protocol.
func Listen(laddr string, cfg *conf.Transport) (net.Listener, error) {
	switch cfg.Protocol {
	case "kcp":
		return ListenKCP(laddr, cfg.KCP)
	case "quic":
		return ListenQUIC(laddr, cfg.QUIC)
	default:
		return nil, fmt.Errorf("transport: %q has no Listen backend; UdpNode handles it directly", cfg.Protocol)
	}
}
