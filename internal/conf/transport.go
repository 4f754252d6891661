package conf

import (
	"fmt"
	"net"
	"slices"
)

// Transport is the additive [transport] section: the pluggable next-hop
// backend behind UdpNode, beyond the bare framed-UDP default the system
// description requires.
type Transport struct {
	Protocol string `ini:"protocol"`
	Conn     int    `ini:"conn"`

	// LocalPort, PeerAddr, and PeerPort address the UDP socket itself.
	// The system description treats socket setup as an external
	// collaborator out of the specified core's scope; these three keys
	// are this module's own minimal addition to make the binary
	// runnable end to end.
	LocalPort int    `ini:"local_port"`
	PeerAddr  string `ini:"peer_addr"`
	PeerPort  int    `ini:"peer_port"`

	// CipherKey, when set, enables ChaCha20-Poly1305 sealing of every
	// UdpNode datagram's payload (internal/ioudp/cipher.go). Left empty,
	// the wire format is exactly spec section 6's plaintext layout.
	CipherKey string `ini:"cipher_key"`

	KCP  *KCP  `ini:"-"`
	QUIC *QUIC `ini:"-"`
}

func (t *Transport) setDefaults() {
	if t.Protocol == "" {
		t.Protocol = "udp"
	}
	if t.Conn == 0 {
		t.Conn = 1
	}
	if t.LocalPort == 0 {
		t.LocalPort = 9000
	}
	if t.PeerPort == 0 {
		t.PeerPort = 9000
	}
	if t.KCP != nil {
		t.KCP.setDefaults()
	}
	if t.QUIC != nil {
		t.QUIC.setDefaults()
	}
}

func (t *Transport) validate() []error {
	var errors []error

	validProtocols := []string{"udp", "kcp", "quic"}
	if !slices.Contains(validProtocols, t.Protocol) {
		errors = append(errors, fmt.Errorf("transport.protocol must be one of: %v", validProtocols))
	}
	if t.Conn < 1 || t.Conn > 256 {
		errors = append(errors, fmt.Errorf("transport.conn must be between 1 and 256"))
	}
	if t.LocalPort < 0 || t.LocalPort > 65535 {
		errors = append(errors, fmt.Errorf("transport.local_port must be between 0 and 65535"))
	}
	if t.PeerPort < 1 || t.PeerPort > 65535 {
		errors = append(errors, fmt.Errorf("transport.peer_port must be between 1 and 65535"))
	}
	if t.PeerAddr != "" && net.ParseIP(t.PeerAddr) == nil {
		errors = append(errors, fmt.Errorf("transport.peer_addr: invalid IP %q", t.PeerAddr))
	}

	switch t.Protocol {
	case "kcp":
		if t.KCP == nil {
			errors = append(errors, fmt.Errorf("transport: [kcp] section required when protocol is kcp"))
		} else {
			errors = append(errors, t.KCP.validate()...)
		}
	case "quic":
		if t.QUIC == nil {
			errors = append(errors, fmt.Errorf("transport: [quic] section required when protocol is quic"))
		} else {
			errors = append(errors, t.QUIC.validate()...)
		}
	}
	return errors
}
