// Package ioudp implements UdpNode, the FullDuplex node that sends and
// receives framed UDP datagrams toward a next hop: SO_REUSEADDR|SO_REUSEPORT
// bind, a single recvfrom/sendto per syscall on one fd, with a 20-byte
// wire header prepended to every datagram.
package ioudp

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"

	"golang.org/x/sys/unix"

	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/node"
)

// HeaderSize is the encoded length of Header.
const HeaderSize = 20

const readBufferSize = 65540

// PacketType classifies a wire header's pac_type field.
type PacketType uint8

const (
	PacketData PacketType = iota
	PacketCoded
)

// Header is the 20-byte big-endian wire header prefixed to every UDP
// datagram: flow_id(8) file_id(4) batch_id(4) pac_num(2) pac_type(1)
// reserved(1).
type Header struct {
	FlowID  uint64
	FileID  uint32
	BatchID uint32
	PacNum  uint16
	PacType PacketType
}

// Encode writes h into b, which must be at least HeaderSize bytes.
func (h Header) Encode(b []byte) {
	binary.BigEndian.PutUint64(b[0:8], h.FlowID)
	binary.BigEndian.PutUint32(b[8:12], h.FileID)
	binary.BigEndian.PutUint32(b[12:16], h.BatchID)
	binary.BigEndian.PutUint16(b[16:18], h.PacNum)
	b[18] = byte(h.PacType)
	b[19] = 0
}

// DecodeHeader parses a wire header out of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("ioudp: header too short (%d bytes)", len(b))
	}
	return Header{
		FlowID:  binary.BigEndian.Uint64(b[0:8]),
		FileID:  binary.BigEndian.Uint32(b[8:12]),
		BatchID: binary.BigEndian.Uint32(b[12:16]),
		PacNum:  binary.BigEndian.Uint16(b[16:18]),
		PacType: PacketType(b[18]),
	}, nil
}

// UdpNode is a FullDuplex node bound to a local UDP port, sending to
// whatever next hop a Message carries (Message.NextHop, stamped by the
// Collector) on a fixed peer port.
type UdpNode struct {
	*node.DuplexNode
	fd       int
	port     uint16
	peerPort uint16
	cipher   *sealer
}

// New creates and binds the UDP socket. port is the local bind port;
// peerPort is the fixed remote port every next hop is addressed on.
// cipherKey, when non-empty, enables ChaCha20-Poly1305 sealing of every
// datagram's payload (see cipher.go); empty leaves the wire exactly
// spec section 6's plaintext format.
func New(port, peerPort uint16, cipherKey []byte) (*UdpNode, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("ioudp: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioudp: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioudp: setsockopt SO_REUSEPORT: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ioudp: bind port %d: %w", port, err)
	}
	if port == 0 {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("ioudp: getsockname: %w", err)
		}
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			port = uint16(sa4.Port)
		}
	}
	flog.Infof("ioudp: bound socket %d on port %d", fd, port)

	s, err := newSealer(cipherKey)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	u := &UdpNode{fd: fd, port: port, peerPort: peerPort, cipher: s}
	u.DuplexNode = node.NewDuplex("UDP", u)
	return u, nil
}

// Close releases the underlying socket.
func (u *UdpNode) Close() error { return unix.Close(u.fd) }

// FD implements node.FDHandler.
func (u *UdpNode) FD() int { return u.fd }

// FDRead implements node.FDHandler: one recvfrom, stripping and decoding
// the leading 20-byte wire header, then opening the payload against the
// configured cipher when one is set, and classifying the datagram's coding
// state so the Decoder downstream knows whether to invoke its coder.
func (u *UdpNode) FDRead() (*message.Message, error) {
	buf := make([]byte, readBufferSize)
	n, _, err := unix.Recvfrom(u.fd, buf, 0)
	if err != nil {
		return nil, err
	}
	if n < HeaderSize {
		return nil, fmt.Errorf("ioudp: datagram shorter than the wire header (%d bytes)", n)
	}
	hdr, err := DecodeHeader(buf[:n])
	if err != nil {
		return nil, err
	}

	payload := buf[HeaderSize:n]
	if u.cipher != nil {
		payload, err = u.cipher.open(buf[:HeaderSize], payload)
		if err != nil {
			return nil, err
		}
	}

	msg := message.New(len(payload))
	if err := msg.Fill(payload); err != nil {
		msg.Release()
		return nil, fmt.Errorf("ioudp: fill: %w", err)
	}
	msg.ID = hdr.BatchID
	msg.Seq = uint32(hdr.PacNum)
	msg.NeedsCoded = hdr.PacType == PacketCoded
	return msg, nil
}

// FDWrite implements node.FDHandler: encodes the wire header, seals the
// payload when a cipher is configured, and sends the combined datagram
// to msg.NextHop:peerPort in a single sendto.
func (u *UdpNode) FDWrite(msg *message.Message) error {
	ip := net.ParseIP(msg.NextHop)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("ioudp: invalid next-hop address %q", msg.NextHop)
	}

	var hdrBuf [HeaderSize]byte
	packetHeader(msg).Encode(hdrBuf[:])

	payload := msg.Bytes()
	if u.cipher != nil {
		var err error
		payload, err = u.cipher.seal(nil, hdrBuf[:], payload)
		if err != nil {
			return err
		}
	}

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, hdrBuf[:]...)
	out = append(out, payload...)

	addr := &unix.SockaddrInet4{Port: int(u.peerPort)}
	copy(addr.Addr[:], ip.To4())
	if err := unix.Sendto(u.fd, out, 0, addr); err != nil {
		return fmt.Errorf("ioudp: sendto %s: %w", msg.NextHop, err)
	}
	return nil
}

// packetHeader builds the wire header for an outgoing message: BatchID
// and PacNum carry the message's own id/sequence fields forward, and
// FlowID is an FNV-1a hash of the flow key so peers can correlate
// datagrams belonging to the same flow without the full string key on
// the wire. FileID is left at zero: nothing upstream of UdpNode assigns
// a file identity to a buffer yet.
func packetHeader(msg *message.Message) Header {
	pacType := PacketData
	if msg.NeedsCoded {
		pacType = PacketCoded
	}
	return Header{
		FlowID:  flowIDOf(msg.FlowKey),
		BatchID: msg.ID,
		PacNum:  uint16(msg.Seq),
		PacType: pacType,
	}
}

func flowIDOf(flowKey string) uint64 {
	if flowKey == "" {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(flowKey))
	return h.Sum64()
}
