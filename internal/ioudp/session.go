package ioudp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/node"
)

// maxFrameSize bounds a single session frame: wire header, payload up to
// the largest coded buffer, and the ChaCha20-Poly1305 nonce+tag overhead
// when a cipher is configured.
const maxFrameSize = HeaderSize + 65540 + 40

// SessionNode is a FullDuplex node carrying the same wire header and
// optional cipher as UdpNode, but over a stream-oriented net.Conn (a
// KCP+smux or QUIC session from internal/transport) instead of a raw UDP
// socket. A stream has no datagram boundaries of its own, so every frame
// gets an explicit 4-byte big-endian length prefix. Unlike UdpNode it has
// no pollable descriptor, so it's driven by node.DuplexNode.Pump rather
// than RegisterToPoller.
type SessionNode struct {
	*node.DuplexNode
	conn   net.Conn
	cipher *sealer
}

// NewSession wraps conn, an already-established session from
// internal/transport, as a SessionNode. cipherKey, when non-empty, enables
// the same ChaCha20-Poly1305 sealing UdpNode uses.
func NewSession(name string, conn net.Conn, cipherKey []byte) (*SessionNode, error) {
	s, err := newSealer(cipherKey)
	if err != nil {
		return nil, err
	}
	n := &SessionNode{conn: conn, cipher: s}
	n.DuplexNode = node.NewDuplex(name, n)
	return n, nil
}

// Close closes the underlying session, unblocking any goroutine parked in
// FDRead via Pump.
func (s *SessionNode) Close() error { return s.conn.Close() }

// FD implements node.FDHandler. SessionNode has no pollable descriptor;
// it is driven by DuplexNode.Pump, which never consults FD.
func (s *SessionNode) FD() int { return -1 }

// FDRead implements node.FDHandler: reads one length-prefixed frame,
// splits and decodes the wire header, and opens the payload against the
// configured cipher.
func (s *SessionNode) FDRead() (*message.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < HeaderSize || n > maxFrameSize {
		return nil, fmt.Errorf("ioudp: session frame size %d out of range", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return nil, err
	}

	hdr, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	payload := buf[HeaderSize:]
	if s.cipher != nil {
		payload, err = s.cipher.open(buf[:HeaderSize], payload)
		if err != nil {
			return nil, err
		}
	}

	msg := message.New(len(payload))
	if err := msg.Fill(payload); err != nil {
		msg.Release()
		return nil, fmt.Errorf("ioudp: session fill: %w", err)
	}
	msg.ID = hdr.BatchID
	msg.Seq = uint32(hdr.PacNum)
	msg.NeedsCoded = hdr.PacType == PacketCoded
	return msg, nil
}

// FDWrite implements node.FDHandler: encodes the wire header, seals the
// payload when a cipher is configured, and writes one length-prefixed
// frame.
func (s *SessionNode) FDWrite(msg *message.Message) error {
	var hdrBuf [HeaderSize]byte
	packetHeader(msg).Encode(hdrBuf[:])

	payload := msg.Bytes()
	if s.cipher != nil {
		var err error
		payload, err = s.cipher.seal(nil, hdrBuf[:], payload)
		if err != nil {
			return err
		}
	}

	frame := make([]byte, 4, 4+HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(HeaderSize+len(payload)))
	frame = append(frame, hdrBuf[:]...)
	frame = append(frame, payload...)

	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("ioudp: session write: %w", err)
	}
	return nil
}
