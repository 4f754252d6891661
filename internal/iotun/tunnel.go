// Package iotun implements Tunnel, the FullDuplex node that reads and
// writes IPv4 frames on a TUN device: device creation via ioctl, a
// single raw read/write per syscall on the device fd, and a write-side
// frame walk that lets one Message batch several concatenated IPv4
// frames delivered by the Collector/Decoder.
package iotun

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	wgtun "golang.zx2c4.com/wireguard/tun"

	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/netmsg"
	"github.com/plhitsz/services-framework/internal/node"
)

// DefaultMTU is the default tun device MTU.
const DefaultMTU = 1500

// minRemainder is the frame-walk's stop threshold: the walk bails out
// once this many bytes or fewer remain after a written frame.
const minRemainder = 20

const readBufferSize = 65540

// Tunnel is a FullDuplex node wrapping a TUN device. Device creation goes
// through wgtun.CreateTUN (ioctl/ifreq handling, cross-platform); I/O
// itself bypasses wgtun's own batched Read/Write in favor of raw syscalls
// on the device's fd, so the node can be driven by the shared reactor like
// every other duplex node.
type Tunnel struct {
	*node.DuplexNode
	dev  wgtun.Device
	fd   int
	name string
	addr netip.Prefix
}

// New creates (or attaches to) the named TUN device at the given address.
// mtu of 0 falls back to DefaultMTU.
func New(ifname string, addr netip.Prefix, mtu int) (*Tunnel, error) {
	if mtu == 0 {
		mtu = DefaultMTU
	}
	dev, err := wgtun.CreateTUN(ifname, mtu)
	if err != nil {
		return nil, fmt.Errorf("iotun: create tun %q: %w", ifname, err)
	}
	actualName, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("iotun: device name: %w", err)
	}
	t := &Tunnel{
		dev:  dev,
		fd:   int(dev.File().Fd()),
		name: actualName,
		addr: addr,
	}
	t.DuplexNode = node.NewDuplex(actualName, t)
	return t, nil
}

// DeviceName returns the actual device name (may differ from the requested one,
// e.g. on darwin where the kernel assigns utunN).
func (t *Tunnel) DeviceName() string { return t.name }

// Addr returns the tunnel's configured local address prefix.
func (t *Tunnel) Addr() netip.Prefix { return t.addr }

// Close releases the underlying device.
func (t *Tunnel) Close() error { return t.dev.Close() }

// FD implements node.FDHandler.
func (t *Tunnel) FD() int { return t.fd }

// FDRead implements node.FDHandler: one read, decoding the IPv4 5-tuple
// eagerly so the Collector never has to re-parse the payload. The message
// is always resized to the bytes actually read.
func (t *Tunnel) FDRead() (*message.Message, error) {
	msg := message.New(readBufferSize)
	n, err := unix.Read(t.fd, msg.RawBuffer())
	if err != nil {
		msg.Release()
		return nil, err
	}
	msg.Resize(n)

	nm := netmsg.New(msg)
	if nm.IsIPv4() {
		if derr := nm.Decode(); derr == nil {
			msg.Type = message.IPV4Data
			msg.DstIP = nm.DstIP
			msg.FlowKey = nm.FlowKey()
		}
	}
	return msg, nil
}

// FDWrite implements node.FDHandler. msg may carry several concatenated
// IPv4 frames (the Collector's batching output); this walks the buffer
// frame by frame, writing each one individually and stopping as soon as
// an invalid or truncated frame is seen.
func (t *Tunnel) FDWrite(msg *message.Message) error {
	data := msg.Bytes()
	offset := 0
	for {
		if offset >= len(data) || data[offset] == 0x00 {
			break
		}
		ipVersion := data[offset] >> 4
		if ipVersion != 4 && ipVersion != 6 {
			flog.Warnf("iotun: frame at offset %d not recognized (ip_v=%d), dropping remainder of %d-byte message", offset, ipVersion, len(data))
			break
		}
		if offset+4 > len(data) {
			break
		}
		frameSize := int(data[offset+2])<<8 | int(data[offset+3])
		if frameSize <= 0 || offset+frameSize > len(data) {
			flog.Infof("iotun: frame size %d exceeds remaining message bytes (%d)", frameSize, len(data)-offset)
			break
		}
		if _, err := unix.Write(t.fd, data[offset:offset+frameSize]); err != nil {
			flog.Warnf("iotun: write: %v", err)
		}
		offset += frameSize
		if len(data)-offset <= minRemainder {
			break
		}
	}
	return nil
}
