// Package collector implements the Collector, the RELAY node that
// accumulates, classifies, and forwards payloads toward their next hop:
// per-next-hop accumulation buffer, size-threshold and timer-driven
// flush, raw-packet passthrough, route lookup, and flow classification.
package collector

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/flowstate"
	"github.com/plhitsz/services-framework/internal/message"
	"github.com/plhitsz/services-framework/internal/node"
	"github.com/plhitsz/services-framework/internal/route"
	"github.com/plhitsz/services-framework/internal/timer"
)

// Defaults for the coding.max_block_size/coding.encode_threshold knobs.
const (
	DefaultMaxBlockSize     = 65540
	DefaultCodingThreshold  = 30000
	DefaultFlushPeriodTicks = 15

	// ProtocolOverhead is the 20-byte wire header reserved in every raw
	// and coded buffer's header room.
	ProtocolOverhead = 20

	udpChannelMarker = ":UDP"
)

// Config configures a Collector.
type Config struct {
	MaxBlockSize     int
	CodingThreshold  int
	FlushPeriodTicks uint64
	SimulateMode     bool
}

// DefaultConfig returns Collector's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBlockSize:     DefaultMaxBlockSize,
		CodingThreshold:  DefaultCodingThreshold,
		FlushPeriodTicks: DefaultFlushPeriodTicks,
	}
}

// Collector is a RELAY node implementing the per-next-hop batching policy.
type Collector struct {
	*node.RelayNode

	cfg    Config
	routes *route.Table
	flows  *flowstate.Recorder
	timers *timer.TimerManager

	mu          sync.Mutex
	buffers     map[string]*message.Message
	flushTimers map[string]*timer.Timer

	nextID atomic.Uint32

	dispatchOnce   sync.Once
	encodeChannels []*channel.Channel
	udpChannel     *channel.Channel
}

// New constructs a Collector. timers must already be Start()ed; routes and
// flows may be freshly constructed or shared with other components.
func New(name string, cfg Config, routes *route.Table, flows *flowstate.Recorder, timers *timer.TimerManager) *Collector {
	c := &Collector{
		cfg:         cfg,
		routes:      routes,
		flows:       flows,
		timers:      timers,
		buffers:     make(map[string]*message.Message),
		flushTimers: make(map[string]*timer.Timer),
	}
	c.RelayNode = node.NewRelay(name, c)
	c.RelayNode.SetDispatcher(c)
	return c
}

// HandleMsg implements node.MsgHandler. It always returns nil: every
// finalized buffer is dispatched directly, outside the lock, as soon as
// the batching decision produces one, rather than through RelayNode's
// single-return-value convention.
func (c *Collector) HandleMsg(msg *message.Message) *message.Message {
	nexthop := "127.0.0.1"
	if !c.cfg.SimulateMode {
		nexthop = c.routes.LongestPrefixMatch(msg.DstIP)
	}
	if nexthop == "" {
		flog.Warnf("collector: drop message without a default route")
		msg.Release()
		return nil
	}

	if msg.FlowKey != "" {
		cls := c.flows.Update(msg.FlowKey, msg.Size(), c.timers.Tick())
		msg.NeedsCoded = cls == flowstate.BULK
	}

	if msg.NeedsCoded {
		c.bufferingData(msg, nexthop)
	} else {
		c.forceRelayData(msg, nexthop)
	}
	return nil
}

// getOrCreateBuffer returns nexthop's current accumulation buffer,
// allocating one at MaxBlockSize capacity, with ProtocolOverhead bytes of
// header room reserved, on first use and registering its
// periodic flush timer exactly once per next-hop. Must be called with
// c.mu held.
func (c *Collector) getOrCreateBuffer(nexthop string) *message.Message {
	if buf, ok := c.buffers[nexthop]; ok {
		return buf
	}
	buf := message.New(c.cfg.MaxBlockSize)
	if err := buf.ReserveHeader(ProtocolOverhead); err != nil {
		flog.Errorf("collector: reserve header for %s: %v", nexthop, err)
	}
	buf.ID = c.nextID.Add(1)
	buf.NeedsCoded = true
	buf.NextHop = nexthop
	c.buffers[nexthop] = buf

	if _, registered := c.flushTimers[nexthop]; !registered {
		c.registerFlushTimer(nexthop)
	}
	return buf
}

func (c *Collector) registerFlushTimer(nexthop string) {
	expiresMs := c.cfg.FlushPeriodTicks * c.timers.ResolutionMs()
	t := timer.New(expiresMs, func(*timer.Timer) {
		c.handleTimeoutBuffer(nexthop)
	})
	if err := c.timers.AddTimer(t); err != nil {
		flog.Errorf("collector: register flush timer for %s: %v", nexthop, err)
		return
	}
	c.flushTimers[nexthop] = t
}

// handleTimeoutBuffer is the TimerManager callback fired every flush
// period for nexthop. If the current buffer has any filled bytes, it is
// finalized and dispatched; otherwise this is a no-op.
func (c *Collector) handleTimeoutBuffer(nexthop string) {
	c.mu.Lock()
	buf, ok := c.buffers[nexthop]
	if !ok || buf.FilledBytes() <= 0 {
		c.mu.Unlock()
		return
	}
	buf.Resize(buf.FilledBytes())
	delete(c.buffers, nexthop)
	c.mu.Unlock()

	c.Dispatch(buf)
}

// bufferingData appends msg to nexthop's accumulation buffer, flushing it
// first if the message wouldn't fit or it has crossed the coding
// threshold.
func (c *Collector) bufferingData(msg *message.Message, nexthop string) {
	var toDispatch []*message.Message

	c.mu.Lock()
	buf := c.getOrCreateBuffer(nexthop)
	if buf.Tail()+msg.Size() > buf.Capacity() {
		buf.Resize(buf.FilledBytes())
		toDispatch = append(toDispatch, buf)
		delete(c.buffers, nexthop)
		buf = c.getOrCreateBuffer(nexthop)
	}
	if err := buf.Fill(msg.Bytes()); err != nil {
		flog.Errorf("collector: buffering fill: %v", err)
	}
	if buf.FilledBytes() > c.cfg.CodingThreshold {
		buf.Resize(buf.FilledBytes())
		toDispatch = append(toDispatch, buf)
		delete(c.buffers, nexthop)
	}
	c.mu.Unlock()

	msg.Release()
	for _, b := range toDispatch {
		c.Dispatch(b)
	}
}

// forceRelayData handles a raw (non-bulk) packet: it flushes whatever is
// currently buffered for this next-hop, then sends the packet out
// immediately in its own (reused) buffer with header room reserved for
// the wire header.
func (c *Collector) forceRelayData(msg *message.Message, nexthop string) {
	var toDispatch []*message.Message

	c.mu.Lock()
	buf := c.getOrCreateBuffer(nexthop)
	if buf.FilledBytes() > 0 {
		buf.Resize(buf.FilledBytes())
		toDispatch = append(toDispatch, buf)
		delete(c.buffers, nexthop)
		buf = c.getOrCreateBuffer(nexthop)
	}

	if err := buf.ReserveHeader(ProtocolOverhead); err != nil {
		flog.Errorf("collector: reserve header for raw packet: %v", err)
	}
	if err := buf.Fill(msg.Bytes()); err != nil {
		flog.Errorf("collector: fill raw packet: %v", err)
	}
	buf.Resize(buf.FilledBytes())
	buf.NeedsCoded = false
	toDispatch = append(toDispatch, buf)
	delete(c.buffers, nexthop)
	c.mu.Unlock()

	msg.Release()
	for _, b := range toDispatch {
		c.Dispatch(b)
	}
}

// Dispatch implements node.Dispatcher, overriding RelayNode's default
// round-robin policy: on first call, down-channels are partitioned into
// encode channels (name does not contain ":UDP") and a single UDP channel
// (name contains ":UDP"). Coded messages round-robin across encode
// channels by msg.ID mod N; raw messages go directly to the UDP channel.
func (c *Collector) Dispatch(msg *message.Message) {
	out := c.OutChannels()
	if len(out) == 0 {
		msg.Release()
		return
	}

	c.dispatchOnce.Do(func() {
		for _, ch := range out {
			if strings.Contains(ch.Name(), udpChannelMarker) {
				c.udpChannel = ch
			} else {
				c.encodeChannels = append(c.encodeChannels, ch)
			}
		}
	})

	if msg.NeedsCoded {
		if len(c.encodeChannels) == 0 {
			msg.Release()
			return
		}
		idx := int(msg.ID) % len(c.encodeChannels)
		c.encodeChannels[idx].WriteMessage(msg)
		return
	}

	if c.udpChannel == nil {
		msg.Release()
		return
	}
	c.udpChannel.WriteMessage(msg)
}
