package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/plhitsz/services-framework/internal/channel"
	"github.com/plhitsz/services-framework/internal/flog"
)

// Manager is the graph builder: it wires channels between nodes and owns
// the worker goroutines that run them.
type Manager struct {
	mu       sync.Mutex
	nodes    map[string]Node
	channels []*channel.Channel
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{nodes: make(map[string]Node)}
}

var instance *Manager

// Init constructs the process-wide Manager. Call once from cmd/main.go
// before building the graph, per the design notes' "construct explicitly
// at program start" guidance for global singletons.
func Init() {
	instance = NewManager()
}

// Instance returns the process-wide Manager built by Init. Panics if
// called before Init.
func Instance() *Manager {
	if instance == nil {
		panic("node: Instance() called before Init()")
	}
	return instance
}

// Connect wires a channel from up's output side to down's input side. A
// SINK cannot be an upstream node; a SOURCE cannot be a downstream node.
// When reuseChn is true, an existing channel is reused in preference to
// allocating a new one: first up's existing output channel, then down's
// existing input channel; only when neither exists is a fresh channel
// allocated and registered with the manager.
func (m *Manager) Connect(up, down Node, reuseChn bool) (*channel.Channel, error) {
	if up.Type() == Sink {
		return nil, errors.New("node: a sink cannot be an upstream node")
	}
	if down.Type() == Source {
		return nil, errors.New("node: a source cannot be a downstream node")
	}

	var ch *channel.Channel
	if reuseChn {
		if outs := up.OutChannels(); len(outs) != 0 {
			ch = outs[0]
			down.AddInChannel(ch)
		} else if ins := down.InChannels(); len(ins) != 0 {
			ch = ins[0]
			up.AddOutChannel(ch)
		}
	}

	if ch == nil {
		ch = channel.New(up.Name() + ":" + down.Name())
		up.AddOutChannel(ch)
		down.AddInChannel(ch)
		m.mu.Lock()
		m.channels = append(m.channels, ch)
		m.mu.Unlock()
	}

	flog.Infof("%s[out] ---(%s %s:%s)-->[in]%s", up.Name(), ch.ID(), up.Name(), down.Name(), down.Name())
	return ch, nil
}

// RunAsThreads registers n as a running node and spawns num worker
// goroutines executing its Work loop. Fails if n is already registered,
// has no channels at all, or is a FullDuplex node with num > 1 (a duplex
// may only bind one worker, since it owns a single fd).
func (m *Manager) RunAsThreads(n Worker, num int) error {
	if n.Type() == FullDuplex && num > 1 {
		return errors.New("node: duplex node can only bind one thread")
	}

	m.mu.Lock()
	if _, exists := m.nodes[n.Name()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("node: duplicate node %q", n.Name())
	}
	total := len(n.InChannels()) + len(n.OutChannels())
	if total == 0 {
		m.mu.Unlock()
		return fmt.Errorf("node: %q has no available channels", n.Name())
	}
	m.nodes[n.Name()] = n
	m.mu.Unlock()

	for i := 0; i < num; i++ {
		m.wg.Add(1)
		go m.runWorker(n)
	}
	return nil
}

func (m *Manager) runWorker(n Worker) {
	defer m.wg.Done()
	ch := n.ClaimInChannel()
	if ch == nil {
		return
	}
	for !n.IsStop() {
		if !n.Work(ch) {
			return
		}
	}
}

// Shutdown stops every registered node and joins all worker goroutines.
// Idempotent.
func (m *Manager) Shutdown() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	nodes := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.mu.Unlock()

	for _, n := range nodes {
		n.Stop()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.nodes = make(map[string]Node)
	m.channels = nil
	m.mu.Unlock()
	flog.Infof("node: released all resources")
}

// View logs a summary of the current graph: node count and channel count.
func (m *Manager) View() {
	m.mu.Lock()
	defer m.mu.Unlock()
	flog.Infof("==== node view (%d) ====", len(m.nodes))
	for name, n := range m.nodes {
		flog.Infof("  %s [%s] in=%d out=%d", name, n.Type(), len(n.InChannels()), len(n.OutChannels()))
	}
	flog.Infof("==== channel view (%d) ====", len(m.channels))
	for _, ch := range m.channels {
		flog.Infof("  %s %s", ch.ID(), ch.Name())
	}
}
