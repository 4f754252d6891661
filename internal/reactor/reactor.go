// Package reactor implements the process-wide I/O readiness singleton: a
// single-threaded edge-triggered readiness notifier with per-fd timeouts,
// control-fd wakeup, and safe registration from foreign goroutines.
//
// One epoll fd, one control pipe, one background loop goroutine.
// golang.org/x/sys/unix supplies the raw epoll_create1/epoll_ctl/epoll_wait
// syscalls directly.
package reactor

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/plhitsz/services-framework/internal/flog"
)

// pollSize and pollTimeoutMs bound the per-wait event batch and the
// default epoll_wait timeout.
const (
	pollSize      = 32
	pollTimeoutMs = 100
)

// Response is what a callback receives: the readiness mask observed, or 0
// for a timeout/immediate fire.
type Response struct {
	Events uint32
}

// Request describes one fd registration.
type Request struct {
	FD        int
	Events    uint32
	TimeoutMs int // 0: fire immediately; <0: persistent; >0: deadline
	Callback  func(Response)
}

type pendingOp int

const (
	opRegister pendingOp = iota
	opUnregister
)

type pendingChange struct {
	op  pendingOp
	req Request
}

type entry struct {
	req      Request
	deadline time.Time // zero if TimeoutMs < 0 (persistent, no deadline)
}

// Poller is the process-wide reactor singleton.
type Poller struct {
	epfd   int
	pipeR  int
	pipeW  int
	thread sync.WaitGroup

	mu       sync.Mutex
	pending  []pendingChange
	entries  map[int]*entry
	shutdown bool
	started  bool
}

var instance *Poller

// Init constructs the process-wide Poller and starts its background
// thread. Singletons are constructed explicitly at program start rather
// than lazily on first use across goroutines; call this once from
// cmd/main.go before any node registers an fd.
func Init() error {
	p := &Poller{entries: make(map[int]*entry)}
	if err := p.init(); err != nil {
		return err
	}
	instance = p
	return nil
}

// Instance returns the process-wide Poller constructed by Init. Panics if
// called before Init, which is a programming error, not a runtime one.
func Instance() *Poller {
	if instance == nil {
		panic("reactor: Instance() called before Init()")
	}
	return instance
}

func (p *Poller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return err
	}
	p.epfd = epfd
	p.pipeR = fds[0]
	p.pipeW = fds[1]

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.pipeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(p.pipeR),
	}); err != nil {
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
		unix.Close(p.epfd)
		return err
	}

	p.started = true
	p.thread.Add(1)
	go p.loop()
	return nil
}

// Register adds req to the readiness set, honoring req.TimeoutMs.
// Registering the same fd twice replaces the prior request. Returns false
// after Shutdown, or on invalid req.
func (p *Poller) Register(req Request) bool {
	if req.FD < 0 || req.Callback == nil {
		return false
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return false
	}
	if req.TimeoutMs == 0 {
		// Fire immediately on the reactor thread; never touch the readiness set.
		p.pending = append(p.pending, pendingChange{op: opRegister, req: req})
		p.mu.Unlock()
		p.nudge()
		return true
	}
	p.pending = append(p.pending, pendingChange{op: opRegister, req: req})
	p.mu.Unlock()
	p.nudge()
	return true
}

// Unregister removes req.FD from the readiness set.
func (p *Poller) Unregister(req Request) bool {
	if req.FD < 0 || req.Callback == nil {
		return false
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return false
	}
	if _, known := p.entries[req.FD]; !known {
		p.mu.Unlock()
		return false
	}
	p.pending = append(p.pending, pendingChange{op: opUnregister, req: req})
	p.mu.Unlock()
	p.nudge()
	return true
}

func (p *Poller) nudge() {
	var b [1]byte
	unix.Write(p.pipeW, b[:])
}

// loop is the single reactor thread: drain control pipe, apply pending
// changes, wait for readiness, dispatch callbacks.
func (p *Poller) loop() {
	defer p.thread.Done()
	events := make([]unix.EpollEvent, pollSize)

	for {
		p.mu.Lock()
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		p.drainPipe()
		p.applyPending()

		timeout := p.computeTimeoutMs()
		n, err := unix.EpollWait(p.epfd, events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.mu.Lock()
			done := p.shutdown
			p.mu.Unlock()
			if done {
				return
			}
			flog.Errorf("reactor: epoll_wait error: %v", err)
			continue
		}

		now := time.Now()
		p.mu.Lock()
		ready := make([]struct {
			cb     func(Response)
			events uint32
		}, 0, n)
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.pipeR {
				continue
			}
			e, ok := p.entries[fd]
			if !ok {
				continue
			}
			ready = append(ready, struct {
				cb     func(Response)
				events uint32
			}{e.req.Callback, events[i].Events})
		}

		var expired []*entry
		for fd, e := range p.entries {
			if !e.deadline.IsZero() && !now.Before(e.deadline) {
				expired = append(expired, e)
				delete(p.entries, fd)
				unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			}
		}
		p.mu.Unlock()

		for _, r := range ready {
			r.cb(Response{Events: r.events})
		}
		for _, e := range expired {
			e.req.Callback(Response{Events: 0})
		}
	}
}

func (p *Poller) drainPipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.pipeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *Poller) applyPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, ch := range pending {
		switch ch.op {
		case opRegister:
			p.applyRegister(ch.req)
		case opUnregister:
			p.applyUnregister(ch.req)
		}
	}
}

func (p *Poller) applyRegister(req Request) {
	if req.TimeoutMs == 0 {
		req.Callback(Response{Events: 0})
		return
	}

	p.mu.Lock()
	if _, ok := p.entries[req.FD]; ok {
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, req.FD, nil)
		delete(p.entries, req.FD)
	}
	e := &entry{req: req}
	if req.TimeoutMs > 0 {
		e.deadline = time.Now().Add(time.Duration(req.TimeoutMs) * time.Millisecond)
	}
	p.entries[req.FD] = e
	p.mu.Unlock()

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, req.FD, &unix.EpollEvent{
		Events: req.Events,
		Fd:     int32(req.FD),
	})
	if err != nil {
		flog.Errorf("reactor: epoll_ctl add fd=%d failed: %v", req.FD, err)
	}
}

func (p *Poller) applyUnregister(req Request) {
	p.mu.Lock()
	_, ok := p.entries[req.FD]
	delete(p.entries, req.FD)
	p.mu.Unlock()
	if ok {
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, req.FD, nil)
	}
}

func (p *Poller) computeTimeoutMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	min := pollTimeoutMs
	now := time.Now()
	for _, e := range p.entries {
		if e.deadline.IsZero() {
			continue
		}
		remain := int(e.deadline.Sub(now) / time.Millisecond)
		if remain < 0 {
			remain = 0
		}
		if remain < min {
			min = remain
		}
	}
	return min
}

// Shutdown stops the reactor thread, closes all fds it owns, and clears
// registrations. Idempotent.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.mu.Unlock()

	p.nudge()
	p.thread.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := range p.entries {
		unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	p.entries = make(map[int]*entry)
	unix.Close(p.pipeR)
	unix.Close(p.pipeW)
	unix.Close(p.epfd)
}
