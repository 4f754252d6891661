// Package timer implements TimerManager: a tick-driven timer wheel with a
// dispatch worker pool.
package timer

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plhitsz/services-framework/internal/queue"
)

// DefaultResolutionMs is the default tick resolution.
const DefaultResolutionMs = 5

// DefaultWorkers is the default dispatch worker pool size.
const DefaultWorkers = 1

const timeoutQueueCapacity = 10

// Timer is a single scheduled callback. Construct with New or NewOneshot;
// the zero value is not usable.
type Timer struct {
	mu        sync.Mutex
	expires   uint64
	start     uint64
	oneshot   bool
	cancelled bool
	refcnt    int
	handler   func(*Timer)
}

// New creates a periodic timer firing every expiresMs, and NewOneshot a
// timer that fires once and self-cancels.
func New(expiresMs uint64, handler func(*Timer)) *Timer {
	return &Timer{expires: expiresMs, refcnt: 1, handler: handler}
}

func NewOneshot(expiresMs uint64, handler func(*Timer)) *Timer {
	t := New(expiresMs, handler)
	t.oneshot = true
	return t
}

// Cancelled reports whether the timer has been cancelled (by itself, if
// oneshot, or by an explicit CancelTimer call).
func (t *Timer) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// TimerManager ticks its timer list at a fixed resolution and dispatches
// expired handlers on a small worker pool, decoupling tick-walk latency
// from handler runtime.
type TimerManager struct {
	resolutionMs uint64
	workers      int

	mu      sync.Mutex
	timers  *list.List // of *Timer
	tick    uint64
	started bool
	stopped bool

	timeoutQ *queue.BoundedQueue[*Timer]
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager constructs a TimerManager. resolutionMs of 0 falls back to
// DefaultResolutionMs, workers of 0 to DefaultWorkers.
func NewManager(resolutionMs uint64, workers int) *TimerManager {
	if resolutionMs == 0 {
		resolutionMs = DefaultResolutionMs
	}
	if workers == 0 {
		workers = DefaultWorkers
	}
	return &TimerManager{
		resolutionMs: resolutionMs,
		workers:      workers,
		timers:       list.New(),
		timeoutQ:     queue.New[*Timer]("timerq", "timerq", timeoutQueueCapacity),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the tick goroutine and the dispatch worker pool. Safe to
// call once; a second call is a no-op.
func (tm *TimerManager) Start() {
	tm.mu.Lock()
	if tm.started {
		tm.mu.Unlock()
		return
	}
	tm.started = true
	tm.mu.Unlock()

	for i := 0; i < tm.workers; i++ {
		tm.wg.Add(1)
		go tm.dispatchWorker()
	}
	tm.wg.Add(1)
	go tm.tickLoop()
}

func (tm *TimerManager) tickLoop() {
	defer tm.wg.Done()
	interval := time.Duration(tm.resolutionMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.stopCh:
			return
		case <-ticker.C:
			tm.mu.Lock()
			tm.tick += tm.resolutionMs
			tm.mu.Unlock()
			tm.timersTick()
		}
	}
}

func (tm *TimerManager) dispatchWorker() {
	defer tm.wg.Done()
	for {
		var t *Timer
		if !tm.timeoutQ.DequeueWait(&t) {
			return
		}
		if t != nil {
			t.handler(t)
		}
	}
}

// timersTick walks the active timer list once: fires any timer whose
// start+expires has reached the current tick, then splices out timers
// that are cancelled with refcnt <= 0.
func (tm *TimerManager) timersTick() {
	tm.mu.Lock()
	now := tm.tick
	var toFire []*Timer
	var next *list.Element
	for e := tm.timers.Front(); e != nil; e = next {
		next = e.Next()
		t := e.Value.(*Timer)

		t.mu.Lock()
		if !t.cancelled && t.start+t.expires == now {
			if t.oneshot {
				t.cancelled = true
				t.refcnt--
			}
			t.start = now
			toFire = append(toFire, t)
		}
		cancelledDone := t.cancelled && t.refcnt <= 0
		t.mu.Unlock()

		if cancelledDone {
			tm.timers.Remove(e)
		}
	}
	tm.mu.Unlock()

	for _, t := range toFire {
		// Blocking enqueue: a slow worker pool applies backpressure to
		// the tick loop.
		tm.timeoutQ.EnqueueWait(t)
	}
}

// AddTimer registers t, periodic or oneshot as it was constructed. expires
// must be a positive multiple of the manager's resolution.
func (tm *TimerManager) AddTimer(t *Timer) error {
	if t.expires == 0 || t.expires%tm.resolutionMs != 0 {
		return fmt.Errorf("timer: expires %dms is not a positive multiple of resolution %dms", t.expires, tm.resolutionMs)
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return errors.New("timer: manager stopped")
	}
	t.start = tm.tick
	tm.timers.PushBack(t)
	return nil
}

// AddOneshotTimer marks t as firing exactly once before adding it.
func (tm *TimerManager) AddOneshotTimer(t *Timer) error {
	t.oneshot = true
	return tm.AddTimer(t)
}

// CancelTimer marks t cancelled and drops the manager's reference. The
// timer is spliced out of the list on the manager's next tick once
// refcnt reaches zero.
func (tm *TimerManager) CancelTimer(t *Timer) {
	t.mu.Lock()
	t.refcnt--
	t.cancelled = true
	t.mu.Unlock()
}

// ResolutionMs returns the manager's tick resolution.
func (tm *TimerManager) ResolutionMs() uint64 { return tm.resolutionMs }

// Tick returns the manager's current tick counter.
func (tm *TimerManager) Tick() uint64 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.tick
}

// Size returns the number of timers still in the active list, including
// ones pending removal.
func (tm *TimerManager) Size() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.timers.Len()
}

// Stop halts the tick loop and drains the worker pool. Idempotent.
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	tm.mu.Unlock()

	close(tm.stopCh)
	tm.timeoutQ.BreakAllWait()
	tm.wg.Wait()
}
