package connection

import (
	"sync"
	"time"
)

// heartbeat sends periodic liveness probes and declares the connection
// dead when no acknowledgment arrives within the deadline. It runs only
// while the connection is open; the Supervisor creates a fresh monitor on
// every successful open and stops it on any teardown.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	sched    Scheduler
	now      func() time.Time

	sendProbe func() // sends the ping token over the current binding
	onDead    func() // invoked at most once per monitor

	mu          sync.Mutex
	running     bool
	stopped     bool // permanent; a stopped monitor never restarts
	deadFired   bool
	lastProbeAt time.Time
	lastAckAt   time.Time
	cancel      CancelFunc
}

func newHeartbeat(interval, timeout time.Duration, sched Scheduler, sendProbe, onDead func()) *heartbeat {
	return &heartbeat{
		interval:  interval,
		timeout:   timeout,
		sched:     sched,
		now:       time.Now,
		sendProbe: sendProbe,
		onDead:    onDead,
	}
}

// start begins probing. The deadline clock starts at the moment of the
// call, so a connection that never acks is declared dead one timeout
// after opening. start after stop is a no-op: the supervisor creates a
// fresh monitor per connection, and a torn-down one must never leave a
// timer behind.
func (h *heartbeat) start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.deadFired = false
	h.lastAckAt = h.now()
	// Registering under the lock leaves no window for a concurrent stop
	// to miss the timer.
	h.cancel = h.sched.Every(h.interval, h.tick)
	h.mu.Unlock()
}

// stop cancels the probe timer, permanently. A tick already in flight
// observes running == false and does nothing.
func (h *heartbeat) stop() {
	h.mu.Lock()
	h.running = false
	h.stopped = true
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// ack records a liveness acknowledgment.
func (h *heartbeat) ack() {
	h.mu.Lock()
	h.lastAckAt = h.now()
	h.mu.Unlock()
}

// snapshot returns the probe timestamps for stats.
func (h *heartbeat) snapshot() (lastProbeAt, lastAckAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastProbeAt, h.lastAckAt
}

// tick checks the ack deadline, then sends the next probe. The deadline
// check comes first so a dead connection is reported instead of probed.
func (h *heartbeat) tick() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}

	if h.now().Sub(h.lastAckAt) > h.timeout {
		if h.deadFired {
			h.mu.Unlock()
			return
		}
		h.deadFired = true
		h.running = false
		onDead := h.onDead
		h.mu.Unlock()

		onDead()
		return
	}

	h.lastProbeAt = h.now()
	send := h.sendProbe
	h.mu.Unlock()

	send()
}
