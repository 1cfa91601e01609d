package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Supervisor is the state machine gluing the transport binding, heartbeat
// monitor, and reconnect policy together. It is the sole owner of the
// connection state and the reconnect attempt counter.
//
// Every transition runs under one mutex; listener callbacks and socket
// writes are queued while the lock is held and executed in order by a
// single drainer afterwards, so no listener ever runs inside the lock and
// delivery to any one listener is FIFO.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	policy *Policy
	sched  Scheduler
	dial   dialFunc
	reg    *registry

	mu            sync.Mutex
	state         State
	gen           uint64 // current binding generation; stale events are dropped
	binding       transport
	attempts      int
	autoReconnect bool
	hb            *heartbeat

	reconnectCancel CancelFunc
	retryCancel     CancelFunc
	retryPending    bool

	pending  []func()
	draining bool
}

// NewSupervisor creates a Supervisor in the Closed state. Nothing happens
// until Connect is called.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		policy: NewPolicy(cfg.Backoff),
		sched:  cfg.Scheduler,
		dial:   newWSBindingDialer(cfg.HandshakeTimeout, cfg.WriteTimeout),
		reg:    newRegistry(logger),
		state:  StateClosed,
	}
}

// Connect starts a connection attempt. It is idempotent while a
// connection is in progress or open. After exhaustion (Error state) it
// resets the attempt counter and starts over.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateOpen:
		s.mu.Unlock()
		return
	}

	// Manual connect resets the attempt counter and re-enables
	// automatic reconnection.
	s.attempts = 0
	s.autoReconnect = true
	s.cancelReconnectTimerLocked()
	s.cancelRetryLocked()
	s.startAttemptLocked()
	s.mu.Unlock()

	s.drain()
}

// Close discards the active binding, stops the heartbeat monitor, cancels
// all pending timers, and transitions to Closed. Automatic reconnection
// is disabled until the next Connect. Idempotent; a second call emits
// nothing.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.autoReconnect = false
	s.cancelReconnectTimerLocked()
	s.cancelRetryLocked()
	s.stopHeartbeatLocked()
	s.discardBindingLocked(websocket.CloseNormalClosure)
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.drain()
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of supervisor counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		State:             s.state,
		ReconnectAttempts: s.attempts,
	}
	if s.hb != nil {
		st.LastProbeSentAt, st.LastProbeAckAt = s.hb.snapshot()
	}
	return st
}

// SubscribeUpdates registers a listener for decoded status envelopes.
func (s *Supervisor) SubscribeUpdates(fn UpdateListener) *Subscription {
	return s.reg.subscribeUpdates(fn)
}

// SubscribeErrors registers a listener for error events.
func (s *Supervisor) SubscribeErrors(fn ErrorListener) *Subscription {
	return s.reg.subscribeErrors(fn)
}

// SubscribeStateChanges registers a listener for state transitions.
func (s *Supervisor) SubscribeStateChanges(fn StateListener) *Subscription {
	return s.reg.subscribeStates(fn)
}

// startAttemptLocked creates a fresh binding under a new generation and
// begins dialing.
func (s *Supervisor) startAttemptLocked() {
	s.gen++
	gen := s.gen

	ev := transportEvents{
		onOpen:  func() { s.onBindingOpen(gen) },
		onClose: func(code int, reason string) { s.onBindingClose(gen, code, reason) },
		onError: func(err error) { s.onBindingError(gen, err) },
		onFrame: func(data []byte) { s.onBindingFrame(gen, data) },
	}

	b := s.dial(s.cfg.URL, ev)
	s.binding = b
	s.setStateLocked(StateConnecting)
	s.deferLocked(func() { b.open() })
}

// onBindingOpen handles a successful dial.
func (s *Supervisor) onBindingOpen(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}

	s.attempts = 0
	s.hb = newHeartbeat(
		s.cfg.PingInterval,
		s.cfg.PongTimeout,
		s.sched,
		func() { s.sendProbe(gen) },
		func() { s.onHeartbeatDead(gen) },
	)
	hb := s.hb
	b := s.binding

	s.logger.Info("connected", "url", s.cfg.URL)
	s.setStateLocked(StateOpen)
	s.deferLocked(func() {
		// A state listener ahead of this action in the queue may have
		// closed the supervisor; revalidate before touching the binding.
		s.mu.Lock()
		stale := gen != s.gen || s.state != StateOpen
		s.mu.Unlock()
		if stale {
			return
		}
		hb.start()
		if err := b.send(encodeInitialStatusRequest()); err != nil {
			s.logger.Warn("initial status request failed", "error", err)
		}
	})
	s.mu.Unlock()

	s.drain()
}

// onBindingClose handles the transport closing, before or after open.
func (s *Supervisor) onBindingClose(gen uint64, code int, reason string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if code == websocket.CloseNormalClosure {
		// Clean shutdown initiated by the server; do not reconnect.
		s.logger.Info("connection closed normally")
		s.stopHeartbeatLocked()
		s.discardBindingLocked(websocket.CloseNormalClosure)
		s.cancelRetryLocked()
		s.setStateLocked(StateClosed)
	} else {
		s.emitErrorLocked(CodeTransportFailure, fmt.Sprintf("connection closed (code %d): %s", code, reason))
		s.beginReconnectLocked()
	}
	s.mu.Unlock()

	s.drain()
}

// onBindingError handles dial failures and read errors.
func (s *Supervisor) onBindingError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	s.logger.Warn("transport error", "error", err)
	s.emitErrorLocked(CodeTransportFailure, err.Error())
	s.beginReconnectLocked()
	s.mu.Unlock()

	s.drain()
}

// onBindingFrame handles one received frame.
func (s *Supervisor) onBindingFrame(gen uint64, data []byte) {
	env, isPong, err := decodeFrame(data)

	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}

	switch {
	case isPong:
		s.hb.ack()

	case err != nil:
		s.logger.Warn("malformed frame", "error", err)
		s.emitErrorLocked(CodeMalformedMessage, err.Error())
		// Recoverable in place: one bounded re-request of the full
		// state instead of tearing the connection down.
		if !s.retryPending {
			s.retryPending = true
			s.retryCancel = s.sched.After(s.cfg.RetryRequestDelay, func() { s.onRetryTimer(gen) })
		}

	default:
		s.deferLocked(func() { s.reg.emitUpdate(env) })
	}
	s.mu.Unlock()

	s.drain()
}

// onRetryTimer re-requests the initial status after a malformed frame.
func (s *Supervisor) onRetryTimer(gen uint64) {
	s.mu.Lock()
	s.retryPending = false
	s.retryCancel = nil

	if gen == s.gen && s.state == StateOpen {
		b := s.binding
		s.deferLocked(func() {
			if err := b.send(encodeInitialStatusRequest()); err != nil {
				s.logger.Warn("initial status re-request failed", "error", err)
			}
		})
	}
	s.mu.Unlock()

	s.drain()
}

// sendProbe sends one liveness probe over the current binding.
func (s *Supervisor) sendProbe(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	b := s.binding
	s.mu.Unlock()

	if err := b.send([]byte(pingFrame)); err != nil {
		// Read loop surfaces the transport failure; nothing to do here.
		s.logger.Debug("failed to send ping", "error", err)
	}
}

// onHeartbeatDead forces a reconnect cycle after a liveness timeout,
// equivalent to an abnormal close.
func (s *Supervisor) onHeartbeatDead(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}

	s.logger.Warn("no pong within deadline, forcing reconnect",
		"timeout", s.cfg.PongTimeout,
	)
	s.emitErrorLocked(CodeLivenessTimeout, "no liveness acknowledgment within deadline")
	s.beginReconnectLocked()
	s.mu.Unlock()

	s.drain()
}

// beginReconnectLocked tears down the current binding and schedules the
// next attempt, or enters Error once attempts are exhausted.
func (s *Supervisor) beginReconnectLocked() {
	s.stopHeartbeatLocked()
	s.discardBindingLocked(websocket.CloseGoingAway)
	s.cancelRetryLocked()

	if !s.autoReconnect {
		s.setStateLocked(StateClosed)
		return
	}

	s.attempts++
	delay, ok := s.policy.Delay(s.attempts)
	if !ok {
		s.autoReconnect = false
		s.logger.Error("reconnect attempts exhausted", "attempts", s.policy.MaxAttempts())
		s.emitErrorLocked(CodeReconnectExhausted,
			fmt.Sprintf("reconnect attempts exhausted after %d attempts", s.policy.MaxAttempts()))
		s.setStateLocked(StateError)
		return
	}

	s.logger.Info("reconnect scheduled", "attempt", s.attempts, "delay", delay)
	s.setStateLocked(StateReconnecting)
	s.reconnectCancel = s.sched.After(delay, s.onReconnectTimer)
}

// onReconnectTimer starts the next connection attempt.
func (s *Supervisor) onReconnectTimer() {
	s.mu.Lock()
	if s.state == StateReconnecting {
		s.reconnectCancel = nil
		s.startAttemptLocked()
	}
	s.mu.Unlock()

	s.drain()
}

// discardBindingLocked closes the active binding and bumps the generation
// so any late events from it are ignored. The socket close itself is
// deferred outside the lock.
func (s *Supervisor) discardBindingLocked(code int) {
	if s.binding == nil {
		return
	}
	b := s.binding
	s.binding = nil
	s.gen++
	s.deferLocked(func() { b.close(code) })
}

func (s *Supervisor) stopHeartbeatLocked() {
	if s.hb != nil {
		s.hb.stop()
	}
}

func (s *Supervisor) cancelReconnectTimerLocked() {
	if s.reconnectCancel != nil {
		s.reconnectCancel()
		s.reconnectCancel = nil
	}
}

func (s *Supervisor) cancelRetryLocked() {
	if s.retryCancel != nil {
		s.retryCancel()
		s.retryCancel = nil
	}
	s.retryPending = false
}

// setStateLocked records a transition and queues the state-change event.
// A transition to the current state emits nothing.
func (s *Supervisor) setStateLocked(new State) {
	if s.state == new {
		return
	}
	old := s.state
	s.state = new
	s.logger.Debug("state change", "from", old, "to", new)
	s.deferLocked(func() { s.reg.emitState(old, new) })
}

func (s *Supervisor) emitErrorLocked(code ErrorCode, reason string) {
	ev := ErrorEvent{Code: code, Reason: reason}
	s.deferLocked(func() { s.reg.emitError(ev) })
}

// deferLocked queues fn to run, in order, outside the supervisor lock.
func (s *Supervisor) deferLocked(fn func()) {
	s.pending = append(s.pending, fn)
}

// drain executes queued actions in FIFO order. Only one goroutine drains
// at a time; actions queued while draining are picked up by the active
// drainer before it exits.
func (s *Supervisor) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
