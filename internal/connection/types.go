package connection

import (
	"errors"
	"time"

	"github.com/opcsim/simstatus/internal/model"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrStaleBinding   = errors.New("binding superseded")
)

// State is the connection lifecycle state. Exactly one value holds at any
// instant; it is owned exclusively by the Supervisor.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode classifies an ErrorEvent.
type ErrorCode int

const (
	CodeTransportFailure   ErrorCode = 1001
	CodeLivenessTimeout    ErrorCode = 1002
	CodeMalformedMessage   ErrorCode = 1003
	CodeReconnectExhausted ErrorCode = 1004
)

// ErrorEvent describes a failure surfaced to error listeners. It carries
// no recovery instructions; recovery policy lives in the Supervisor.
type ErrorEvent struct {
	Code   ErrorCode
	Reason string
}

// EnvelopeKind distinguishes full-state snapshots from single updates.
type EnvelopeKind string

const (
	KindInitial     EnvelopeKind = "initial"
	KindIncremental EnvelopeKind = "incremental"
)

// Envelope is a decoded status update frame. Immutable once constructed.
type Envelope struct {
	Kind    EnvelopeKind
	Updates []model.ServerState
}

// Wire message type tags and control frame tokens. Control frames are
// plain text, not JSON, and are matched before JSON parsing is attempted.
const (
	pingFrame = "ping"
	pongFrame = "pong"

	typeServerStatus     = "server_status"
	typeInitialStatus    = "initial_status"
	typeGetInitialStatus = "get_initial_status"
)

// Config configures a Supervisor.
type Config struct {
	// URL is the WebSocket endpoint. Required; configuration-provided,
	// never defaulted.
	URL string

	// PingInterval is the period between liveness probes.
	PingInterval time.Duration

	// PongTimeout is the maximum time without a liveness acknowledgment
	// before the connection is declared dead.
	PongTimeout time.Duration

	// Backoff controls reconnect delays and the attempt limit.
	Backoff BackoffConfig

	// RetryRequestDelay is the wait before re-requesting the initial
	// status after a malformed frame.
	RetryRequestDelay time.Duration

	// WriteTimeout is the write deadline for sends.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// Scheduler provides timers. Nil selects the system scheduler;
	// tests inject a simulated-time implementation.
	Scheduler Scheduler
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	return Config{
		PingInterval:      15 * time.Second,
		PongTimeout:       20 * time.Second,
		Backoff:           DefaultBackoffConfig(),
		RetryRequestDelay: 1 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.RetryRequestDelay == 0 {
		c.RetryRequestDelay = def.RetryRequestDelay
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler()
	}
}

// Stats is a snapshot of supervisor counters for observability.
type Stats struct {
	State             State
	ReconnectAttempts int
	LastProbeSentAt   time.Time
	LastProbeAckAt    time.Time
}
