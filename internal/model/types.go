package model

import "time"

// ServerStatus is the lifecycle state reported for a simulation server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// Valid reports whether s is one of the known status values.
func (s ServerStatus) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusError:
		return true
	}
	return false
}

// ServerState is the observed state of a single simulation server.
// Field tags mirror the wire representation used in status update frames.
type ServerState struct {
	ID            int64        `json:"id"`
	Status        ServerStatus `json:"status"`
	LastStartedAt *time.Time   `json:"last_started,omitempty"`
}

// StatusTransition records one observed status change for a server.
type StatusTransition struct {
	ServerID   int64        // Server whose status changed
	OldStatus  ServerStatus // Status before the update
	NewStatus  ServerStatus // Status after the update
	ChangedAt  *time.Time   // Server-reported last_started, if any
	ReceivedAt time.Time    // Local time the update was observed
}
