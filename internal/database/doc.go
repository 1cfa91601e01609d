// Package database provides the PostgreSQL connection pool used by the
// optional status-transition history recorder.
package database
