// Package connection implements the resilient status stream client.
//
// The Supervisor:
//   - Owns exactly one WebSocket binding at a time
//   - Detects silent disconnects with ping/pong liveness probes
//   - Reconnects with exponential backoff until attempts are exhausted
//   - Decodes status update frames and fans them out to subscribers
package connection
