// Package model defines shared data types for the simstatus client.
//
// Conventions:
//   - Server IDs: int64, assigned by the backend; stable and unique for
//     the lifetime of a server, never minted on the client side
//   - Timestamps: time.Time in UTC; wire format is RFC 3339
package model
