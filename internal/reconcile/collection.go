// Package reconcile keeps a locally-held collection of server statuses in
// step with the update stream delivered by the connection supervisor.
//
// Stream updates, whether incremental or full snapshots, overwrite
// matching entries in place and never grow or shrink the collection;
// membership belongs to whoever fetched the entity list, and changes only
// through Replace or Sync. Every path reports the status transitions it
// actually caused so observers only see real changes.
package reconcile

import (
	"sync"
	"time"

	"github.com/opcsim/simstatus/internal/connection"
	"github.com/opcsim/simstatus/internal/model"
)

// Apply overwrites entries of servers in place with the updates carried
// by env, matching by id. Updates for ids not present in servers are
// dropped; no entries are added or removed. Applying the same envelope
// twice leaves servers unchanged after the first application.
func Apply(servers []model.ServerState, env connection.Envelope) {
	for _, u := range env.Updates {
		for i := range servers {
			if servers[i].ID == u.ID {
				servers[i].Status = u.Status
				servers[i].LastStartedAt = u.LastStartedAt
				break
			}
		}
	}
}

// Collection is a thread-safe, order-preserving set of server states.
type Collection struct {
	mu    sync.RWMutex
	order []int64
	items map[int64]model.ServerState

	now func() time.Time // injectable clock for tests
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{
		items: make(map[int64]model.ServerState),
		now:   time.Now,
	}
}

// Replace swaps the entire contents for servers, preserving their order.
// Duplicate ids keep the last occurrence.
func (c *Collection) Replace(servers []model.ServerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(servers)
}

func (c *Collection) replaceLocked(servers []model.ServerState) {
	c.order = c.order[:0]
	c.items = make(map[int64]model.ServerState, len(servers))
	for _, s := range servers {
		if _, seen := c.items[s.ID]; !seen {
			c.order = append(c.order, s.ID)
		}
		c.items[s.ID] = s
	}
}

// Snapshot returns a copy of the collection in its stored order.
func (c *Collection) Snapshot() []model.ServerState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ServerState, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Get returns the state for one server id.
func (c *Collection) Get(id int64) (model.ServerState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[id]
	return s, ok
}

// Len returns the number of servers held.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sync adopts servers as the new membership and returns the transitions
// for ids that were already known and changed status. This is the entity
// fetch path, not the stream path; stream envelopes go through
// ApplyEnvelope and never alter membership.
func (c *Collection) Sync(servers []model.ServerState) []model.StatusTransition {
	c.mu.Lock()
	defer c.mu.Unlock()

	receivedAt := c.now()
	var transitions []model.StatusTransition

	prev := c.items
	c.replaceLocked(servers)
	for _, s := range servers {
		if old, known := prev[s.ID]; known && old.Status != s.Status {
			transitions = append(transitions, model.StatusTransition{
				ServerID:   s.ID,
				OldStatus:  old.Status,
				NewStatus:  s.Status,
				ChangedAt:  s.LastStartedAt,
				ReceivedAt: receivedAt,
			})
		}
	}
	return transitions
}

// ApplyEnvelope folds one supervisor envelope into the collection and
// returns the status transitions it caused, in update order. Matching
// entries are overwritten in place; unknown ids are ignored and nothing
// is inserted or removed, for snapshots and incremental updates alike.
func (c *Collection) ApplyEnvelope(env connection.Envelope) []model.StatusTransition {
	c.mu.Lock()
	defer c.mu.Unlock()

	receivedAt := c.now()
	var transitions []model.StatusTransition

	for _, u := range env.Updates {
		cur, known := c.items[u.ID]
		if !known {
			continue
		}
		if cur.Status != u.Status {
			transitions = append(transitions, model.StatusTransition{
				ServerID:   u.ID,
				OldStatus:  cur.Status,
				NewStatus:  u.Status,
				ChangedAt:  u.LastStartedAt,
				ReceivedAt: receivedAt,
			})
		}
		cur.Status = u.Status
		cur.LastStartedAt = u.LastStartedAt
		c.items[u.ID] = cur
	}
	return transitions
}
