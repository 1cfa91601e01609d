package reconcile

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opcsim/simstatus/internal/connection"
	"github.com/opcsim/simstatus/internal/model"
)

var statusGen = gen.OneConstOf(
	model.StatusStopped,
	model.StatusStarting,
	model.StatusRunning,
	model.StatusError,
)

// serversGen builds a collection of servers with ids 1..n.
func serversGen(maxLen int) gopter.Gen {
	return gen.SliceOf(statusGen).Map(func(statuses []model.ServerStatus) []model.ServerState {
		if len(statuses) > maxLen {
			statuses = statuses[:maxLen]
		}
		servers := make([]model.ServerState, len(statuses))
		for i, st := range statuses {
			servers[i] = model.ServerState{ID: int64(i + 1), Status: st}
		}
		return servers
	})
}

// updateGen builds envelope updates whose ids may or may not exist.
func updateGen() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.Int64Range(1, 40),
		statusGen,
	).Map(func(vals []interface{}) model.ServerState {
		return model.ServerState{
			ID:     vals[0].(int64),
			Status: vals[1].(model.ServerStatus),
		}
	}))
}

func TestReconciliationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("applying an envelope twice equals applying it once", prop.ForAll(
		func(servers []model.ServerState, updates []model.ServerState) bool {
			env := connection.Envelope{Kind: connection.KindIncremental, Updates: updates}

			once := make([]model.ServerState, len(servers))
			copy(once, servers)
			Apply(once, env)

			twice := make([]model.ServerState, len(servers))
			copy(twice, servers)
			Apply(twice, env)
			Apply(twice, env)

			for i := range once {
				if once[i] != twice[i] {
					return false
				}
			}
			return true
		},
		serversGen(20),
		updateGen(),
	))

	properties.Property("unknown ids never insert or delete entries", prop.ForAll(
		func(servers []model.ServerState, updates []model.ServerState, initial bool) bool {
			c := NewCollection()
			c.Replace(servers)

			before := make(map[int64]bool, len(servers))
			for _, s := range servers {
				before[s.ID] = true
			}

			kind := connection.KindIncremental
			if initial {
				kind = connection.KindInitial
			}
			c.ApplyEnvelope(connection.Envelope{
				Kind:    kind,
				Updates: updates,
			})

			snap := c.Snapshot()
			if len(snap) != len(before) {
				return false
			}
			for _, s := range snap {
				if !before[s.ID] {
					return false
				}
			}
			return true
		},
		serversGen(20),
		updateGen(),
		gen.Bool(),
	))

	properties.Property("reported transitions match actual status changes", prop.ForAll(
		func(servers []model.ServerState, updates []model.ServerState) bool {
			c := NewCollection()
			c.Replace(servers)
			beforeSnap := c.Snapshot()
			before := make(map[int64]model.ServerStatus, len(beforeSnap))
			for _, s := range beforeSnap {
				before[s.ID] = s.Status
			}

			transitions := c.ApplyEnvelope(connection.Envelope{
				Kind:    connection.KindIncremental,
				Updates: updates,
			})

			// Every reported transition must be a real change from the
			// state at the time the update was folded in.
			seen := before
			for _, tr := range transitions {
				if tr.OldStatus == tr.NewStatus {
					return false
				}
				if seen[tr.ServerID] != tr.OldStatus {
					return false
				}
				seen[tr.ServerID] = tr.NewStatus
			}

			// The final collection must agree with the replayed transitions
			// for every known id that was updated.
			for _, s := range c.Snapshot() {
				if s.Status != seen[s.ID] {
					return false
				}
			}
			return true
		},
		serversGen(20),
		updateGen(),
	))

	properties.TestingRun(t)
}
