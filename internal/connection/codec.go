package connection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/opcsim/simstatus/internal/model"
)

// wireEnvelope is the JSON shape of a payload frame.
type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeFrame classifies a raw frame. The liveness acknowledgment token
// is matched before any JSON parsing; it is reported via isPong and never
// decoded as data. Any other frame must parse as a status envelope, or
// an error wrapping ErrMalformedFrame is returned.
func decodeFrame(data []byte) (env Envelope, isPong bool, err error) {
	if string(bytes.TrimSpace(data)) == pongFrame {
		return Envelope{}, true, nil
	}

	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var kind EnvelopeKind
	switch w.Type {
	case typeInitialStatus:
		kind = KindInitial
	case typeServerStatus:
		kind = KindIncremental
	default:
		return Envelope{}, false, fmt.Errorf("%w: unknown message type %q", ErrMalformedFrame, w.Type)
	}

	updates, err := decodeStates(w.Data)
	if err != nil {
		return Envelope{}, false, err
	}

	return Envelope{Kind: kind, Updates: updates}, false, nil
}

// decodeStates accepts either a single server state object or an ordered
// sequence of them.
func decodeStates(data json.RawMessage) ([]model.ServerState, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: missing data field", ErrMalformedFrame)
	}

	var states []model.ServerState
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &states); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	} else {
		var single model.ServerState
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		states = []model.ServerState{single}
	}

	for _, s := range states {
		if !s.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q for server %d", ErrMalformedFrame, s.Status, s.ID)
		}
	}

	return states, nil
}

// encodeInitialStatusRequest builds the client-initiated control message
// sent after a successful open.
func encodeInitialStatusRequest() []byte {
	data, _ := json.Marshal(map[string]string{"type": typeGetInitialStatus})
	return data
}
