package queue

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// readyMessage is the sentinel success message the backend sends when the
// participant has been admitted. Readiness is decided structurally (no
// snapshot payload on a success response); the sentinel is only checked
// here so that a backend wording change shows up in one place.
const readyMessage = "allowed to enter"

// envelope is the JSON wrapper on every queue service response.
type envelope struct {
	Message string    `json:"message"`
	Data    *Snapshot `json:"data,omitempty"`
}

func parseEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

// outcome maps a decoded status envelope onto a PollOutcome: data absent
// means admitted, data present means still waiting.
func (e envelope) outcome() (PollOutcome, error) {
	if e.Data == nil {
		if !strings.Contains(strings.ToLower(e.Message), readyMessage) {
			log.Warn().Str("message", e.Message).Msg("transport: status response has no snapshot but unexpected message; treating as ready")
		}
		return PollOutcome{Ready: true}, nil
	}
	if err := e.Data.Validate(); err != nil {
		return PollOutcome{}, err
	}
	return PollOutcome{Snapshot: e.Data}, nil
}
