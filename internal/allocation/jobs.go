package allocation

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	JobCandidateTimeout = "allocation.candidate_timeout"
	JobBroadcastExpiry  = "allocation.broadcast_expiry"
)

// CandidateTimeoutPayload identifies the offer whose response window closed.
type CandidateTimeoutPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	AgentID     uuid.UUID `json:"agent_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
}

// BroadcastExpiryPayload identifies the broadcast whose window closed.
type BroadcastExpiryPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Round   int       `json:"round"`
}

func candidateTimeoutKey(orderID, agentID uuid.UUID) string {
	return fmt.Sprintf("candidate-timeout:%s:%s", orderID, agentID)
}

func broadcastExpiryKey(orderID uuid.UUID) string {
	return "broadcast-expiry:" + orderID.String()
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode job payload: %w", err)
	}
	return out, nil
}
