package allocation

import (
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
)

// State is the allocation state of one order. Exactly one of Idle,
// AwaitingResponse or Resolved applies at a time.
type State interface {
	Kind() string
	isState()
}

// Idle means no agent holds the order and nobody is being waited on.
type Idle struct{}

// AwaitingResponse means offers are outstanding. For one-by-one the single
// current candidate is set; broadcasts leave it empty and count the offers.
type AwaitingResponse struct {
	CandidateID uuid.UUID
	AgentID     uuid.UUID
	Deadline    *time.Time
	Outstanding int
}

// Resolved means an agent holds the order.
type Resolved struct {
	AgentID uuid.UUID
	Status  enums.AgentAssignmentStatus
	At      *time.Time
}

func (Idle) Kind() string             { return "idle" }
func (AwaitingResponse) Kind() string { return "awaiting_response" }
func (Resolved) Kind() string         { return "resolved" }

func (Idle) isState()             {}
func (AwaitingResponse) isState() {}
func (Resolved) isState()         {}

// StateView bundles the derived state with the stored order.
type StateView struct {
	State      State
	Order      models.Order
	Candidates []models.AgentCandidate
}

// deriveState reads the state from a loaded order. Cancelled orders with no
// agent are Idle.
func deriveState(order models.Order, responseTimeout, broadcastExpiry time.Duration) State {
	if order.AssignedAgentID != nil {
		return Resolved{AgentID: *order.AssignedAgentID, Status: order.AgentAssignmentStatus, At: order.AssignedAt}
	}
	if order.IsTerminated() {
		return Idle{}
	}

	var (
		current     *models.AgentCandidate
		outstanding int
		earliest    *time.Time
	)
	for i := range order.Candidates {
		c := &order.Candidates[i]
		if !c.Status.IsOutstanding() {
			continue
		}
		outstanding++
		if c.IsCurrent {
			current = c
		}
		if c.NotifiedAt != nil && (earliest == nil || c.NotifiedAt.Before(*earliest)) {
			earliest = c.NotifiedAt
		}
	}
	if outstanding == 0 {
		return Idle{}
	}

	if current != nil {
		state := AwaitingResponse{CandidateID: current.ID, AgentID: current.AgentID, Outstanding: outstanding}
		if current.NotifiedAt != nil {
			deadline := current.NotifiedAt.Add(responseTimeout)
			state.Deadline = &deadline
		}
		return state
	}

	state := AwaitingResponse{Outstanding: outstanding}
	if broadcastExpiry > 0 && earliest != nil {
		deadline := earliest.Add(broadcastExpiry)
		state.Deadline = &deadline
	}
	return state
}
