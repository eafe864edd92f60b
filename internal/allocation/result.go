package allocation

import (
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
)

// ResultStatus reports how an allocation entry point ended.
type ResultStatus string

const (
	StatusFirstAgentNotified ResultStatus = "first_agent_notified"
	StatusNextAgentNotified  ResultStatus = "next_agent_notified"
	StatusNoMoreCandidates   ResultStatus = "no_more_candidates"
	StatusBroadcasted        ResultStatus = "broadcasted"
	StatusAssigned           ResultStatus = "assigned"
	StatusUnassigned         ResultStatus = "unassigned"
	StatusManualPending      ResultStatus = "manual_pending"
	StatusAlreadyAssigned    ResultStatus = "already_assigned"
	StatusInProgress         ResultStatus = "in_progress"
	StatusTooLate            ResultStatus = "too_late"
	StatusOrderClosed        ResultStatus = "order_closed"
	StatusRejected           ResultStatus = "rejected"
	StatusCancelled          ResultStatus = "cancelled"
	StatusDelivered          ResultStatus = "delivered"
	StatusFailed             ResultStatus = "failed"
)

const (
	ReasonNoAgentsNearby = "No agents nearby"
	ReasonNoCapacity     = "No agents with capacity"
)

// Result is the outcome of one allocation step. Expected outcomes such as an
// empty candidate list come back as a status, never as an error.
type Result struct {
	Status      ResultStatus           `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	Method      enums.AllocationMethod `json:"method,omitempty"`
	AgentID     *uuid.UUID             `json:"agent_id,omitempty"`
	CandidateID *uuid.UUID             `json:"candidate_id,omitempty"`
	Notified    int                    `json:"notified,omitempty"`
}

// Converged reports whether the order now holds an agent.
func (r Result) Converged() bool {
	return r.Status == StatusAssigned || r.Status == StatusAlreadyAssigned
}

// Pending reports whether agents were engaged and a response is awaited.
func (r Result) Pending() bool {
	switch r.Status {
	case StatusFirstAgentNotified, StatusNextAgentNotified, StatusBroadcasted, StatusInProgress:
		return true
	default:
		return false
	}
}

func failed(method enums.AllocationMethod, err error) Result {
	return Result{Status: StatusFailed, Method: method, Reason: err.Error()}
}

func withAgent(status ResultStatus, agentID uuid.UUID) Result {
	return Result{Status: status, AgentID: &agentID}
}
