package enums

import "fmt"

// AgentAssignmentStatus tracks where an order sits in the agent allocation flow.
type AgentAssignmentStatus string

const (
	AssignmentUnassigned              AgentAssignmentStatus = "unassigned"
	AssignmentAwaitingAgentAcceptance AgentAssignmentStatus = "awaiting_agent_acceptance"
	AssignmentAwaitingAgentAssignment AgentAssignmentStatus = "awaiting_agent_assignment"
	AssignmentAutoAccepted            AgentAssignmentStatus = "auto_accepted"
	AssignmentAcceptedByAgent         AgentAssignmentStatus = "accepted_by_agent"
	AssignmentRejectedByAgent         AgentAssignmentStatus = "rejected_by_agent"
	AssignmentManuallyAssigned        AgentAssignmentStatus = "manually_assigned_by_admin"
	AssignmentReassigned              AgentAssignmentStatus = "reassigned_to_another"
	AssignmentAssigned                AgentAssignmentStatus = "assigned"
)

var validAgentAssignmentStatuses = []AgentAssignmentStatus{
	AssignmentUnassigned,
	AssignmentAwaitingAgentAcceptance,
	AssignmentAwaitingAgentAssignment,
	AssignmentAutoAccepted,
	AssignmentAcceptedByAgent,
	AssignmentRejectedByAgent,
	AssignmentManuallyAssigned,
	AssignmentReassigned,
	AssignmentAssigned,
}

func (s AgentAssignmentStatus) String() string {
	return string(s)
}

func (s AgentAssignmentStatus) IsValid() bool {
	for _, candidate := range validAgentAssignmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// HasAgent reports whether the status implies an agent holds the order.
func (s AgentAssignmentStatus) HasAgent() bool {
	switch s {
	case AssignmentAutoAccepted, AssignmentAcceptedByAgent, AssignmentManuallyAssigned, AssignmentAssigned:
		return true
	default:
		return false
	}
}

func ParseAgentAssignmentStatus(value string) (AgentAssignmentStatus, error) {
	for _, candidate := range validAgentAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent assignment status %q", value)
}
