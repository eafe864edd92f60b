package enums

import "fmt"

// AgentStatus is the coarse availability state that gates eligibility.
type AgentStatus string

const (
	AgentStatusAvailable     AgentStatus = "available"
	AgentStatusOrderAssigned AgentStatus = "order_assigned"
	AgentStatusOffline       AgentStatus = "offline"
)

var validAgentStatuses = []AgentStatus{
	AgentStatusAvailable,
	AgentStatusOrderAssigned,
	AgentStatusOffline,
}

func (s AgentStatus) String() string {
	return string(s)
}

func (s AgentStatus) IsValid() bool {
	for _, candidate := range validAgentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseAgentStatus(value string) (AgentStatus, error) {
	for _, candidate := range validAgentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent status %q", value)
}
