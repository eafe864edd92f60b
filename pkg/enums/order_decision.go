package enums

import "fmt"

// AgentDecision is an agent's explicit answer to an order offer.
type AgentDecision string

const (
	AgentDecisionAccept AgentDecision = "accept"
	AgentDecisionReject AgentDecision = "reject"
)

func ParseAgentDecision(value string) (AgentDecision, error) {
	switch AgentDecision(value) {
	case AgentDecisionAccept, AgentDecisionReject:
		return AgentDecision(value), nil
	default:
		return "", fmt.Errorf("invalid agent decision %q", value)
	}
}
