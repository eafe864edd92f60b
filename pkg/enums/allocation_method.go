package enums

import (
	"fmt"
	"strings"
)

// AllocationMethod selects the strategy used to find a delivery agent. It is
// chosen once per order.
type AllocationMethod string

const (
	AllocationManual     AllocationMethod = "manual"
	AllocationOneByOne   AllocationMethod = "one_by_one"
	AllocationNearest    AllocationMethod = "nearest"
	AllocationFIFO       AllocationMethod = "fifo"
	AllocationBroadcast  AllocationMethod = "broadcast"
	AllocationRoundRobin AllocationMethod = "round_robin"
)

var validAllocationMethods = []AllocationMethod{
	AllocationManual,
	AllocationOneByOne,
	AllocationNearest,
	AllocationFIFO,
	AllocationBroadcast,
	AllocationRoundRobin,
}

var allocationMethodAliases = map[string]AllocationMethod{
	"send_to_all":       AllocationBroadcast,
	"nearest_available": AllocationNearest,
}

func (m AllocationMethod) String() string {
	return string(m)
}

func (m AllocationMethod) IsValid() bool {
	for _, candidate := range validAllocationMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseAllocationMethod accepts canonical names plus the send_to_all and
// nearest_available aliases.
func ParseAllocationMethod(value string) (AllocationMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if alias, ok := allocationMethodAliases[normalized]; ok {
		return alias, nil
	}
	for _, candidate := range validAllocationMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid allocation method %q", value)
}
