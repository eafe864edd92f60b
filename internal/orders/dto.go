package orders

import (
	"time"

	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

// StaleQuery selects unassigned orders whose last allocation step happened
// before Before.
type StaleQuery struct {
	AssignmentStatus enums.AgentAssignmentStatus
	Before           time.Time
	Limit            int
}
