package allocation

import (
	"context"
	"sort"

	"github.com/angelmondragon/fooddash-backend/internal/agents"
	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type candidateOrdering int

const (
	byDistance candidateOrdering = iota
	byLastAssigned
)

type buildParams struct {
	RadiusMeters   float64
	Limit          int
	Exclude        []uuid.UUID
	Ordering       candidateOrdering
	ConsiderRating bool
}

// buildCandidates returns the vetted candidate queue for order. An empty
// queue is a normal outcome.
func buildCandidates(ctx context.Context, repo agents.Repository, order *models.Order, params buildParams) ([]agents.NearbyAgent, error) {
	exclude := append(order.RejectedAgentIDs(), params.Exclude...)

	limit := params.Limit
	if params.Ordering == byLastAssigned {
		limit = 0
	}
	nearby, err := repo.FindNearby(ctx, agents.NearbyQuery{
		Center:       order.RestaurantLocation(),
		RadiusMeters: params.RadiusMeters,
		ExcludeIDs:   exclude,
		CODAmount:    codAmount(order),
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	queue := filterEligible(order, nearby, params.Exclude)
	rankCandidates(queue, params.Ordering, params.ConsiderRating)
	if params.Limit > 0 && len(queue) > params.Limit {
		queue = queue[:params.Limit]
	}
	return queue, nil
}

// filterEligible drops, in order: agents that rejected the order, agents at
// their active-order cap, agents whose cash cap cannot absorb a cash order,
// and agents that are not available.
func filterEligible(order *models.Order, nearby []agents.NearbyAgent, exclude []uuid.UUID) []agents.NearbyAgent {
	skip := make(map[uuid.UUID]struct{}, len(order.Rejections)+len(exclude))
	for _, id := range order.RejectedAgentIDs() {
		skip[id] = struct{}{}
	}
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	cod := codAmount(order)
	out := make([]agents.NearbyAgent, 0, len(nearby))
	for _, candidate := range nearby {
		agent := candidate.Agent
		if _, excluded := skip[agent.ID]; excluded {
			continue
		}
		if !hasOrderCapacity(agent) {
			continue
		}
		if cod.IsPositive() && !hasCODCapacity(agent, cod) {
			continue
		}
		if agent.Status != enums.AgentStatusAvailable {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

func rankCandidates(queue []agents.NearbyAgent, ordering candidateOrdering, considerRating bool) {
	switch ordering {
	case byLastAssigned:
		sort.SliceStable(queue, func(i, j int) bool {
			a, b := queue[i].Agent.LastAssignedAt, queue[j].Agent.LastAssignedAt
			switch {
			case a == nil && b != nil:
				return true
			case a != nil && b == nil:
				return false
			case a != nil && b != nil && !a.Equal(*b):
				return a.Before(*b)
			}
			if considerRating && queue[i].Agent.AverageRating != queue[j].Agent.AverageRating {
				return queue[i].Agent.AverageRating > queue[j].Agent.AverageRating
			}
			return queue[i].DistanceMeters < queue[j].DistanceMeters
		})
	default:
		if !considerRating {
			return
		}
		sort.SliceStable(queue, func(i, j int) bool {
			return queue[i].Agent.AverageRating > queue[j].Agent.AverageRating
		})
	}
}

func hasOrderCapacity(agent models.Agent) bool {
	return agent.MaxActiveOrders == 0 || agent.CurrentOrderCount < agent.MaxActiveOrders
}

func hasCODCapacity(agent models.Agent, amount decimal.Decimal) bool {
	return agent.MaxCODAmount.IsPositive() && agent.CurrentCODHolding.Add(amount).LessThan(agent.MaxCODAmount)
}

// codAmount is the cash an agent collects for order, zero for prepaid orders.
func codAmount(order *models.Order) decimal.Decimal {
	if order.PaymentMethod.IsCash() {
		return order.TotalAmount
	}
	return decimal.Zero
}
