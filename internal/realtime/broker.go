package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// OperatorsRoom receives escalations for stuck orders.
	OperatorsRoom = "operators"

	subscriberBuffer = 64
)

// Event is one message delivered to a room.
type Event struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Publisher sends best-effort events to a room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Broker publishes events and lets local connections subscribe to rooms.
type Broker interface {
	Publisher
	Subscribe(room string) (<-chan Event, func())
}

func OrderRoom(id uuid.UUID) string      { return "order:" + id.String() }
func RestaurantRoom(id uuid.UUID) string { return "restaurant:" + id.String() }
func CustomerRoom(id uuid.UUID) string   { return "customer:" + id.String() }
func AgentRoom(id uuid.UUID) string      { return "agent:" + id.String() }

// ValidRoom reports whether room is operators or kind:uuid for a known kind.
func ValidRoom(room string) bool {
	if room == OperatorsRoom {
		return true
	}
	kind, id, ok := strings.Cut(room, ":")
	if !ok {
		return false
	}
	switch kind {
	case "order", "restaurant", "customer", "agent":
	default:
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func newEvent(room, event string, payload any, now time.Time) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Event{Room: room, Event: event, Payload: body, At: now}, nil
}

// MemoryBroker fans events out to subscribers in this process. Slow
// subscribers drop events rather than block publishers.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	rooms  map[string]map[int]chan Event
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{rooms: map[string]map[int]chan Event{}}
}

func (b *MemoryBroker) Publish(_ context.Context, room, event string, payload any) error {
	evt, err := newEvent(room, event, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	b.Dispatch(evt)
	return nil
}

// Dispatch delivers an already-encoded event to local subscribers.
func (b *MemoryBroker) Dispatch(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.rooms[evt.Room] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *MemoryBroker) Subscribe(room string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.rooms[room] == nil {
		b.rooms[room] = map[int]chan Event{}
	}
	b.rooms[room][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.rooms[room], id)
			if len(b.rooms[room]) == 0 {
				delete(b.rooms, room)
			}
			close(ch)
		})
	}
}

// Subscribers reports the number of local subscribers in room.
func (b *MemoryBroker) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
