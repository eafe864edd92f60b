package outbox

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/fooddash-backend/pkg/db/models"
	"github.com/angelmondragon/fooddash-backend/pkg/enums"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps event types and versions to typed payload decoders.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// NewAllocationRegistry knows every allocation event at version 1.
func NewAllocationRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(enums.EventOrderAgentAssigned, 1, decodeInto[AgentAssignedEvent])
	r.Register(enums.EventOrderAllocationEscalated, 1, decodeInto[AllocationEscalatedEvent])
	r.Register(enums.EventOrderAgentReleased, 1, decodeInto[AgentReleasedEvent])
	r.Register(enums.EventOrderDelivered, 1, decodeInto[OrderDeliveredEvent])
	return r
}

func decodeInto[T any](payload json.RawMessage) (any, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
}

// Resolve unwraps the stored envelope and decodes its data.
func (r *DecoderRegistry) Resolve(event models.OutboxEvent) (PayloadEnvelope, any, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	data, err := r.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return envelope, nil, err
	}
	return envelope, data, nil
}
