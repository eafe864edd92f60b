package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/fooddash-backend/pkg/logger"
)

type redisPubSub interface {
	Publish(ctx context.Context, channel string, message any) error
	PSubscribe(ctx context.Context, patterns ...string) (*goredis.PubSub, error)
	RoomChannel(room string) string
	RoomChannelPattern() string
}

// RedisBroker publishes room events on Redis so every API instance can relay
// them to its own websocket connections.
type RedisBroker struct {
	client redisPubSub
	local  *MemoryBroker
	logg   *logger.Logger
}

func NewRedisBroker(client redisPubSub, logg *logger.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client required for realtime broker")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &RedisBroker{client: client, local: NewMemoryBroker(), logg: logg}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, room, event string, payload any) error {
	evt, err := newEvent(room, event, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.client.RoomChannel(room), string(body)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, room, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(room string) (<-chan Event, func()) {
	return b.local.Subscribe(room)
}

// Run relays events from Redis to local subscribers until ctx is canceled.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub, err := b.client.PSubscribe(ctx, b.client.RoomChannelPattern())
	if err != nil {
		return fmt.Errorf("subscribe rooms: %w", err)
	}
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("realtime subscription closed")
			}
			b.relay(ctx, msg.Payload)
		}
	}
}

func (b *RedisBroker) relay(ctx context.Context, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logg.Error(ctx, "dropping malformed realtime event", err)
		return
	}
	b.local.Dispatch(evt)
}
