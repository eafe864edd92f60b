package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/fooddash-backend/pkg/logger"
	pkgpubsub "github.com/angelmondragon/fooddash-backend/pkg/pubsub"
)

const pushPublishTimeout = 5 * time.Second

// PushMessage is what the push delivery service receives for one device.
type PushMessage struct {
	AgentID string          `json:"agent_id"`
	Token   string          `json:"token"`
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PushSender hands a push message to the delivery mechanism.
type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
}

// PubSubPushSender publishes push messages to the topic consumed by the push
// delivery service.
type PubSubPushSender struct {
	publisher pkgpubsub.Publisher
	timeout   time.Duration
}

// NewPubSubPushSender builds a sender over the push topic publisher.
func NewPubSubPushSender(publisher pkgpubsub.Publisher) (*PubSubPushSender, error) {
	if publisher == nil {
		return nil, errors.New("push publisher required")
	}
	return &PubSubPushSender{publisher: publisher, timeout: pushPublishTimeout}, nil
}

func (s *PubSubPushSender) Send(ctx context.Context, msg PushMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"agent_id": msg.AgentID,
			"type":     msg.Type,
		},
	})
	if result == nil {
		return errors.New("push publisher returned nil result")
	}
	getCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := result.Get(getCtx); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}

// LogPushSender only logs pushes. Used when no push topic is configured.
type LogPushSender struct {
	logg *logger.Logger
}

func NewLogPushSender(logg *logger.Logger) *LogPushSender {
	return &LogPushSender{logg: logg}
}

func (s *LogPushSender) Send(ctx context.Context, msg PushMessage) error {
	if s.logg == nil {
		return nil
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"agent_id":          msg.AgentID,
		"notification_type": msg.Type,
		"title":             msg.Title,
	}), "push notification (log only)")
	return nil
}
