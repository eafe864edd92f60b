package enums

import "fmt"

// NotificationType classifies in-app notifications sent to agents.
type NotificationType string

const (
	NotificationTypeOrderOffer    NotificationType = "order_offer"
	NotificationTypeOrderAssigned NotificationType = "order_assigned"
	NotificationTypeOrderReleased NotificationType = "order_released"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderOffer,
	NotificationTypeOrderAssigned,
	NotificationTypeOrderReleased,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// DeliveryResult is the outcome of a push hand-off.
type DeliveryResult string

const (
	DeliveryDelivered DeliveryResult = "delivered"
	DeliveryNoTokens  DeliveryResult = "no_tokens"
	DeliveryFailed    DeliveryResult = "failed"
)
