package broker

import (
	"context"
	"fmt"

	"enrollment-service/internal/models"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentCompleted publishes a PaymentCompleted event, keyed by payment
// id so replays of the same payment land in one partition.
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	key := fmt.Sprintf("payment-%d", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishEnrollmentActivated publishes an EnrollmentActivated event
func (ep *EventPublisher) PublishEnrollmentActivated(ctx context.Context, event *models.EnrollmentActivatedEvent) error {
	key := fmt.Sprintf("enrollment-%d-%s", event.UserID, event.CourseCode)
	return ep.producer.PublishEvent(ctx, key, event)
}
