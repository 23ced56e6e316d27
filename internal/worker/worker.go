package worker

import (
	"context"
	"encoding/json"
	"log"

	"enrollment-service/internal/broker"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventLog is the processed-event dedup store. *store.Store implements it.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ReceiptWorker consumes payment events and records receipts. Kafka may
// redeliver, so every event is deduplicated through the processed-events log
// before it is acted on.
type ReceiptWorker struct {
	consumer *broker.Consumer
	events   EventLog
	logger   *zap.Logger
}

// NewReceiptWorker creates a new receipt worker
func NewReceiptWorker(consumer *broker.Consumer, events EventLog) *ReceiptWorker {
	return &ReceiptWorker{
		consumer: consumer,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *ReceiptWorker) Start(ctx context.Context) error {
	log.Println("Starting receipt worker...")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *ReceiptWorker) Stop() error {
	log.Println("Stopping receipt worker...")
	return w.consumer.Close()
}

func (w *ReceiptWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Error("Failed to unmarshal event", zap.Error(err))
		// Poison message; commit past it.
		return nil
	}

	if base.EventType != models.EventTypePaymentCompleted {
		return nil
	}

	processed, err := w.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	var event models.PaymentCompletedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		w.logger.Error("Failed to unmarshal PaymentCompleted event", zap.Error(err))
		return nil
	}

	w.logger.Info("Receipt recorded",
		zap.Int64("payment_id", event.PaymentID),
		zap.Int64("user_id", event.UserID),
		zap.String("course_code", event.CourseCode),
		zap.String("amount", event.Amount),
		zap.String("currency", event.Currency),
		zap.String("reference", event.Reference))

	return w.events.MarkEventProcessed(ctx, base.EventID, base.EventType)
}
