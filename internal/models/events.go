package models

import "time"

// Event types
const (
	EventTypePaymentCompleted    = "PAYMENT_COMPLETED"
	EventTypeEnrollmentActivated = "ENROLLMENT_ACTIVATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCompletedEvent published when a pending payment is confirmed against
// the provider and committed.
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID  int64  `json:"payment_id"`
	UserID     int64  `json:"user_id"`
	CourseCode string `json:"course_code"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
	PayerID    string `json:"payer_id"`
}

// EnrollmentActivatedEvent published when course access is granted.
type EnrollmentActivatedEvent struct {
	BaseEvent
	UserID     int64  `json:"user_id"`
	CourseCode string `json:"course_code"`
	PaymentID  int64  `json:"payment_id"`
}
