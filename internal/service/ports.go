package service

import (
	"context"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/provider"
	"enrollment-service/internal/store"
)

// Ledger is the persistence surface the services need. *store.Store implements
// it; tests substitute an in-memory fake.
type Ledger interface {
	GetCourseByCode(ctx context.Context, code string) (*models.Course, error)

	CreatePendingPayment(ctx context.Context, payment *models.PendingPayment) error
	GetPaymentByReference(ctx context.Context, reference string) (*models.PendingPayment, error)
	GetPendingPayment(ctx context.Context, userID int64, courseCode string) (*models.PendingPayment, error)
	GetPendingPaymentByID(ctx context.Context, id int64) (*models.PendingPayment, error)
	ListPendingByUser(ctx context.Context, userID int64) ([]models.PendingPayment, error)
	ListPaymentsByUserCourse(ctx context.Context, userID int64, courseCode string) ([]models.PendingPayment, error)
	CompletePaymentTx(ctx context.Context, p store.CompletePaymentParams) (*models.PendingPayment, *models.Enrollment, error)

	GetEnrollment(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error)
	UpsertEnrollment(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error)
}

// Provider is the narrow payment-provider surface: token exchange plus a
// read-only order lookup. Tests substitute a deterministic fake.
type Provider interface {
	GetAccessToken(ctx context.Context) (string, error)
	VerifyOrder(ctx context.Context, orderID, token string) provider.VerificationResult
}

// Events publishes domain events after a successful commit. Best effort:
// publish failures are logged, never surfaced to the client.
type Events interface {
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishEnrollmentActivated(ctx context.Context, event *models.EnrollmentActivatedEvent) error
}

// StatusCache caches the payment-status projection. May be nil.
type StatusCache interface {
	GetPaymentStatus(ctx context.Context, userID int64, courseCode string) ([]byte, error)
	SetPaymentStatus(ctx context.Context, userID int64, courseCode string, data []byte, ttl time.Duration) error
	InvalidatePaymentStatus(ctx context.Context, userID int64, courseCode string) error
}
