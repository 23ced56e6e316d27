package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"enrollment-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CreatePendingPayment inserts a new ledger row at checkout time. The amount may
// already reflect a validated coupon discount; it is authoritative from here on.
func (s *Store) CreatePendingPayment(ctx context.Context, payment *models.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (user_id, course_code, amount, currency, method, state, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.UserID, payment.CourseCode, payment.Amount, payment.Currency,
		payment.Method, payment.State, payment.Note)
}

// GetPaymentByReference retrieves a ledger row by provider order id.
// Returns (nil, nil) when no row has claimed the reference.
func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM pending_payments WHERE reference = $1", reference)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPendingPaymentByID retrieves a ledger row by primary key.
func (s *Store) GetPendingPaymentByID(ctx context.Context, id int64) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM pending_payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pending payment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPendingPayment retrieves the newest pending-state row for (user, course).
// Returns (nil, nil) when there is none. Its stored amount is the authoritative
// price for reconciliation.
func (s *Store) GetPendingPayment(ctx context.Context, userID int64, courseCode string) (*models.PendingPayment, error) {
	var payment models.PendingPayment
	err := s.db.GetContext(ctx, &payment, `
		SELECT * FROM pending_payments
		WHERE user_id = $1 AND course_code = $2 AND state = $3
		ORDER BY created_at DESC LIMIT 1`,
		userID, courseCode, models.PaymentStatePending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsByUserCourse retrieves all ledger rows for (user, course), newest first.
func (s *Store) ListPaymentsByUserCourse(ctx context.Context, userID int64, courseCode string) ([]models.PendingPayment, error) {
	var payments []models.PendingPayment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM pending_payments
		WHERE user_id = $1 AND course_code = $2
		ORDER BY created_at DESC`,
		userID, courseCode)
	return payments, err
}

// ListPendingByUser retrieves the caller's pending-state rows, newest first.
func (s *Store) ListPendingByUser(ctx context.Context, userID int64) ([]models.PendingPayment, error) {
	var payments []models.PendingPayment
	err := s.db.SelectContext(ctx, &payments, `
		SELECT * FROM pending_payments
		WHERE user_id = $1 AND state = $2
		ORDER BY created_at DESC`,
		userID, models.PaymentStatePending)
	return payments, err
}

// CompletePaymentParams carries everything the commit transaction writes.
type CompletePaymentParams struct {
	// PaymentID of the pending row to complete; 0 inserts a fresh completed row
	// (confirmation arrived without a checkout-created pending row).
	PaymentID  int64
	UserID     int64
	CourseCode string
	Amount     decimal.Decimal
	Currency   string
	Method     string
	Reference  string
	PayerID    string
	// Raw provider verification response, kept for audit.
	Payload []byte
	Note    string
}

// CompletePaymentTx is the single mutation of the confirmation flow: in one
// transaction it marks the ledger row completed (claiming the unique provider
// reference) and activates the enrollment. Both writes succeed or neither does.
// A lost race on the reference index returns ErrDuplicateReference.
func (s *Store) CompletePaymentTx(ctx context.Context, p CompletePaymentParams) (*models.PendingPayment, *models.Enrollment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.PendingPayment
	if p.PaymentID != 0 {
		// NULLIF + ::jsonb because lib/pq would otherwise send the payload as bytea.
		err = tx.GetContext(ctx, &payment, `
			UPDATE pending_payments
			SET state = $1, reference = $2, payer_id = $3, verification_payload = NULLIF($4, '')::jsonb, updated_at = NOW()
			WHERE id = $5 AND state = $6
			RETURNING *`,
			models.PaymentStateCompleted, p.Reference, p.PayerID, string(p.Payload),
			p.PaymentID, models.PaymentStatePending)
		if err == sql.ErrNoRows {
			// Row is no longer pending: a concurrent confirmation won.
			return nil, nil, ErrDuplicateReference
		}
	} else {
		err = tx.GetContext(ctx, &payment, `
			INSERT INTO pending_payments
				(user_id, course_code, amount, currency, method, reference, payer_id, state, note, verification_payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::jsonb)
			RETURNING *`,
			p.UserID, p.CourseCode, p.Amount, p.Currency, p.Method,
			p.Reference, p.PayerID, models.PaymentStateCompleted, p.Note, string(p.Payload))
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrDuplicateReference
		}
		return nil, nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	var enrollment models.Enrollment
	err = tx.GetContext(ctx, &enrollment, `
		INSERT INTO enrollments (user_id, course_code, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (user_id, course_code) DO UPDATE SET active = TRUE
		RETURNING *`,
		p.UserID, p.CourseCode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to activate enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrDuplicateReference
		}
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &payment, &enrollment, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
