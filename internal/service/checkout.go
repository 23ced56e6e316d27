package service

import (
	"context"
	"errors"
	"fmt"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// BeginCheckout opens a ledger row for an intended purchase at the course list
// price. Coupon-discounted rows are written upstream by the coupon subsystem
// before the discount is offered; either way the stored amount is what later
// reconciliation trusts. An existing pending row for (user, course) is reused
// so abandoned checkouts do not pile up.
func (s *ConfirmationService) BeginCheckout(ctx context.Context, userID int64, courseCode, method string) (*models.PendingPayment, error) {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.BeginCheckout")
	defer span.End()

	if userID <= 0 || courseCode == "" {
		return nil, newError(KindValidation, "missing user or course", false, nil)
	}

	course, err := s.ledger.GetCourseByCode(ctx, courseCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindValidation, fmt.Sprintf("unknown course %q", courseCode), false, nil)
		}
		return nil, s.storageErr("failed to load course", err)
	}
	if !course.Active {
		return nil, newError(KindValidation, fmt.Sprintf("course %q is not open for enrollment", courseCode), false, nil)
	}
	if course.Price.IsZero() {
		return nil, newError(KindValidation, fmt.Sprintf("course %q is free; enroll directly", courseCode), false, nil)
	}

	if existing, err := s.ledger.GetPendingPayment(ctx, userID, courseCode); err != nil {
		return nil, s.storageErr("failed to load pending payment", err)
	} else if existing != nil {
		return existing, nil
	}

	currency := course.Currency
	if currency == "" {
		currency = s.siteCurrency
	}
	if method == "" {
		method = "paypal"
	}

	payment := &models.PendingPayment{
		UserID:     userID,
		CourseCode: courseCode,
		Amount:     course.Price,
		Currency:   currency,
		Method:     method,
		State:      models.PaymentStatePending,
	}
	if err := s.ledger.CreatePendingPayment(ctx, payment); err != nil {
		return nil, s.storageErr("failed to create pending payment", err)
	}

	s.logger.Info("Checkout opened",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", userID),
		zap.String("course_code", courseCode),
		zap.String("amount", payment.Amount.String()))

	return payment, nil
}
