package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"enrollment-service/internal/models"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// ResumptionService lets an owner re-enter the confirmation flow for an
// abandoned pending payment. It reads the ledger only; no provider calls.
type ResumptionService struct {
	ledger Ledger
	logger *zap.Logger
}

// NewResumptionService creates a new resumption service
func NewResumptionService(ledger Ledger) *ResumptionService {
	return &ResumptionService{
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// ResumeResult carries the redirect back into the confirmation entry point,
// with the already-persisted authoritative price.
type ResumeResult struct {
	PaymentID   int64  `json:"payment_id"`
	CourseCode  string `json:"course_code"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirect_url"`
}

// ListPending returns the caller's own pending payments, newest first.
func (rs *ResumptionService) ListPending(ctx context.Context, userID int64) ([]models.PendingPayment, error) {
	ctx, span := util.StartSpan(ctx, "ResumptionService.ListPending")
	defer span.End()

	payments, err := rs.ledger.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, newError(KindStorage, "failed to list pending payments", true, err)
	}
	return payments, nil
}

// Resume re-enters the flow for one pending payment. Rows that do not exist,
// belong to someone else, or are already completed all answer NotFound: a
// caller learns nothing about other owners' ledgers.
func (rs *ResumptionService) Resume(ctx context.Context, paymentID, userID int64) (*ResumeResult, error) {
	ctx, span := util.StartSpan(ctx, "ResumptionService.Resume")
	defer span.End()

	payment, err := rs.ledger.GetPendingPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.ResumptionsTotal.WithLabelValues("not_found").Inc()
			return nil, newError(KindNotFound, "no resumable payment", false, nil)
		}
		return nil, newError(KindStorage, "failed to load payment", true, err)
	}

	if payment.UserID != userID || payment.State != models.PaymentStatePending {
		util.ResumptionsTotal.WithLabelValues("not_found").Inc()
		return nil, newError(KindNotFound, "no resumable payment", false, nil)
	}

	util.ResumptionsTotal.WithLabelValues("resumed").Inc()
	rs.logger.Info("Pending payment resumed",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", userID),
		zap.String("course_code", payment.CourseCode))

	redirect := fmt.Sprintf("/payments/checkout?payment_id=%d&course=%s&amount=%s&currency=%s",
		payment.ID,
		url.QueryEscape(payment.CourseCode),
		url.QueryEscape(payment.Amount.String()),
		url.QueryEscape(payment.Currency))

	return &ResumeResult{
		PaymentID:   payment.ID,
		CourseCode:  payment.CourseCode,
		Amount:      payment.Amount.String(),
		Currency:    payment.Currency,
		RedirectURL: redirect,
	}, nil
}
