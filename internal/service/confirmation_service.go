package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/provider"
	"enrollment-service/internal/store"
	"enrollment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const statusCacheTTL = 30 * time.Second

// ConfirmationService is the payment confirmation state machine. It verifies a
// client-submitted claim that a provider payment completed, reconciles the
// provider's record against the locally authoritative price, and activates
// course access exactly once.
type ConfirmationService struct {
	ledger       Ledger
	provider     Provider
	events       Events
	cache        StatusCache
	logger       *zap.Logger
	siteCurrency string
	redirectBase string
}

// NewConfirmationService creates a new confirmation service. events and cache
// may be nil.
func NewConfirmationService(
	ledger Ledger,
	prov Provider,
	events Events,
	cache StatusCache,
	siteCurrency string,
	redirectBase string,
) *ConfirmationService {
	return &ConfirmationService{
		ledger:       ledger,
		provider:     prov,
		events:       events,
		cache:        cache,
		logger:       util.GetLogger(),
		siteCurrency: siteCurrency,
		redirectBase: strings.TrimRight(redirectBase, "/"),
	}
}

// ConfirmRequest is the client's assertion that a provider payment completed.
// The amount is structural input only; it is never trusted for reconciliation.
type ConfirmRequest struct {
	UserID     int64  `json:"-"`
	OrderID    string `json:"order_id" binding:"required"`
	PayerID    string `json:"payer_id" binding:"required"`
	CourseCode string `json:"course_code" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Currency   string `json:"currency"`
	Method     string `json:"method"`
}

// ConfirmResponse is returned on success, including idempotent replays.
type ConfirmResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Confirm runs the confirmation flow: validate, short-circuit replays, resolve
// the authoritative price, verify against the provider, reconcile amount and
// currency, then commit the ledger row and the enrollment in one transaction.
// Every rejection leaves the store untouched.
func (s *ConfirmationService) Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error) {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.Confirm")
	defer span.End()

	util.ConfirmationsTotal.Inc()

	// Structural validation. No reads or writes happen before this passes.
	if err := s.validate(req); err != nil {
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindValidation)).Inc()
		return nil, err
	}

	// Idempotency short-circuit: a completed row already owns this order id.
	existing, err := s.ledger.GetPaymentByReference(ctx, req.OrderID)
	if err != nil {
		return nil, s.storageErr("failed to check for existing payment", err)
	}
	if existing != nil && existing.State == models.PaymentStateCompleted {
		util.ConfirmationReplaysTotal.Inc()
		s.logger.Info("Duplicate confirmation replayed",
			zap.String("order_id", req.OrderID),
			zap.Int64("payment_id", existing.ID))
		return s.replayResponse(existing.CourseCode), nil
	}

	// Authoritative price: a stored pending row (set at checkout after coupon
	// validation) wins over the course list price. The client amount is ignored.
	course, err := s.ledger.GetCourseByCode(ctx, req.CourseCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.ConfirmationsRejectedTotal.WithLabelValues(string(KindValidation)).Inc()
			return nil, newError(KindValidation, fmt.Sprintf("unknown course %q", req.CourseCode), false, nil)
		}
		return nil, s.storageErr("failed to load course", err)
	}

	pending, err := s.ledger.GetPendingPayment(ctx, req.UserID, req.CourseCode)
	if err != nil {
		return nil, s.storageErr("failed to load pending payment", err)
	}

	expectedAmount, expectedCurrency := course.Price, course.Currency
	if expectedCurrency == "" {
		expectedCurrency = s.siteCurrency
	}
	if pending != nil {
		expectedAmount, expectedCurrency = pending.Amount, pending.Currency
	}

	// Token acquisition and verification happen outside any transaction and
	// under the request's deadline only.
	token, err := s.provider.GetAccessToken(ctx)
	if err != nil {
		kind := KindProviderUnavailable
		if errors.Is(err, provider.ErrConfiguration) {
			kind = KindConfiguration
		}
		util.ConfirmationsRejectedTotal.WithLabelValues(string(kind)).Inc()
		return nil, newError(kind, "could not reach payment provider", kind == KindProviderUnavailable, err)
	}

	result := s.provider.VerifyOrder(ctx, req.OrderID, token)
	if !result.Verified {
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindVerificationFailure)).Inc()
		s.logger.Warn("Provider verification failed",
			zap.String("order_id", req.OrderID),
			zap.String("reason", result.Reason))
		return nil, newError(KindVerificationFailure,
			fmt.Sprintf("payment not verified: %s", result.Reason), true, nil)
	}

	// Reconciliation: exact decimal equality against the authoritative price.
	// The provider's number is never corrected, the expectation never relaxed.
	providerAmount, err := decimal.NewFromString(result.Amount)
	if err != nil {
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindVerificationFailure)).Inc()
		return nil, newError(KindVerificationFailure,
			fmt.Sprintf("provider reported unparsable amount %q", result.Amount), false, nil)
	}
	if !providerAmount.Equal(expectedAmount) {
		util.ReconciliationMismatchTotal.WithLabelValues("amount").Inc()
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindReconciliationMismatch)).Inc()
		s.logger.Warn("Amount mismatch, confirmation rejected",
			zap.String("order_id", req.OrderID),
			zap.String("expected", expectedAmount.String()),
			zap.String("reported", providerAmount.String()))
		return nil, newError(KindReconciliationMismatch,
			fmt.Sprintf("amount mismatch: expected %s, provider reported %s",
				expectedAmount.String(), providerAmount.String()), false, nil)
	}
	if !strings.EqualFold(result.Currency, expectedCurrency) {
		util.ReconciliationMismatchTotal.WithLabelValues("currency").Inc()
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindReconciliationMismatch)).Inc()
		return nil, newError(KindReconciliationMismatch,
			fmt.Sprintf("currency mismatch: expected %s, provider reported %s",
				expectedCurrency, result.Currency), false, nil)
	}

	// Status gate: only the provider's canonical success status passes.
	if !strings.EqualFold(result.Status, models.ProviderStatusCompleted) {
		util.ConfirmationsRejectedTotal.WithLabelValues(string(KindVerificationFailure)).Inc()
		return nil, newError(KindVerificationFailure,
			fmt.Sprintf("payment status is %s, not %s", result.Status, models.ProviderStatusCompleted), true, nil)
	}

	params := store.CompletePaymentParams{
		UserID:     req.UserID,
		CourseCode: req.CourseCode,
		Amount:     expectedAmount,
		Currency:   expectedCurrency,
		Method:     req.Method,
		Reference:  req.OrderID,
		PayerID:    result.PayerID,
		Payload:    result.Raw,
	}
	if params.Method == "" {
		params.Method = "paypal"
	}
	if pending != nil {
		params.PaymentID = pending.ID
	}

	payment, enrollment, err := s.ledger.CompletePaymentTx(ctx, params)
	if errors.Is(err, store.ErrDuplicateReference) {
		// A concurrent confirmation won the unique-reference race. Converge on
		// the winner's result instead of failing the client.
		winner, rerr := s.ledger.GetPaymentByReference(ctx, req.OrderID)
		if rerr == nil && winner != nil && winner.State == models.PaymentStateCompleted {
			util.ConfirmationReplaysTotal.Inc()
			return s.replayResponse(winner.CourseCode), nil
		}
		return nil, s.storageErr("conflicting confirmation in flight", err)
	}
	if err != nil {
		return nil, s.storageErr("failed to commit confirmation", err)
	}

	util.ConfirmationsAcceptedTotal.Inc()
	util.EnrollmentsActivatedTotal.Inc()
	s.logger.Info("Payment confirmed, enrollment activated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("course_code", req.CourseCode),
		zap.String("order_id", req.OrderID))

	if s.cache != nil {
		if err := s.cache.InvalidatePaymentStatus(ctx, req.UserID, req.CourseCode); err != nil {
			s.logger.Warn("Failed to invalidate status cache", zap.Error(err))
		}
	}

	s.publishCommitEvents(ctx, payment, enrollment)

	return &ConfirmResponse{
		Success:     true,
		Message:     "payment confirmed, course access activated",
		RedirectURL: s.courseRedirect(req.CourseCode),
	}, nil
}

func (s *ConfirmationService) validate(req *ConfirmRequest) error {
	if req.UserID <= 0 {
		return newError(KindValidation, "missing user", false, nil)
	}
	if req.OrderID == "" {
		return newError(KindValidation, "missing order id", false, nil)
	}
	if req.PayerID == "" {
		return newError(KindValidation, "missing payer id", false, nil)
	}
	if req.CourseCode == "" {
		return newError(KindValidation, "missing course code", false, nil)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return newError(KindValidation, fmt.Sprintf("unparsable amount %q", req.Amount), false, nil)
	}
	if !amount.IsPositive() {
		return newError(KindValidation, "amount must be positive", false, nil)
	}
	return nil
}

func (s *ConfirmationService) replayResponse(courseCode string) *ConfirmResponse {
	return &ConfirmResponse{
		Success:     true,
		Message:     "payment already processed",
		RedirectURL: s.courseRedirect(courseCode),
	}
}

func (s *ConfirmationService) courseRedirect(courseCode string) string {
	return fmt.Sprintf("%s/%s/learn", s.redirectBase, courseCode)
}

func (s *ConfirmationService) storageErr(msg string, err error) error {
	util.ConfirmationsRejectedTotal.WithLabelValues(string(KindStorage)).Inc()
	return newError(KindStorage, msg, true, err)
}

func (s *ConfirmationService) publishCommitEvents(ctx context.Context, payment *models.PendingPayment, enrollment *models.Enrollment) {
	if s.events == nil {
		return
	}

	reference := ""
	if payment.Reference != nil {
		reference = *payment.Reference
	}

	paid := &models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentCompleted,
			Timestamp: time.Now(),
		},
		PaymentID:  payment.ID,
		UserID:     payment.UserID,
		CourseCode: payment.CourseCode,
		Amount:     payment.Amount.String(),
		Currency:   payment.Currency,
		Reference:  reference,
		PayerID:    payment.PayerID,
	}
	if err := s.events.PublishPaymentCompleted(ctx, paid); err != nil {
		s.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}

	activated := &models.EnrollmentActivatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeEnrollmentActivated,
			Timestamp: time.Now(),
		},
		UserID:     enrollment.UserID,
		CourseCode: enrollment.CourseCode,
		PaymentID:  payment.ID,
	}
	if err := s.events.PublishEnrollmentActivated(ctx, activated); err != nil {
		s.logger.Error("Failed to publish EnrollmentActivated event", zap.Error(err))
	}
}

// PaymentStatusResponse is a read-only projection of the ledger for one
// (user, course) pair.
type PaymentStatusResponse struct {
	CourseCode   string                  `json:"course_code"`
	CoursePaid   bool                    `json:"course_paid"`
	CoursePrice  decimal.Decimal         `json:"course_price"`
	Enrolled     bool                    `json:"enrolled"`
	Payments     []models.PendingPayment `json:"payments"`
	SiteCurrency string                  `json:"site_currency"`
}

// PaymentStatus reports the caller's payment and enrollment state for a course.
func (s *ConfirmationService) PaymentStatus(ctx context.Context, userID int64, courseCode string) (*PaymentStatusResponse, error) {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.PaymentStatus")
	defer span.End()

	if s.cache != nil {
		if data, err := s.cache.GetPaymentStatus(ctx, userID, courseCode); err == nil && data != nil {
			var cached PaymentStatusResponse
			if json.Unmarshal(data, &cached) == nil {
				return &cached, nil
			}
		}
	}

	course, err := s.ledger.GetCourseByCode(ctx, courseCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, fmt.Sprintf("unknown course %q", courseCode), false, nil)
		}
		return nil, s.storageErr("failed to load course", err)
	}

	payments, err := s.ledger.ListPaymentsByUserCourse(ctx, userID, courseCode)
	if err != nil {
		return nil, s.storageErr("failed to list payments", err)
	}

	enrollment, err := s.ledger.GetEnrollment(ctx, userID, courseCode)
	if err != nil {
		return nil, s.storageErr("failed to load enrollment", err)
	}

	paid := false
	for _, p := range payments {
		if p.State == models.PaymentStateCompleted {
			paid = true
			break
		}
	}

	resp := &PaymentStatusResponse{
		CourseCode:   courseCode,
		CoursePaid:   paid,
		CoursePrice:  course.Price,
		Enrolled:     enrollment != nil && enrollment.Active,
		Payments:     payments,
		SiteCurrency: s.siteCurrency,
	}

	if s.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.cache.SetPaymentStatus(ctx, userID, courseCode, data, statusCacheTTL); err != nil {
				s.logger.Warn("Failed to cache payment status", zap.Error(err))
			}
		}
	}

	return resp, nil
}
