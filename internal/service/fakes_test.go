package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/provider"
	"enrollment-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeLedger is an in-memory Ledger. Its CompletePaymentTx holds one mutex for
// the whole call, mirroring the all-or-nothing transaction of the real store,
// and enforces the unique-reference rule the same way.
type fakeLedger struct {
	mu          sync.Mutex
	courses     map[string]models.Course
	payments    map[int64]*models.PendingPayment
	enrollments map[string]*models.Enrollment
	nextID      int64
	completeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		courses:     make(map[string]models.Course),
		payments:    make(map[int64]*models.PendingPayment),
		enrollments: make(map[string]*models.Enrollment),
	}
}

func (f *fakeLedger) addCourse(code, price, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.courses[code] = models.Course{
		ID:       f.nextID,
		Code:     code,
		Price:    decimal.RequireFromString(price),
		Currency: currency,
		Active:   true,
	}
}

func (f *fakeLedger) addPending(userID int64, code, amount, currency string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.payments[f.nextID] = &models.PendingPayment{
		ID:         f.nextID,
		UserID:     userID,
		CourseCode: code,
		Amount:     decimal.RequireFromString(amount),
		Currency:   currency,
		Method:     "paypal",
		State:      models.PaymentStatePending,
		CreatedAt:  time.Now(),
	}
	return f.nextID
}

func (f *fakeLedger) paymentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payments)
}

func (f *fakeLedger) completedCount(reference string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.payments {
		if p.State == models.PaymentStateCompleted && p.Reference != nil && *p.Reference == reference {
			n++
		}
	}
	return n
}

func (f *fakeLedger) enrollmentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enrollments)
}

func (f *fakeLedger) GetCourseByCode(_ context.Context, code string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[code]
	if !ok {
		return nil, fmt.Errorf("course %s: %w", code, store.ErrNotFound)
	}
	return &course, nil
}

func (f *fakeLedger) CreatePendingPayment(_ context.Context, payment *models.PendingPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	payment.ID = f.nextID
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	clone := *payment
	f.payments[payment.ID] = &clone
	return nil
}

func (f *fakeLedger) GetPaymentByReference(_ context.Context, reference string) (*models.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.Reference != nil && *p.Reference == reference {
			clone := *p
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) GetPendingPayment(_ context.Context, userID int64, courseCode string) (*models.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *models.PendingPayment
	for _, p := range f.payments {
		if p.UserID == userID && p.CourseCode == courseCode && p.State == models.PaymentStatePending {
			if newest == nil || p.ID > newest.ID {
				newest = p
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	clone := *newest
	return &clone, nil
}

func (f *fakeLedger) GetPendingPaymentByID(_ context.Context, id int64) (*models.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("pending payment %d: %w", id, store.ErrNotFound)
	}
	clone := *p
	return &clone, nil
}

func (f *fakeLedger) ListPendingByUser(_ context.Context, userID int64) ([]models.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingPayment
	for _, p := range f.payments {
		if p.UserID == userID && p.State == models.PaymentStatePending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListPaymentsByUserCourse(_ context.Context, userID int64, courseCode string) ([]models.PendingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingPayment
	for _, p := range f.payments {
		if p.UserID == userID && p.CourseCode == courseCode {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeLedger) CompletePaymentTx(_ context.Context, p store.CompletePaymentParams) (*models.PendingPayment, *models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completeErr != nil {
		return nil, nil, f.completeErr
	}

	for _, existing := range f.payments {
		if existing.Reference != nil && *existing.Reference == p.Reference {
			return nil, nil, store.ErrDuplicateReference
		}
	}

	var payment *models.PendingPayment
	if p.PaymentID != 0 {
		row, ok := f.payments[p.PaymentID]
		if !ok || row.State != models.PaymentStatePending {
			return nil, nil, store.ErrDuplicateReference
		}
		ref := p.Reference
		row.State = models.PaymentStateCompleted
		row.Reference = &ref
		row.PayerID = p.PayerID
		row.VerificationPayload = p.Payload
		row.UpdatedAt = time.Now()
		payment = row
	} else {
		f.nextID++
		ref := p.Reference
		payment = &models.PendingPayment{
			ID:                  f.nextID,
			UserID:              p.UserID,
			CourseCode:          p.CourseCode,
			Amount:              p.Amount,
			Currency:            p.Currency,
			Method:              p.Method,
			Reference:           &ref,
			PayerID:             p.PayerID,
			State:               models.PaymentStateCompleted,
			Note:                p.Note,
			VerificationPayload: p.Payload,
			CreatedAt:           time.Now(),
			UpdatedAt:           time.Now(),
		}
		f.payments[payment.ID] = payment
	}

	key := enrollKey(p.UserID, p.CourseCode)
	enrollment, ok := f.enrollments[key]
	if !ok {
		f.nextID++
		enrollment = &models.Enrollment{
			ID:         f.nextID,
			UserID:     p.UserID,
			CourseCode: p.CourseCode,
			Active:     true,
			GrantedAt:  time.Now(),
		}
		f.enrollments[key] = enrollment
	}
	enrollment.Active = true

	pc, ec := *payment, *enrollment
	return &pc, &ec, nil
}

func (f *fakeLedger) GetEnrollment(_ context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollKey(userID, courseCode)]
	if !ok {
		return nil, nil
	}
	clone := *e
	return &clone, nil
}

func (f *fakeLedger) UpsertEnrollment(_ context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := enrollKey(userID, courseCode)
	e, ok := f.enrollments[key]
	if !ok {
		f.nextID++
		e = &models.Enrollment{
			ID:         f.nextID,
			UserID:     userID,
			CourseCode: courseCode,
			Active:     true,
			GrantedAt:  time.Now(),
		}
		f.enrollments[key] = e
	}
	e.Active = true
	clone := *e
	return &clone, nil
}

func enrollKey(userID int64, courseCode string) string {
	return fmt.Sprintf("%d:%s", userID, courseCode)
}

// fakeProvider returns canned verification results and counts lookups.
type fakeProvider struct {
	mu          sync.Mutex
	token       string
	tokenErr    error
	result      provider.VerificationResult
	verifyCalls int
}

func (f *fakeProvider) GetAccessToken(_ context.Context) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	if f.token == "" {
		return "test-token", nil
	}
	return f.token, nil
}

func (f *fakeProvider) VerifyOrder(_ context.Context, _, _ string) provider.VerificationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.result
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

func verifiedResult(amount, currency, status, payerID string) provider.VerificationResult {
	raw, _ := json.Marshal(map[string]string{"status": status, "amount": amount})
	return provider.VerificationResult{
		Verified: true,
		Status:   status,
		Amount:   amount,
		Currency: currency,
		PayerID:  payerID,
		Raw:      raw,
	}
}

// fakeEvents records published events.
type fakeEvents struct {
	mu          sync.Mutex
	completed   []*models.PaymentCompletedEvent
	enrollments []*models.EnrollmentActivatedEvent
}

func (f *fakeEvents) PublishPaymentCompleted(_ context.Context, event *models.PaymentCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, event)
	return nil
}

func (f *fakeEvents) PublishEnrollmentActivated(_ context.Context, event *models.EnrollmentActivatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments = append(f.enrollments, event)
	return nil
}

func newTestService(ledger *fakeLedger, prov *fakeProvider) (*ConfirmationService, *fakeEvents) {
	events := &fakeEvents{}
	svc := NewConfirmationService(ledger, prov, events, nil, "USD", "/courses")
	return svc, events
}
