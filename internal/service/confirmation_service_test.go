package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"enrollment-service/internal/models"
	"enrollment-service/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmReq(userID int64, orderID, course, amount string) *ConfirmRequest {
	return &ConfirmRequest{
		UserID:     userID,
		OrderID:    orderID,
		PayerID:    "PAYER-7",
		CourseCode: course,
		Amount:     amount,
		Currency:   "USD",
	}
}

func TestConfirmHappyPath(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "PAYER-7")}
	svc, events := newTestService(ledger, prov)

	resp, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Contains(t, resp.RedirectURL, "PAID001")

	assert.Equal(t, 1, ledger.completedCount("ORD-1"))
	assert.Equal(t, 1, ledger.enrollmentCount())

	enrollment, err := ledger.GetEnrollment(context.Background(), 42, "PAID001")
	require.NoError(t, err)
	require.NotNil(t, enrollment)
	assert.True(t, enrollment.Active)

	payment, err := ledger.GetPaymentByReference(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStateCompleted, payment.State)
	assert.Equal(t, "PAYER-7", payment.PayerID)
	assert.NotEmpty(t, payment.VerificationPayload)

	require.Len(t, events.completed, 1)
	assert.Equal(t, "ORD-1", events.completed[0].Reference)
	require.Len(t, events.enrollments, 1)
}

func TestConfirmIdempotentReplay(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "PAYER-7")}
	svc, _ := newTestService(ledger, prov)

	first, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Contains(t, second.Message, "already processed")
	assert.Equal(t, first.RedirectURL, second.RedirectURL)

	// No re-verification and no second row or enrollment.
	assert.Equal(t, 1, prov.calls())
	assert.Equal(t, 1, ledger.completedCount("ORD-1"))
	assert.Equal(t, 1, ledger.enrollmentCount())
}

func TestConfirmValidationFailureMutatesNothing(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "PAYER-7")}
	svc, _ := newTestService(ledger, prov)

	cases := map[string]*ConfirmRequest{
		"missing amount":   {UserID: 42, OrderID: "ORD-1", PayerID: "P", CourseCode: "PAID001"},
		"bad amount":       {UserID: 42, OrderID: "ORD-1", PayerID: "P", CourseCode: "PAID001", Amount: "ninety"},
		"negative amount":  {UserID: 42, OrderID: "ORD-1", PayerID: "P", CourseCode: "PAID001", Amount: "-5.00"},
		"missing order":    {UserID: 42, PayerID: "P", CourseCode: "PAID001", Amount: "99.99"},
		"missing payer":    {UserID: 42, OrderID: "ORD-1", CourseCode: "PAID001", Amount: "99.99"},
		"missing course":   {UserID: 42, OrderID: "ORD-1", PayerID: "P", Amount: "99.99"},
		"missing user":     {OrderID: "ORD-1", PayerID: "P", CourseCode: "PAID001", Amount: "99.99"},
	}

	for name, req := range cases {
		_, err := svc.Confirm(context.Background(), req)
		require.Error(t, err, name)
		assert.Equal(t, KindValidation, KindOf(err), name)
	}

	assert.Equal(t, 0, ledger.paymentCount())
	assert.Equal(t, 0, ledger.enrollmentCount())
	assert.Equal(t, 0, prov.calls())
}

func TestConfirmUnknownCourse(t *testing.T) {
	ledger := newFakeLedger()
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "NOPE", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, prov.calls())
}

func TestConfirmAmountMismatch(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "100.00", "USD")
	prov := &fakeProvider{result: verifiedResult("50.00", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "100.00"))
	require.Error(t, err)
	assert.Equal(t, KindReconciliationMismatch, KindOf(err))
	assert.False(t, IsRetryable(err))

	assert.Equal(t, 0, ledger.paymentCount())
	assert.Equal(t, 0, ledger.enrollmentCount())
}

func TestConfirmCouponPrecedence(t *testing.T) {
	// Pending row stores a coupon-discounted 79.99 against a 99.99 list price.
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	ledger.addPending(42, "PAID001", "79.99", "USD")
	prov := &fakeProvider{result: verifiedResult("79.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	resp, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "79.99"))
	require.NoError(t, err)
	assert.True(t, resp.Success)

	payment, err := ledger.GetPaymentByReference(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("79.99")))
}

func TestConfirmCouponPrecedenceListPriceRejected(t *testing.T) {
	// Provider settled the list price but the stored discounted price is
	// authoritative; the expectation is never relaxed to match the provider.
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	ledger.addPending(42, "PAID001", "79.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindReconciliationMismatch, KindOf(err))
	assert.Equal(t, 0, ledger.enrollmentCount())
}

func TestConfirmScaleInsensitiveEquality(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "79.9", "USD")
	prov := &fakeProvider{result: verifiedResult("79.90", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	resp, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "79.90"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestConfirmCurrencyMismatch(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "EUR", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindReconciliationMismatch, KindOf(err))
	assert.Equal(t, 0, ledger.enrollmentCount())
}

func TestConfirmStatusGate(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "PENDING", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindVerificationFailure, KindOf(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 0, ledger.paymentCount())
}

func TestConfirmVerificationFailed(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: provider.VerificationResult{Reason: "provider returned 404"}}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindVerificationFailure, KindOf(err))
	assert.Contains(t, err.Error(), "provider returned 404")
	assert.Equal(t, 0, ledger.enrollmentCount())
}

func TestConfirmTokenErrors(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")

	configProv := &fakeProvider{tokenErr: provider.ErrConfiguration}
	svc, _ := newTestService(ledger, configProv)
	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.False(t, IsRetryable(err))

	downProv := &fakeProvider{tokenErr: provider.ErrUnavailable}
	svc, _ = newTestService(ledger, downProv)
	_, err = svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindProviderUnavailable, KindOf(err))
	assert.True(t, IsRetryable(err))

	assert.Equal(t, 0, ledger.paymentCount())
}

func TestConfirmStorageFailureIsRetryable(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	ledger.completeErr = errors.New("connection reset")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	_, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.True(t, IsRetryable(err))

	// Full rollback: nothing observable.
	assert.Equal(t, 0, ledger.completedCount("ORD-1"))
	assert.Equal(t, 0, ledger.enrollmentCount())

	// A retry after the store recovers succeeds.
	ledger.completeErr = nil
	resp, err := svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestConfirmConcurrentDuplicates(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	ledger.addPending(42, "PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	const workers = 8
	var wg sync.WaitGroup
	responses := make([]*ConfirmResponse, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
		}(i)
	}
	wg.Wait()

	// Idempotent convergence: every caller sees the same success payload.
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, responses[i].Success)
		assert.Contains(t, responses[i].RedirectURL, "PAID001")
	}

	assert.Equal(t, 1, ledger.completedCount("ORD-1"))
	assert.Equal(t, 1, ledger.enrollmentCount())
}

func TestPaymentStatus(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	prov := &fakeProvider{result: verifiedResult("99.99", "USD", "COMPLETED", "P")}
	svc, _ := newTestService(ledger, prov)

	before, err := svc.PaymentStatus(context.Background(), 42, "PAID001")
	require.NoError(t, err)
	assert.False(t, before.CoursePaid)
	assert.False(t, before.Enrolled)
	assert.Empty(t, before.Payments)
	assert.Equal(t, "USD", before.SiteCurrency)
	assert.True(t, before.CoursePrice.Equal(decimal.RequireFromString("99.99")))

	_, err = svc.Confirm(context.Background(), confirmReq(42, "ORD-1", "PAID001", "99.99"))
	require.NoError(t, err)

	after, err := svc.PaymentStatus(context.Background(), 42, "PAID001")
	require.NoError(t, err)
	assert.True(t, after.CoursePaid)
	assert.True(t, after.Enrolled)
	require.Len(t, after.Payments, 1)
	assert.Equal(t, models.PaymentStateCompleted, after.Payments[0].State)
}

func TestPaymentStatusUnknownCourse(t *testing.T) {
	svc, _ := newTestService(newFakeLedger(), &fakeProvider{})

	_, err := svc.PaymentStatus(context.Background(), 42, "NOPE")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestBeginCheckout(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("PAID001", "99.99", "USD")
	svc, _ := newTestService(ledger, &fakeProvider{})

	payment, err := svc.BeginCheckout(context.Background(), 42, "PAID001", "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatePending, payment.State)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("99.99")))
	assert.Equal(t, "paypal", payment.Method)

	// A second checkout reuses the open row.
	again, err := svc.BeginCheckout(context.Background(), 42, "PAID001", "")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, again.ID)
	assert.Equal(t, 1, ledger.paymentCount())
}

func TestBeginCheckoutRejectsUnknownAndFree(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addCourse("FREE001", "0", "USD")
	svc, _ := newTestService(ledger, &fakeProvider{})

	_, err := svc.BeginCheckout(context.Background(), 42, "NOPE", "")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.BeginCheckout(context.Background(), 42, "FREE001", "")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}
