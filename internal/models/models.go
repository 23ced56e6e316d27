package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Course is the catalog view this service needs: code, list price, currency.
type Course struct {
	ID        int64           `db:"id" json:"id"`
	Code      string          `db:"code" json:"code"`
	Title     string          `db:"title" json:"title"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Currency  string          `db:"currency" json:"currency"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PendingPayment is one purchase attempt. Rows are never deleted; a row moves
// pending -> completed exactly once and keeps the raw provider payload for audit.
type PendingPayment struct {
	ID         int64           `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	CourseCode string          `db:"course_code" json:"course_code"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Currency   string          `db:"currency" json:"currency"`
	Method     string          `db:"method" json:"method"`
	// Provider order id; unique across all rows once set.
	Reference           *string        `db:"reference" json:"reference,omitempty"`
	PayerID             string         `db:"payer_id" json:"payer_id,omitempty"`
	State               string         `db:"state" json:"state"`
	Note                string         `db:"note" json:"note,omitempty"`
	VerificationPayload types.JSONText `db:"verification_payload" json:"verification_payload,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// Enrollment represents active access to a course for a user.
type Enrollment struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	CourseCode string    `db:"course_code" json:"course_code"`
	Active     bool      `db:"active" json:"active"`
	GrantedAt  time.Time `db:"granted_at" json:"granted_at"`
}

// ProviderCredentials is the singleton credential row administered externally.
// Secrets are AES-GCM encrypted; this service only ever reads them.
type ProviderCredentials struct {
	ID               int64     `db:"id" json:"-"`
	Enabled          bool      `db:"enabled" json:"enabled"`
	Sandbox          bool      `db:"sandbox" json:"sandbox"`
	ClientID         string    `db:"client_id" json:"-"`
	SecretEnc        string    `db:"secret_enc" json:"-"`
	SandboxClientID  string    `db:"sandbox_client_id" json:"-"`
	SandboxSecretEnc string    `db:"sandbox_secret_enc" json:"-"`
	UpdatedAt        time.Time `db:"updated_at" json:"-"`
}

// Payment states
const (
	PaymentStatePending   = "pending"
	PaymentStateCompleted = "completed"
)

// ProviderStatusCompleted is the provider's canonical success status for an order.
const ProviderStatusCompleted = "COMPLETED"

// ProcessedEvent for consumer-side idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
