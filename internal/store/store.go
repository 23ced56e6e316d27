package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a required row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateReference is returned when a commit loses the race on the unique
// provider-reference index. The caller re-reads and converges on the winner's result.
var ErrDuplicateReference = errors.New("provider reference already claimed")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. Statements are idempotent (IF NOT EXISTS).
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetCourseByCode retrieves a course by its public code.
func (s *Store) GetCourseByCode(ctx context.Context, code string) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetProviderCredentials retrieves the provider credential singleton.
func (s *Store) GetProviderCredentials(ctx context.Context) (*models.ProviderCredentials, error) {
	var creds models.ProviderCredentials
	err := s.db.GetContext(ctx, &creds, "SELECT * FROM provider_credentials WHERE id = 1")
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("provider credentials: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
