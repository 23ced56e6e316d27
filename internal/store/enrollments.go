package store

import (
	"context"
	"database/sql"

	"enrollment-service/internal/models"
)

// GetEnrollment retrieves the enrollment for (user, course).
// Returns (nil, nil) when none exists.
func (s *Store) GetEnrollment(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := s.db.GetContext(ctx, &enrollment,
		"SELECT * FROM enrollments WHERE user_id = $1 AND course_code = $2",
		userID, courseCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// UpsertEnrollment activates the enrollment for (user, course), creating it if
// absent. Never deactivates and never duplicates; an existing active row is
// returned unchanged.
func (s *Store) UpsertEnrollment(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := s.db.GetContext(ctx, &enrollment, `
		INSERT INTO enrollments (user_id, course_code, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (user_id, course_code) DO UPDATE SET active = TRUE
		RETURNING *`,
		userID, courseCode)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListEnrollmentsByUser retrieves all enrollments for a user.
func (s *Store) ListEnrollmentsByUser(ctx context.Context, userID int64) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.SelectContext(ctx, &enrollments,
		"SELECT * FROM enrollments WHERE user_id = $1 ORDER BY granted_at DESC", userID)
	return enrollments, err
}
