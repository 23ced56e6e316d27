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

// EnrollmentService grants course access. Activation is idempotent: an
// existing active enrollment is returned unchanged, and nothing here ever
// deactivates one.
type EnrollmentService struct {
	ledger Ledger
	logger *zap.Logger
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(ledger Ledger) *EnrollmentService {
	return &EnrollmentService{
		ledger: ledger,
		logger: util.GetLogger(),
	}
}

// Activate grants (or re-confirms) access to a course for a user.
func (es *EnrollmentService) Activate(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Activate")
	defer span.End()

	existing, err := es.ledger.GetEnrollment(ctx, userID, courseCode)
	if err != nil {
		return nil, newError(KindStorage, "failed to load enrollment", true, err)
	}
	if existing != nil && existing.Active {
		return existing, nil
	}

	enrollment, err := es.ledger.UpsertEnrollment(ctx, userID, courseCode)
	if err != nil {
		return nil, newError(KindStorage, "failed to activate enrollment", true, err)
	}

	util.EnrollmentsActivatedTotal.Inc()
	es.logger.Info("Enrollment activated",
		zap.Int64("user_id", userID),
		zap.String("course_code", courseCode))

	return enrollment, nil
}

// EnrollFree grants access to a zero-price course directly. Paid courses must
// go through the confirmation flow; asking for one here is rejected.
func (es *EnrollmentService) EnrollFree(ctx context.Context, userID int64, courseCode string) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.EnrollFree")
	defer span.End()

	if userID <= 0 || courseCode == "" {
		return nil, newError(KindValidation, "missing user or course", false, nil)
	}

	course, err := es.ledger.GetCourseByCode(ctx, courseCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindValidation, fmt.Sprintf("unknown course %q", courseCode), false, nil)
		}
		return nil, newError(KindStorage, "failed to load course", true, err)
	}
	if !course.Price.IsZero() {
		return nil, newError(KindValidation,
			fmt.Sprintf("course %q is paid; confirmation required", courseCode), false, nil)
	}

	return es.Activate(ctx, userID, courseCode)
}
