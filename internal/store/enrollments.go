package store

import (
	"context"

	"learnhub/internal/models"

	"github.com/jmoiron/sqlx"
)

// EnrollmentExists reports whether the user already owns the course
func (s *Store) EnrollmentExists(ctx context.Context, userID, courseID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2)",
		userID, courseID)
	return exists, err
}

// GrantEnrollment inserts an enrollment if one does not already exist.
// The unique (user_id, course_id) index is the real guarantee; the returned
// bool reports whether a row was actually created, so redelivered webhooks
// are harmless.
func (s *Store) GrantEnrollment(ctx context.Context, userID, courseID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (user_id, course_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, course_id) DO NOTHING`,
		userID, courseID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListOwnedCourseIDsIn returns the subset of courseIDs the user already owns.
// Used by checkout to exclude already-owned courses from the order.
func (s *Store) ListOwnedCourseIDsIn(ctx context.Context, userID int64, courseIDs []int64) ([]int64, error) {
	if len(courseIDs) == 0 {
		return []int64{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT course_id FROM enrollments WHERE user_id = ? AND course_id IN (?)",
		userID, courseIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var ids []int64
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// ListEnrollmentsByUserID retrieves the user's enrollments
func (s *Store) ListEnrollmentsByUserID(ctx context.Context, userID int64) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := s.db.SelectContext(ctx, &enrollments,
		"SELECT * FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return enrollments, err
}
