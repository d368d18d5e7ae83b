package service

import (
	"context"
	"fmt"
	"time"

	"learnhub/internal/models"
	"learnhub/internal/util"

	"go.uber.org/zap"
)

// EnrollmentStore is the persistence surface the enrollment views need
type EnrollmentStore interface {
	ListEnrollmentsByUserID(ctx context.Context, userID int64) ([]models.Enrollment, error)
	GetCoursesByIDs(ctx context.Context, ids []int64) ([]models.Course, error)
	EnrollmentExists(ctx context.Context, userID, courseID int64) (bool, error)
}

// EnrollmentService serves ownership queries for the authenticated user
type EnrollmentService struct {
	store  EnrollmentStore
	logger *zap.Logger
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(store EnrollmentStore) *EnrollmentService {
	return &EnrollmentService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// OwnedCourse pairs a course with when the user gained access to it
type OwnedCourse struct {
	Course     models.Course `json:"course"`
	EnrolledAt time.Time     `json:"enrolledAt"`
}

// ListMyCourses returns every course the user is enrolled in, newest first
func (s *EnrollmentService) ListMyCourses(ctx context.Context, userID int64) ([]OwnedCourse, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.ListMyCourses")
	defer span.End()

	enrollments, err := s.store.ListEnrollmentsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	ids := make([]int64, 0, len(enrollments))
	enrolledAt := make(map[int64]time.Time, len(enrollments))
	for _, e := range enrollments {
		if e.CourseID == nil {
			continue
		}
		ids = append(ids, *e.CourseID)
		enrolledAt[*e.CourseID] = e.CreatedAt
	}
	if len(ids) == 0 {
		return []OwnedCourse{}, nil
	}

	courses, err := s.store.GetCoursesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}

	owned := make([]OwnedCourse, 0, len(courses))
	for _, c := range courses {
		owned = append(owned, OwnedCourse{Course: c, EnrolledAt: enrolledAt[c.ID]})
	}
	return owned, nil
}

// OwnsCourse reports whether the user has an enrollment for the course
func (s *EnrollmentService) OwnsCourse(ctx context.Context, userID, courseID int64) (bool, error) {
	return s.store.EnrollmentExists(ctx, userID, courseID)
}
