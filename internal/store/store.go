package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"learnhub/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

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

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when no user
// matches so callers can distinguish absence from infrastructure failure.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetCourseByID retrieves a course by ID
func (s *Store) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetCourseBySlug retrieves a course by slug
func (s *Store) GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// GetCoursesByIDs retrieves multiple courses by IDs
func (s *Store) GetCoursesByIDs(ctx context.Context, ids []int64) ([]models.Course, error) {
	if len(ids) == 0 {
		return []models.Course{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM courses WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var courses []models.Course
	err = s.db.SelectContext(ctx, &courses, query, args...)
	return courses, err
}

// CreateCourse inserts a new course
func (s *Store) CreateCourse(ctx context.Context, course *models.Course) error {
	query := `
		INSERT INTO courses (course_name, description, price, sale_type, sale_value,
			sale_start_date, sale_end_date, status, slug, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, course, query,
		course.CourseName, course.Description, course.Price,
		course.SaleType, course.SaleValue, course.SaleStartDate, course.SaleEndDate,
		course.Status, course.Slug, course.CreatedBy)
}

// UpdateCourse updates an existing course
func (s *Store) UpdateCourse(ctx context.Context, course *models.Course) error {
	query := `
		UPDATE courses
		SET course_name = $1, description = $2, price = $3, sale_type = $4,
			sale_value = $5, sale_start_date = $6, sale_end_date = $7,
			status = $8, slug = $9, updated_at = NOW()
		WHERE id = $10
		RETURNING updated_at`

	return s.db.GetContext(ctx, &course.UpdatedAt, query,
		course.CourseName, course.Description, course.Price,
		course.SaleType, course.SaleValue, course.SaleStartDate, course.SaleEndDate,
		course.Status, course.Slug, course.ID)
}

// CourseSlugExists reports whether another course already uses the slug.
// Course slugs are globally scoped.
func (s *Store) CourseSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM courses WHERE slug = $1 AND id <> $2)",
		slug, excludeID)
	return exists, err
}
