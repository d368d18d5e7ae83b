// Package catalog owns the write path of the content models. Slug
// allocation and field-level validation happen here as explicit
// prepare-then-persist steps instead of storage lifecycle hooks, so the
// rules are testable without a database.
package catalog

import (
	"context"
	"net/http"
	"time"

	"learnhub/internal/apperr"
	"learnhub/internal/models"
	"learnhub/internal/slugger"
	"learnhub/internal/util"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Store is the persistence surface the catalog needs
type Store interface {
	CreateCourse(ctx context.Context, course *models.Course) error
	UpdateCourse(ctx context.Context, course *models.Course) error
	GetCourseByID(ctx context.Context, id int64) (*models.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error)
	CourseSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error)

	CreateChapter(ctx context.Context, chapter *models.Chapter) error
	UpdateChapter(ctx context.Context, chapter *models.Chapter) error
	GetChapterByID(ctx context.Context, id int64) (*models.Chapter, error)
	GetChaptersByCourseID(ctx context.Context, courseID int64) ([]models.Chapter, error)
	ChapterSlugExists(ctx context.Context, slug string, courseID, excludeID int64) (bool, error)

	CreateLecture(ctx context.Context, lecture *models.Lecture) error
	UpdateLecture(ctx context.Context, lecture *models.Lecture) error
	GetLectureByID(ctx context.Context, id int64) (*models.Lecture, error)
	LectureSlugExists(ctx context.Context, slug string, chapterID, excludeID int64) (bool, error)

	CreatePost(ctx context.Context, post *models.Post) error
	UpdatePost(ctx context.Context, post *models.Post) error
	GetPostByID(ctx context.Context, id int64) (*models.Post, error)
	GetPostBySlug(ctx context.Context, slug string) (*models.Post, error)
	PostSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error)
}

// CourseCache is the read-through cache for course lookups
type CourseCache interface {
	GetCourseByID(ctx context.Context, id int64) (*models.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error)
	SetCourse(ctx context.Context, course *models.Course, ttl time.Duration) error
	InvalidateCourse(ctx context.Context, id int64, slugs ...string) error
}

// Service handles catalog write and read operations
type Service struct {
	store    Store
	cache    CourseCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService creates a new catalog service. cache may be nil when Redis is
// not configured.
func NewService(store Store, cache CourseCache, cacheTTL time.Duration) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// CourseInput carries the client-writable course fields
type CourseInput struct {
	CourseName  string       `json:"course_name" binding:"required"`
	Description string       `json:"description"`
	Price       int64        `json:"price" binding:"min=0"`
	Sale        *models.Sale `json:"sale,omitempty"`
	Status      bool         `json:"status"`
}

func validateSale(sale *models.Sale) error {
	if sale == nil {
		return nil
	}
	if sale.Type != models.SaleTypePercent && sale.Type != models.SaleTypeFixed {
		return apperr.Validation("loại khuyến mãi không hợp lệ")
	}
	if sale.Value < 0 {
		return apperr.Validation("giá trị khuyến mãi không hợp lệ")
	}
	if sale.Type == models.SaleTypePercent && sale.Value > models.MaxPercentSaleValue {
		return apperr.Validation("giảm giá không được vượt quá 50%")
	}
	if sale.StartDate != nil && sale.EndDate != nil && sale.EndDate.Before(*sale.StartDate) {
		return apperr.Validation("thời gian khuyến mãi không hợp lệ")
	}
	return nil
}

func applySale(course *models.Course, sale *models.Sale) {
	if sale == nil {
		course.SaleType = nil
		course.SaleValue = nil
		course.SaleStartDate = nil
		course.SaleEndDate = nil
		return
	}
	course.SaleType = &sale.Type
	course.SaleValue = &sale.Value
	course.SaleStartDate = sale.StartDate
	course.SaleEndDate = sale.EndDate
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// CreateCourse validates the input, allocates a globally unique slug, and
// persists the course.
func (s *Service) CreateCourse(ctx context.Context, input CourseInput, createdBy int64) (*models.Course, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.CreateCourse")
	defer span.End()

	if err := validateSale(input.Sale); err != nil {
		return nil, err
	}

	course := &models.Course{
		CourseName:  input.CourseName,
		Description: input.Description,
		Price:       input.Price,
		Status:      input.Status,
		CreatedBy:   createdBy,
	}
	applySale(course, input.Sale)

	err := s.persistWithSlug(ctx, input.CourseName, func(slug string) error {
		course.Slug = slug
		return s.store.CreateCourse(ctx, course)
	}, func(ctx context.Context, slug string) (bool, error) {
		return s.store.CourseSlugExists(ctx, slug, 0)
	})
	if err != nil {
		return nil, err
	}
	return course, nil
}

// UpdateCourse applies the input to an existing course. The slug is
// reallocated only when the name actually changed; unmodified saves keep
// their URL.
func (s *Service) UpdateCourse(ctx context.Context, id int64, input CourseInput) (*models.Course, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.UpdateCourse")
	defer span.End()

	if err := validateSale(input.Sale); err != nil {
		return nil, err
	}

	course, err := s.store.GetCourseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("khóa học không tồn tại")
	}

	oldSlug := course.Slug
	nameChanged := input.CourseName != course.CourseName

	course.CourseName = input.CourseName
	course.Description = input.Description
	course.Price = input.Price
	course.Status = input.Status
	applySale(course, input.Sale)

	persist := func(slug string) error {
		if slug != "" {
			course.Slug = slug
		}
		return s.store.UpdateCourse(ctx, course)
	}

	if nameChanged {
		err = s.persistWithSlug(ctx, input.CourseName, persist, func(ctx context.Context, slug string) (bool, error) {
			return s.store.CourseSlugExists(ctx, slug, id)
		})
	} else {
		err = persist("")
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateCourse(ctx, course.ID, oldSlug, course.Slug); err != nil {
			s.logger.Warn("Failed to invalidate course cache",
				zap.Int64("course_id", course.ID), zap.Error(err))
		}
	}
	return course, nil
}

// GetCourseBySlug serves reads through the cache when one is configured
func (s *Service) GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCourseBySlug(ctx, slug)
		if err != nil {
			s.logger.Warn("Course cache read failed", zap.String("slug", slug), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	course, err := s.store.GetCourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("khóa học không tồn tại")
	}

	if s.cache != nil {
		if err := s.cache.SetCourse(ctx, course, s.cacheTTL); err != nil {
			s.logger.Warn("Course cache write failed", zap.String("slug", slug), zap.Error(err))
		}
	}
	return course, nil
}

// GetCourseOutline returns a course (resolved by slug) with its chapters
func (s *Service) GetCourseOutline(ctx context.Context, slug string) (*models.Course, []models.Chapter, error) {
	course, err := s.GetCourseBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	chapters, err := s.store.GetChaptersByCourseID(ctx, course.ID)
	if err != nil {
		return nil, nil, err
	}
	return course, chapters, nil
}

// CreateChapter allocates a slug unique within the parent course
func (s *Service) CreateChapter(ctx context.Context, courseID int64, name string, status bool) (*models.Chapter, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.CreateChapter")
	defer span.End()

	course, err := s.store.GetCourseByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, apperr.NotFound("khóa học không tồn tại")
	}

	chapter := &models.Chapter{
		ChapterName: name,
		CourseID:    courseID,
		Status:      status,
	}

	err = s.persistWithSlug(ctx, name, func(slug string) error {
		chapter.Slug = slug
		return s.store.CreateChapter(ctx, chapter)
	}, func(ctx context.Context, slug string) (bool, error) {
		return s.store.ChapterSlugExists(ctx, slug, courseID, 0)
	})
	if err != nil {
		return nil, err
	}
	return chapter, nil
}

// UpdateChapter renames a chapter, reallocating the slug only on change
func (s *Service) UpdateChapter(ctx context.Context, id int64, name string, status bool) (*models.Chapter, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.UpdateChapter")
	defer span.End()

	chapter, err := s.store.GetChapterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return nil, apperr.NotFound("chương không tồn tại")
	}

	nameChanged := name != chapter.ChapterName
	chapter.ChapterName = name
	chapter.Status = status

	persist := func(slug string) error {
		if slug != "" {
			chapter.Slug = slug
		}
		return s.store.UpdateChapter(ctx, chapter)
	}

	if nameChanged {
		err = s.persistWithSlug(ctx, name, persist, func(ctx context.Context, slug string) (bool, error) {
			return s.store.ChapterSlugExists(ctx, slug, chapter.CourseID, id)
		})
	} else {
		err = persist("")
	}
	if err != nil {
		return nil, err
	}
	return chapter, nil
}

// LectureInput carries the client-writable lecture fields
type LectureInput struct {
	LectureName string `json:"lecture_name" binding:"required"`
	VideoURL    string `json:"video_url"`
	Description string `json:"description"`
	Duration    int    `json:"duration" binding:"min=0"`
	IsPreview   bool   `json:"is_preview"`
	Status      bool   `json:"status"`
}

// CreateLecture allocates a slug unique within the parent chapter
func (s *Service) CreateLecture(ctx context.Context, chapterID int64, input LectureInput) (*models.Lecture, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.CreateLecture")
	defer span.End()

	chapter, err := s.store.GetChapterByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return nil, apperr.NotFound("chương không tồn tại")
	}

	lecture := &models.Lecture{
		LectureName: input.LectureName,
		ChapterID:   chapterID,
		VideoURL:    input.VideoURL,
		Description: input.Description,
		Duration:    input.Duration,
		IsPreview:   input.IsPreview,
		Status:      input.Status,
	}

	err = s.persistWithSlug(ctx, input.LectureName, func(slug string) error {
		lecture.Slug = slug
		return s.store.CreateLecture(ctx, lecture)
	}, func(ctx context.Context, slug string) (bool, error) {
		return s.store.LectureSlugExists(ctx, slug, chapterID, 0)
	})
	if err != nil {
		return nil, err
	}
	return lecture, nil
}

// UpdateLecture applies the input, reallocating the slug only on rename
func (s *Service) UpdateLecture(ctx context.Context, id int64, input LectureInput) (*models.Lecture, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.UpdateLecture")
	defer span.End()

	lecture, err := s.store.GetLectureByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if lecture == nil {
		return nil, apperr.NotFound("bài giảng không tồn tại")
	}

	nameChanged := input.LectureName != lecture.LectureName
	lecture.LectureName = input.LectureName
	lecture.VideoURL = input.VideoURL
	lecture.Description = input.Description
	lecture.Duration = input.Duration
	lecture.IsPreview = input.IsPreview
	lecture.Status = input.Status

	persist := func(slug string) error {
		if slug != "" {
			lecture.Slug = slug
		}
		return s.store.UpdateLecture(ctx, lecture)
	}

	if nameChanged {
		err = s.persistWithSlug(ctx, input.LectureName, persist, func(ctx context.Context, slug string) (bool, error) {
			return s.store.LectureSlugExists(ctx, slug, lecture.ChapterID, id)
		})
	} else {
		err = persist("")
	}
	if err != nil {
		return nil, err
	}
	return lecture, nil
}

// PostInput carries the client-writable post fields
type PostInput struct {
	Title       string `json:"title" binding:"required"`
	Content     string `json:"content"`
	Description string `json:"description"`
	Status      bool   `json:"status"`
}

// CreatePost allocates a globally unique slug from the title
func (s *Service) CreatePost(ctx context.Context, input PostInput, createdBy int64) (*models.Post, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.CreatePost")
	defer span.End()

	post := &models.Post{
		Title:       input.Title,
		Content:     input.Content,
		Description: input.Description,
		Status:      input.Status,
		CreatedBy:   createdBy,
	}

	err := s.persistWithSlug(ctx, input.Title, func(slug string) error {
		post.Slug = slug
		return s.store.CreatePost(ctx, post)
	}, func(ctx context.Context, slug string) (bool, error) {
		return s.store.PostSlugExists(ctx, slug, 0)
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// UpdatePost applies the input, reallocating the slug only when the title
// changed
func (s *Service) UpdatePost(ctx context.Context, id int64, input PostInput) (*models.Post, error) {
	ctx, span := util.StartSpan(ctx, "Catalog.UpdatePost")
	defer span.End()

	post, err := s.store.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, apperr.NotFound("bài viết không tồn tại")
	}

	titleChanged := input.Title != post.Title
	post.Title = input.Title
	post.Content = input.Content
	post.Description = input.Description
	post.Status = input.Status

	persist := func(slug string) error {
		if slug != "" {
			post.Slug = slug
		}
		return s.store.UpdatePost(ctx, post)
	}

	if titleChanged {
		err = s.persistWithSlug(ctx, input.Title, persist, func(ctx context.Context, slug string) (bool, error) {
			return s.store.PostSlugExists(ctx, slug, id)
		})
	} else {
		err = persist("")
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetPostBySlug retrieves a post for public display
func (s *Service) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	post, err := s.store.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, apperr.NotFound("bài viết không tồn tại")
	}
	return post, nil
}

// persistWithSlug allocates a scope-unique slug for name and runs persist
// with it. Two writers can race past the existence probe; the scoped unique
// index then rejects one of them and we retry the allocation once.
func (s *Service) persistWithSlug(ctx context.Context, name string, persist func(slug string) error, exists slugger.ExistsFunc) error {
	for attempt := 0; attempt < 2; attempt++ {
		slug, err := slugger.Allocate(ctx, name, exists)
		if err != nil {
			return err
		}
		err = persist(slug)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		s.logger.Warn("Slug collision on persist, reallocating",
			zap.String("slug", slug))
	}
	return apperr.New(http.StatusConflict, "không thể tạo slug duy nhất, vui lòng thử lại")
}
