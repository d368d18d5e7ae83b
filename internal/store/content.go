package store

import (
	"context"
	"database/sql"

	"learnhub/internal/models"
)

// CreateChapter inserts a new chapter
func (s *Store) CreateChapter(ctx context.Context, chapter *models.Chapter) error {
	query := `
		INSERT INTO chapters (chapter_name, course_id, status, slug)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, chapter, query,
		chapter.ChapterName, chapter.CourseID, chapter.Status, chapter.Slug)
}

// UpdateChapter updates an existing chapter
func (s *Store) UpdateChapter(ctx context.Context, chapter *models.Chapter) error {
	query := `
		UPDATE chapters
		SET chapter_name = $1, status = $2, slug = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`

	return s.db.GetContext(ctx, &chapter.UpdatedAt, query,
		chapter.ChapterName, chapter.Status, chapter.Slug, chapter.ID)
}

// GetChapterByID retrieves a chapter by ID
func (s *Store) GetChapterByID(ctx context.Context, id int64) (*models.Chapter, error) {
	var chapter models.Chapter
	err := s.db.GetContext(ctx, &chapter, "SELECT * FROM chapters WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chapter, nil
}

// GetChaptersByCourseID retrieves all chapters of a course
func (s *Store) GetChaptersByCourseID(ctx context.Context, courseID int64) ([]models.Chapter, error) {
	var chapters []models.Chapter
	err := s.db.SelectContext(ctx, &chapters,
		"SELECT * FROM chapters WHERE course_id = $1 ORDER BY id", courseID)
	return chapters, err
}

// ChapterSlugExists reports whether another chapter of the same course
// already uses the slug. Chapter slugs are scoped per course.
func (s *Store) ChapterSlugExists(ctx context.Context, slug string, courseID, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM chapters WHERE slug = $1 AND course_id = $2 AND id <> $3)",
		slug, courseID, excludeID)
	return exists, err
}

// CreateLecture inserts a new lecture
func (s *Store) CreateLecture(ctx context.Context, lecture *models.Lecture) error {
	query := `
		INSERT INTO lectures (lecture_name, chapter_id, video_url, description,
			duration, is_preview, status, slug)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, lecture, query,
		lecture.LectureName, lecture.ChapterID, lecture.VideoURL, lecture.Description,
		lecture.Duration, lecture.IsPreview, lecture.Status, lecture.Slug)
}

// UpdateLecture updates an existing lecture
func (s *Store) UpdateLecture(ctx context.Context, lecture *models.Lecture) error {
	query := `
		UPDATE lectures
		SET lecture_name = $1, video_url = $2, description = $3, duration = $4,
			is_preview = $5, status = $6, slug = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`

	return s.db.GetContext(ctx, &lecture.UpdatedAt, query,
		lecture.LectureName, lecture.VideoURL, lecture.Description, lecture.Duration,
		lecture.IsPreview, lecture.Status, lecture.Slug, lecture.ID)
}

// GetLectureByID retrieves a lecture by ID
func (s *Store) GetLectureByID(ctx context.Context, id int64) (*models.Lecture, error) {
	var lecture models.Lecture
	err := s.db.GetContext(ctx, &lecture, "SELECT * FROM lectures WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lecture, nil
}

// LectureSlugExists reports whether another lecture of the same chapter
// already uses the slug. Lecture slugs are scoped per chapter.
func (s *Store) LectureSlugExists(ctx context.Context, slug string, chapterID, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM lectures WHERE slug = $1 AND chapter_id = $2 AND id <> $3)",
		slug, chapterID, excludeID)
	return exists, err
}

// CreatePost inserts a new blog post
func (s *Store) CreatePost(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (title, content, description, status, slug, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, post, query,
		post.Title, post.Content, post.Description, post.Status, post.Slug, post.CreatedBy)
}

// UpdatePost updates an existing blog post
func (s *Store) UpdatePost(ctx context.Context, post *models.Post) error {
	query := `
		UPDATE posts
		SET title = $1, content = $2, description = $3, status = $4, slug = $5,
			updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`

	return s.db.GetContext(ctx, &post.UpdatedAt, query,
		post.Title, post.Content, post.Description, post.Status, post.Slug, post.ID)
}

// GetPostByID retrieves a post by ID
func (s *Store) GetPostByID(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	err := s.db.GetContext(ctx, &post, "SELECT * FROM posts WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPostBySlug retrieves a post by slug
func (s *Store) GetPostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	err := s.db.GetContext(ctx, &post, "SELECT * FROM posts WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// PostSlugExists reports whether another post already uses the slug.
// Post slugs are globally scoped.
func (s *Store) PostSlugExists(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM posts WHERE slug = $1 AND id <> $2)",
		slug, excludeID)
	return exists, err
}
