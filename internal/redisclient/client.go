package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"learnhub/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func courseIDKey(id int64) string     { return fmt.Sprintf("course:id:%d", id) }
func courseSlugKey(slug string) string { return fmt.Sprintf("course:slug:%s", slug) }

// getCourse returns the cached course for the key, or nil on a miss.
// Cache errors are returned so callers can fall through to the database.
func (c *Client) getCourse(ctx context.Context, key string) (*models.Course, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var course models.Course
	if err := json.Unmarshal(raw, &course); err != nil {
		return nil, fmt.Errorf("corrupt course cache entry %s: %w", key, err)
	}
	return &course, nil
}

// GetCourseByID returns the cached course, or nil on a miss
func (c *Client) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	return c.getCourse(ctx, courseIDKey(id))
}

// GetCourseBySlug returns the cached course, or nil on a miss
func (c *Client) GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error) {
	return c.getCourse(ctx, courseSlugKey(slug))
}

// SetCourse caches the course under both its id and slug keys
func (c *Client) SetCourse(ctx context.Context, course *models.Course, ttl time.Duration) error {
	raw, err := json.Marshal(course)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, courseIDKey(course.ID), raw, ttl)
	if course.Slug != "" {
		pipe.Set(ctx, courseSlugKey(course.Slug), raw, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateCourse drops the cache keys for the course. Pass the old slug as
// well when a rename may have left a stale slug key behind.
func (c *Client) InvalidateCourse(ctx context.Context, id int64, slugs ...string) error {
	keys := []string{courseIDKey(id)}
	for _, slug := range slugs {
		if slug != "" {
			keys = append(keys, courseSlugKey(slug))
		}
	}
	return c.rdb.Del(ctx, keys...).Err()
}
