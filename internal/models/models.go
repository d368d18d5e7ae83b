package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// User represents an account in the marketplace
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Sale is a time-bounded discount attached to a course.
// A nil start or end date leaves the window open on that side.
type Sale struct {
	Type      string     `json:"type"`
	Value     int64      `json:"value"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Course represents a sellable course in the catalog
type Course struct {
	ID            int64      `db:"id" json:"id"`
	CourseName    string     `db:"course_name" json:"course_name"`
	Description   string     `db:"description" json:"description"`
	Price         int64      `db:"price" json:"price"`
	SaleType      *string    `db:"sale_type" json:"sale_type,omitempty"`
	SaleValue     *int64     `db:"sale_value" json:"sale_value,omitempty"`
	SaleStartDate *time.Time `db:"sale_start_date" json:"sale_start_date,omitempty"`
	SaleEndDate   *time.Time `db:"sale_end_date" json:"sale_end_date,omitempty"`
	Status        bool       `db:"status" json:"status"`
	Slug          string     `db:"slug" json:"slug"`
	CreatedBy     int64      `db:"created_by" json:"created_by"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Sale assembles the flat nullable columns into a discount rule,
// or nil when the course has none.
func (c *Course) Sale() *Sale {
	if c.SaleType == nil || c.SaleValue == nil {
		return nil
	}
	return &Sale{
		Type:      *c.SaleType,
		Value:     *c.SaleValue,
		StartDate: c.SaleStartDate,
		EndDate:   c.SaleEndDate,
	}
}

// Chapter belongs to exactly one course; its slug is unique within that course
type Chapter struct {
	ID          int64     `db:"id" json:"id"`
	ChapterName string    `db:"chapter_name" json:"chapter_name"`
	CourseID    int64     `db:"course_id" json:"course_id"`
	Status      bool      `db:"status" json:"status"`
	Slug        string    `db:"slug" json:"slug"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Lecture belongs to exactly one chapter; its slug is unique within that chapter
type Lecture struct {
	ID          int64     `db:"id" json:"id"`
	LectureName string    `db:"lecture_name" json:"lecture_name"`
	ChapterID   int64     `db:"chapter_id" json:"chapter_id"`
	VideoURL    string    `db:"video_url" json:"video_url"`
	Description string    `db:"description" json:"description"`
	Duration    int       `db:"duration" json:"duration"`
	IsPreview   bool      `db:"is_preview" json:"is_preview"`
	Status      bool      `db:"status" json:"status"`
	Slug        string    `db:"slug" json:"slug"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Post is a blog entry; its slug is globally unique
type Post struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Content     string    `db:"content" json:"content"`
	Description string    `db:"description" json:"description"`
	Status      bool      `db:"status" json:"status"`
	Slug        string    `db:"slug" json:"slug"`
	CreatedBy   int64     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Order is a checkout transaction correlated with the payment provider by txn_ref
type Order struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	TxnRef        string         `db:"txn_ref" json:"txn_ref"`
	TotalAmount   int64          `db:"total_amount" json:"total_amount"`
	PaymentMethod string         `db:"payment_method" json:"payment_method"`
	Provider      string         `db:"provider" json:"provider"`
	Status        string         `db:"status" json:"status"`
	ProviderMeta  types.JSONText `db:"provider_meta" json:"provider_meta,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderDetail is one priced line item within an order.
// CoursePrice is frozen at order-creation time, computed server-side.
type OrderDetail struct {
	ID          int64 `db:"id" json:"id"`
	OrderID     int64 `db:"order_id" json:"order_id"`
	CourseID    int64 `db:"course_id" json:"course_id"`
	CoursePrice int64 `db:"course_price" json:"course_price"`
}

// Enrollment grants a user access to a course. Created only on the
// processing -> completed order transition, at most once per (user, course).
type Enrollment struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CourseID  *int64    `db:"course_id" json:"course_id,omitempty"`
	ModuleID  *int64    `db:"module_id" json:"module_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses. Progression is one-way: processing -> completed | cancelled.
const (
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// Sale types
const (
	SaleTypePercent = "percent"
	SaleTypeFixed   = "fixed"
)

// MaxPercentSaleValue caps percent-type sales at save time
const MaxPercentSaleValue = 50

// Payment providers
const (
	ProviderVNPay = "vnpay"
)
