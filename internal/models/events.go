package models

import "time"

// Event types
const (
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCompletedEvent published on the processing -> completed transition
type OrderCompletedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	TxnRef      string          `json:"txn_ref"`
	TotalAmount int64           `json:"total_amount"`
	Courses     []OrderLineData `json:"courses"`
}

// OrderCancelledEvent published when a payment fails or a stale order is reaped
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	TxnRef  string `json:"txn_ref"`
	Reason  string `json:"reason"`
}

// OrderLineData represents one purchased course in events
type OrderLineData struct {
	CourseID    int64  `json:"course_id"`
	CourseName  string `json:"course_name"`
	CoursePrice int64  `json:"course_price"`
}
