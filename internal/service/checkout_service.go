package service

import (
	"context"
	"fmt"
	"time"

	"learnhub/internal/apperr"
	"learnhub/internal/models"
	"learnhub/internal/pricing"
	"learnhub/internal/util"
	"learnhub/internal/vnpay"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStore is the persistence surface checkout needs
type CheckoutStore interface {
	GetCourseByID(ctx context.Context, id int64) (*models.Course, error)
	GetCourseBySlug(ctx context.Context, slug string) (*models.Course, error)
	GetCoursesByIDs(ctx context.Context, ids []int64) ([]models.Course, error)
	ListOwnedCourseIDsIn(ctx context.Context, userID int64, courseIDs []int64) ([]int64, error)
	CreateOrderWithDetails(ctx context.Context, order *models.Order, details []models.OrderDetail) error
	GetOrderByTxnRef(ctx context.Context, txnRef string) (*models.Order, error)
	GetOrderDetailsByOrderID(ctx context.Context, orderID int64) ([]models.OrderDetail, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
}

// PaymentURLBuilder produces the provider redirect URL for an order
type PaymentURLBuilder interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
}

// CheckoutService orchestrates order creation and payment-URL issuance
type CheckoutService struct {
	store     CheckoutStore
	payments  PaymentURLBuilder
	returnURL string
	bankCode  string
	logger    *zap.Logger

	now func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(store CheckoutStore, payments PaymentURLBuilder, returnURL, bankCode string) *CheckoutService {
	return &CheckoutService{
		store:     store,
		payments:  payments,
		returnURL: returnURL,
		bankCode:  bankCode,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CourseSelector is the normalized form of the checkout request body, which
// accepts a batch of ids, a single id, or a slug.
type CourseSelector struct {
	CourseIDs  []int64
	CourseID   int64
	CourseSlug string
}

// CheckoutResponse is returned to the client after a successful checkout
type CheckoutResponse struct {
	PaymentURL        string  `json:"paymentUrl"`
	OrderID           int64   `json:"orderId"`
	TxnRef            string  `json:"txnRef"`
	ExcludedCourseIDs []int64 `json:"excludedCourseIds"`
}

// CreateCheckout resolves the requested courses, excludes the ones the user
// already owns, freezes server-computed prices into a processing order, and
// returns the provider payment URL.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID int64, sel CourseSelector, orderInfo, clientIP string) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	courses, err := s.resolveCourses(ctx, sel)
	if err != nil {
		return nil, err
	}

	allIDs := make([]int64, len(courses))
	for i := range courses {
		allIDs[i] = courses[i].ID
	}

	owned, err := s.store.ListOwnedCourseIDsIn(ctx, userID, allIDs)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}
	ownedSet := make(map[int64]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	var filtered []models.Course
	excluded := []int64{}
	for _, c := range courses {
		if ownedSet[c.ID] {
			excluded = append(excluded, c.ID)
		} else {
			filtered = append(filtered, c)
		}
	}

	if len(filtered) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("all_owned").Inc()
		return nil, apperr.Conflict("bạn đã sở hữu tất cả các khóa học đã chọn",
			map[string]interface{}{"excludedCourseIds": excluded})
	}

	// Prices are computed server-side at request time and frozen into the
	// order details; a client-sent price is never trusted.
	now := s.now()
	details := make([]models.OrderDetail, len(filtered))
	var totalAmount int64
	for i := range filtered {
		price := pricing.CoursePrice(&filtered[i], now)
		details[i] = models.OrderDetail{CourseID: filtered[i].ID, CoursePrice: price}
		totalAmount += price
	}

	txnRef := newTxnRef(userID, now)

	order := &models.Order{
		UserID:        userID,
		TxnRef:        txnRef,
		TotalAmount:   totalAmount,
		PaymentMethod: models.ProviderVNPay,
		Provider:      models.ProviderVNPay,
		Status:        models.OrderStatusProcessing,
	}

	if err := s.store.CreateOrderWithDetails(ctx, order, details); err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.CheckoutsCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("txn_ref", txnRef),
		zap.Int64("total_amount", totalAmount),
		zap.Int("courses", len(filtered)))

	if orderInfo == "" {
		orderInfo = "Thanh toán khóa học: " + describeCourses(filtered)
	}

	paymentURL, err := s.payments.BuildPaymentURL(vnpay.PaymentRequest{
		Amount:    totalAmount,
		IPAddr:    clientIP,
		ReturnURL: s.returnURL,
		TxnRef:    txnRef,
		OrderInfo: orderInfo,
		BankCode:  s.bankCode,
	})
	if err != nil {
		// The order stays recoverable by txnRef; surface a generic failure.
		util.CheckoutsFailedTotal.WithLabelValues("provider_error").Inc()
		s.logger.Error("Failed to build payment URL",
			zap.String("txn_ref", txnRef), zap.Error(err))
		return nil, apperr.Internal(err)
	}

	return &CheckoutResponse{
		PaymentURL:        paymentURL,
		OrderID:           order.ID,
		TxnRef:            txnRef,
		ExcludedCourseIDs: excluded,
	}, nil
}

// resolveCourses normalizes the selector union into a deduplicated course list
func (s *CheckoutService) resolveCourses(ctx context.Context, sel CourseSelector) ([]models.Course, error) {
	switch {
	case len(sel.CourseIDs) > 0:
		seen := make(map[int64]bool, len(sel.CourseIDs))
		uniq := make([]int64, 0, len(sel.CourseIDs))
		for _, id := range sel.CourseIDs {
			if !seen[id] {
				seen[id] = true
				uniq = append(uniq, id)
			}
		}

		courses, err := s.store.GetCoursesByIDs(ctx, uniq)
		if err != nil {
			util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
			return nil, fmt.Errorf("failed to load courses: %w", err)
		}
		if len(courses) == 0 {
			util.CheckoutsFailedTotal.WithLabelValues("not_found").Inc()
			return nil, apperr.NotFound("không tìm thấy khóa học nào hợp lệ")
		}
		return courses, nil

	case sel.CourseID != 0 || sel.CourseSlug != "":
		var course *models.Course
		var err error
		if sel.CourseID != 0 {
			course, err = s.store.GetCourseByID(ctx, sel.CourseID)
		} else {
			course, err = s.store.GetCourseBySlug(ctx, sel.CourseSlug)
		}
		if err != nil {
			util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
			return nil, fmt.Errorf("failed to load course: %w", err)
		}
		if course == nil {
			util.CheckoutsFailedTotal.WithLabelValues("not_found").Inc()
			return nil, apperr.NotFound("khóa học không tồn tại")
		}
		return []models.Course{*course}, nil

	default:
		util.CheckoutsFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, apperr.Validation("thiếu courseIds hoặc courseId/courseSlug")
	}
}

// newTxnRef builds the provider correlation key. The random suffix keeps
// concurrent checkouts by the same user within the same millisecond from
// colliding.
func newTxnRef(userID int64, now time.Time) string {
	return fmt.Sprintf("ORDER_%d_%d_%s", now.UnixMilli(), userID, uuid.New().String()[:8])
}

// describeCourses builds the human-readable order description: the first
// course name plus a "+N khóa khác" suffix for multi-course orders.
func describeCourses(courses []models.Course) string {
	if len(courses) == 0 {
		return ""
	}
	if len(courses) == 1 {
		return courses[0].CourseName
	}
	return fmt.Sprintf("%s +%d khóa khác", courses[0].CourseName, len(courses)-1)
}

// PaymentDetail is the read-side composition of an order with its first
// line-item course for the payment detail endpoint.
type PaymentDetail struct {
	Order   OrderSummary    `json:"order"`
	Courses []models.Course `json:"courses"`
}

// OrderSummary is the client-facing subset of an order
type OrderSummary struct {
	ID          int64     `json:"id"`
	TxnRef      string    `json:"txnRef"`
	TotalAmount int64     `json:"totalAmount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListMyOrders returns the caller's order history, newest first
func (s *CheckoutService) ListMyOrders(ctx context.Context, userID int64) ([]OrderSummary, error) {
	orders, err := s.store.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	summaries := make([]OrderSummary, len(orders))
	for i, o := range orders {
		summaries[i] = OrderSummary{
			ID:          o.ID,
			TxnRef:      o.TxnRef,
			TotalAmount: o.TotalAmount,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt,
		}
	}
	return summaries, nil
}

// GetPaymentDetail assembles the order view for a txnRef: order summary plus
// the purchased courses, composed from separate reads.
func (s *CheckoutService) GetPaymentDetail(ctx context.Context, txnRef string) (*PaymentDetail, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetPaymentDetail")
	defer span.End()

	if txnRef == "" {
		return nil, apperr.Validation("thiếu txnRef")
	}

	order, err := s.store.GetOrderByTxnRef(ctx, txnRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return nil, apperr.NotFound("không tìm thấy đơn hàng")
	}

	details, err := s.store.GetOrderDetailsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order details: %w", err)
	}
	if len(details) == 0 {
		return nil, apperr.NotFound("không tìm thấy chi tiết đơn hàng")
	}

	courseIDs := make([]int64, len(details))
	for i := range details {
		courseIDs[i] = details[i].CourseID
	}
	courses, err := s.store.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}

	return &PaymentDetail{
		Order: OrderSummary{
			ID:          order.ID,
			TxnRef:      order.TxnRef,
			TotalAmount: order.TotalAmount,
			Status:      order.Status,
			CreatedAt:   order.CreatedAt,
		},
		Courses: courses,
	}, nil
}
