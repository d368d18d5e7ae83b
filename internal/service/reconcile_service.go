package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"learnhub/internal/models"
	"learnhub/internal/util"
	"learnhub/internal/vnpay"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

// VNPay IPN acknowledgement codes. The provider retries deliveries that are
// not acknowledged with "00".
const (
	RspOK               = "00"
	RspOrderNotFound    = "01"
	RspOrderStateFrozen = "02"
	RspInvalidSignature = "97"
	RspUnknownError     = "99"
)

// IPNAck is the well-formed acknowledgement every IPN delivery receives,
// whatever happened while processing it.
type IPNAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// ReconcileStore is the persistence surface reconciliation needs
type ReconcileStore interface {
	GetOrderByTxnRef(ctx context.Context, txnRef string) (*models.Order, error)
	CompleteOrder(ctx context.Context, orderID int64, providerMeta types.JSONText) (bool, error)
	CancelOrder(ctx context.Context, orderID int64, providerMeta types.JSONText) (bool, error)
	GetOrderDetailsByOrderID(ctx context.Context, orderID int64) ([]models.OrderDetail, error)
	GetCoursesByIDs(ctx context.Context, ids []int64) ([]models.Course, error)
	GrantEnrollment(ctx context.Context, userID, courseID int64) (bool, error)
}

// CallbackVerifier checks provider callback signatures
type CallbackVerifier interface {
	VerifyIPN(params url.Values) vnpay.Verification
	VerifyReturn(params url.Values) vnpay.Verification
}

// EventSink receives order lifecycle events
type EventSink interface {
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// ReconcileService processes provider callbacks: the authoritative
// server-to-server IPN and the advisory browser return redirect.
type ReconcileService struct {
	store             ReconcileStore
	verifier          CallbackVerifier
	events            EventSink
	frontendReturnURL string
	logger            *zap.Logger
}

// NewReconcileService creates a new reconciliation service. events may be
// nil when no broker is configured.
func NewReconcileService(store ReconcileStore, verifier CallbackVerifier, events EventSink, frontendReturnURL string) *ReconcileService {
	return &ReconcileService{
		store:             store,
		verifier:          verifier,
		events:            events,
		frontendReturnURL: frontendReturnURL,
		logger:            util.GetLogger(),
	}
}

// HandleIPN processes one provider notification and always returns a
// well-formed acknowledgement. State moves only on the processing ->
// completed/cancelled edges; redelivered notifications are acknowledged
// without repeating side effects.
func (s *ReconcileService) HandleIPN(ctx context.Context, params url.Values) (ack IPNAck) {
	ctx, span := util.StartSpan(ctx, "ReconcileService.HandleIPN")
	defer span.End()

	// The provider must always receive an acknowledgement, even if
	// processing panics.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while processing IPN", zap.Any("panic", r))
			ack = IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
		}
		util.WebhooksReceivedTotal.WithLabelValues(ack.RspCode).Inc()
	}()

	v := s.verifier.VerifyIPN(params)

	if v.TxnRef == "" {
		return IPNAck{RspCode: RspOrderNotFound, Message: "Missing txnRef"}
	}
	if !v.IsVerified {
		s.logger.Warn("IPN signature verification failed", zap.String("txn_ref", v.TxnRef))
		return IPNAck{RspCode: RspInvalidSignature, Message: "Invalid signature"}
	}

	order, err := s.store.GetOrderByTxnRef(ctx, v.TxnRef)
	if err != nil {
		s.logger.Error("Failed to load order for IPN",
			zap.String("txn_ref", v.TxnRef), zap.Error(err))
		return IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
	}
	if order == nil {
		return IPNAck{RspCode: RspOrderNotFound, Message: "Order not found"}
	}

	if v.IsSuccess {
		return s.confirmOrder(ctx, order, v)
	}
	return s.cancelOrder(ctx, order, v)
}

func (s *ReconcileService) confirmOrder(ctx context.Context, order *models.Order, v vnpay.Verification) IPNAck {
	switch order.Status {
	case models.OrderStatusCancelled:
		// A cancelled order never becomes completed.
		s.logger.Warn("Success IPN for a cancelled order",
			zap.String("txn_ref", order.TxnRef))
		return IPNAck{RspCode: RspOrderStateFrozen, Message: "Order already cancelled"}

	case models.OrderStatusCompleted:
		// Redelivery. Re-run the idempotent grants so a partial failure on
		// an earlier delivery heals, then acknowledge success.
		if err := s.grantEnrollments(ctx, order); err != nil {
			s.logger.Error("Enrollment heal on redelivery failed",
				zap.String("txn_ref", order.TxnRef), zap.Error(err))
			return IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
		}
		return IPNAck{RspCode: RspOK, Message: "Order already confirmed"}
	}

	meta := marshalProviderMeta(v)
	moved, err := s.store.CompleteOrder(ctx, order.ID, meta)
	if err != nil {
		s.logger.Error("Failed to complete order",
			zap.String("txn_ref", order.TxnRef), zap.Error(err))
		return IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
	}
	if !moved {
		// A concurrent delivery won the race; it owns the side effects.
		return IPNAck{RspCode: RspOK, Message: "Order already confirmed"}
	}

	util.OrdersCompletedTotal.Inc()
	s.logger.Info("Order completed",
		zap.String("txn_ref", order.TxnRef),
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", v.Amount))

	if err := s.grantEnrollments(ctx, order); err != nil {
		// The order is completed; a provider retry will heal the missing
		// grants through the redelivery path above.
		s.logger.Error("Failed to grant enrollments",
			zap.String("txn_ref", order.TxnRef), zap.Error(err))
		return IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
	}

	s.publishCompleted(ctx, order)
	return IPNAck{RspCode: RspOK, Message: "Confirm success"}
}

func (s *ReconcileService) cancelOrder(ctx context.Context, order *models.Order, v vnpay.Verification) IPNAck {
	if order.Status == models.OrderStatusCompleted {
		// A completed order never becomes cancelled.
		s.logger.Warn("Failure IPN for a completed order",
			zap.String("txn_ref", order.TxnRef),
			zap.String("response_code", v.ResponseCode))
		return IPNAck{RspCode: RspOrderStateFrozen, Message: "Order already confirmed"}
	}

	meta := marshalProviderMeta(v)
	moved, err := s.store.CancelOrder(ctx, order.ID, meta)
	if err != nil {
		s.logger.Error("Failed to cancel order",
			zap.String("txn_ref", order.TxnRef), zap.Error(err))
		return IPNAck{RspCode: RspUnknownError, Message: "Unknown error"}
	}
	if moved {
		util.OrdersCancelledTotal.WithLabelValues("payment_failed").Inc()
		s.logger.Info("Order cancelled",
			zap.String("txn_ref", order.TxnRef),
			zap.String("response_code", v.ResponseCode))
		s.publishCancelled(ctx, order, "payment_failed")
	}
	return IPNAck{RspCode: RspOK, Message: "Confirm success"}
}

// grantEnrollments creates an enrollment per order line unless one already
// exists. Safe under redelivery and partial-failure retries.
func (s *ReconcileService) grantEnrollments(ctx context.Context, order *models.Order) error {
	details, err := s.store.GetOrderDetailsByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order details: %w", err)
	}

	for _, d := range details {
		created, err := s.store.GrantEnrollment(ctx, order.UserID, d.CourseID)
		if err != nil {
			return fmt.Errorf("failed to grant enrollment for course %d: %w", d.CourseID, err)
		}
		if created {
			util.EnrollmentsGrantedTotal.Inc()
			s.logger.Info("Enrollment granted",
				zap.Int64("user_id", order.UserID),
				zap.Int64("course_id", d.CourseID))
		}
	}
	return nil
}

func (s *ReconcileService) publishCompleted(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}

	event := &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TxnRef:      order.TxnRef,
		TotalAmount: order.TotalAmount,
	}

	if details, err := s.store.GetOrderDetailsByOrderID(ctx, order.ID); err == nil {
		ids := make([]int64, len(details))
		priceByCourse := make(map[int64]int64, len(details))
		for i, d := range details {
			ids[i] = d.CourseID
			priceByCourse[d.CourseID] = d.CoursePrice
		}
		if courses, err := s.store.GetCoursesByIDs(ctx, ids); err == nil {
			for _, c := range courses {
				event.Courses = append(event.Courses, models.OrderLineData{
					CourseID:    c.ID,
					CourseName:  c.CourseName,
					CoursePrice: priceByCourse[c.ID],
				})
			}
		}
	}

	if err := s.events.PublishOrderCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCompleted event",
			zap.String("txn_ref", order.TxnRef), zap.Error(err))
	}
}

func (s *ReconcileService) publishCancelled(ctx context.Context, order *models.Order, reason string) {
	if s.events == nil {
		return
	}

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		TxnRef:  order.TxnRef,
		Reason:  reason,
	}

	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event",
			zap.String("txn_ref", order.TxnRef), zap.Error(err))
	}
}

// marshalProviderMeta flattens the callback for audit storage
func marshalProviderMeta(v vnpay.Verification) types.JSONText {
	flat := make(map[string]string, len(v.Raw))
	for key := range v.Raw {
		flat[key] = v.Raw.Get(key)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(raw)
}

// ReturnResult is the outcome of the browser return redirect
type ReturnResult struct {
	IsVerified   bool   `json:"isVerified"`
	IsSuccess    bool   `json:"isSuccess"`
	TxnRef       string `json:"txnRef,omitempty"`
	ResponseCode string `json:"responseCode,omitempty"`
	Message      string `json:"message"`

	// RedirectURL is set when a frontend return URL is configured; the
	// handler then 302s the browser there with all original params plus
	// isSuccess.
	RedirectURL string `json:"-"`
}

// HandleReturn verifies the browser redirect for display purposes only.
// Enrollment is never granted here; the IPN is the authoritative path and
// may arrive before or after this call, or not at all.
func (s *ReconcileService) HandleReturn(ctx context.Context, params url.Values) ReturnResult {
	_, span := util.StartSpan(ctx, "ReconcileService.HandleReturn")
	defer span.End()

	v := s.verifier.VerifyReturn(params)

	result := ReturnResult{
		IsVerified:   v.IsVerified,
		IsSuccess:    v.IsSuccess,
		TxnRef:       v.TxnRef,
		ResponseCode: v.ResponseCode,
	}
	if v.IsSuccess {
		result.Message = "success"
	} else if v.IsVerified {
		result.Message = "payment failed"
	} else {
		result.Message = "unverified"
	}

	if s.frontendReturnURL != "" {
		if target, err := url.Parse(s.frontendReturnURL); err == nil {
			q := target.Query()
			for key := range params {
				q.Set(key, params.Get(key))
			}
			q.Set("isSuccess", fmt.Sprintf("%t", v.IsSuccess))
			q.Set("message", result.Message)
			target.RawQuery = q.Encode()
			result.RedirectURL = target.String()
		} else {
			s.logger.Error("Invalid frontend return URL",
				zap.String("url", s.frontendReturnURL), zap.Error(err))
		}
	}

	return result
}

// VerifyReturnTolerant serves the standalone verification endpoint: strict
// signature verification when the callback carries a secure hash, otherwise
// a best-effort echo so old clients never see a hard error.
func (s *ReconcileService) VerifyReturnTolerant(ctx context.Context, params url.Values) ReturnResult {
	if params.Get("vnp_SecureHash") != "" || params.Get("vnp_SecureHashType") != "" {
		return s.HandleReturn(ctx, params)
	}

	isSuccess := params.Get("isSuccess") == "true" || params.Get("vnp_ResponseCode") == "00"
	message := params.Get("message")
	if message == "" {
		if isSuccess {
			message = "success"
		} else {
			message = "unverified"
		}
	}

	return ReturnResult{
		IsSuccess:    isSuccess,
		TxnRef:       params.Get("vnp_TxnRef"),
		ResponseCode: params.Get("vnp_ResponseCode"),
		Message:      message,
	}
}
