package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"learnhub/internal/broker"
	"learnhub/internal/mailer"
	"learnhub/internal/models"
	"learnhub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationStore resolves recipients for receipt email
type NotificationStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// NotificationWorker consumes order events and sends receipt email
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        NotificationStore
	sender       mailer.Sender
	logger       *zap.Logger
}

// NewNotificationWorker creates a notification worker. sender may be nil
// when SMTP is not configured; events are then consumed and dropped so the
// group offset still advances.
func NewNotificationWorker(consumer *broker.Consumer, store NotificationStore, sender mailer.Sender) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    store,
		sender:   sender,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCompleted(w.handleOrderCompleted)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	if w.sender == nil {
		w.logger.Debug("Email disabled, dropping receipt", zap.String("txn_ref", event.TxnRef))
		return nil
	}

	user, err := w.store.GetUserByID(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", event.UserID, err)
	}
	if user == nil {
		// The account is gone; retrying will never succeed.
		w.logger.Warn("Receipt recipient not found",
			zap.Int64("user_id", event.UserID), zap.String("txn_ref", event.TxnRef))
		return nil
	}

	subject := "Xác nhận thanh toán đơn hàng " + event.TxnRef
	if err := w.sender.Send(user.Email, subject, receiptBody(user, event)); err != nil {
		util.ReceiptEmailsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to send receipt for %s: %w", event.TxnRef, err)
	}

	util.ReceiptEmailsTotal.WithLabelValues("sent").Inc()
	w.logger.Info("Receipt email sent",
		zap.String("txn_ref", event.TxnRef), zap.String("to", user.Email))
	return nil
}

// handleOrderCancelled records the cancellation; no email is sent for
// abandoned or failed payments.
func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	w.logger.Info("Order cancelled",
		zap.String("txn_ref", event.TxnRef),
		zap.String("reason", event.Reason))
	return nil
}

func receiptBody(user *models.User, event *models.OrderCompletedEvent) string {
	var b strings.Builder
	b.WriteString("<p>Chào " + user.FullName + ",</p>")
	b.WriteString("<p>Thanh toán của bạn đã được xác nhận. Các khóa học sau đã được kích hoạt:</p><ul>")
	for _, line := range event.Courses {
		b.WriteString(fmt.Sprintf("<li>%s — %dđ</li>", line.CourseName, line.CoursePrice))
	}
	b.WriteString("</ul>")
	b.WriteString(fmt.Sprintf("<p>Tổng cộng: %dđ (mã giao dịch %s)</p>", event.TotalAmount, event.TxnRef))
	b.WriteString("<p>Chúc bạn học tốt!</p>")
	return b.String()
}

// ReaperStore is the persistence surface the reaper needs
type ReaperStore interface {
	ReapStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

// ReaperCancelledSink publishes cancellation events for reaped orders
type ReaperCancelledSink interface {
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// ReaperWorker periodically cancels orders stuck in processing longer than
// the configured timeout, reclaiming checkouts whose payment never arrived.
type ReaperWorker struct {
	store    ReaperStore
	events   ReaperCancelledSink
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewReaperWorker creates a reaper. events may be nil when no broker is
// configured.
func NewReaperWorker(store ReaperStore, events ReaperCancelledSink, timeout time.Duration) *ReaperWorker {
	interval := timeout / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &ReaperWorker{
		store:    store,
		events:   events,
		timeout:  timeout,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the reap loop until the context is cancelled
func (w *ReaperWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order reaper",
		zap.Duration("timeout", w.timeout), zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reaper context cancelled, stopping")
			return ctx.Err()
		case <-ticker.C:
			w.reapOnce(ctx)
		}
	}
}

func (w *ReaperWorker) reapOnce(ctx context.Context) {
	ctx, span := util.StartSpan(ctx, "ReaperWorker.reapOnce")
	defer span.End()

	cutoff := time.Now().Add(-w.timeout)
	reaped, err := w.store.ReapStaleOrders(ctx, cutoff)
	if err != nil {
		w.logger.Error("Failed to reap stale orders", zap.Error(err))
		return
	}
	if len(reaped) == 0 {
		return
	}

	util.StaleOrdersReapedTotal.Add(float64(len(reaped)))
	w.logger.Info("Reaped stale orders", zap.Int("count", len(reaped)))

	if w.events == nil {
		return
	}
	for _, order := range reaped {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: time.Now(),
			},
			OrderID: order.ID,
			UserID:  order.UserID,
			TxnRef:  order.TxnRef,
			Reason:  "timeout",
		}
		if err := w.events.PublishOrderCancelled(ctx, event); err != nil {
			w.logger.Error("Failed to publish reap cancellation",
				zap.String("txn_ref", order.TxnRef), zap.Error(err))
		}
	}
}
