package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"learnhub/internal/models"

	"github.com/jmoiron/sqlx/types"
)

// CreateOrderWithDetails inserts an order and all of its line items in one
// transaction so a visible order always has its details.
func (s *Store) CreateOrderWithDetails(ctx context.Context, order *models.Order, details []models.OrderDetail) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, txn_ref, total_amount, payment_method, provider, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.UserID, order.TxnRef, order.TotalAmount,
		order.PaymentMethod, order.Provider, order.Status); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	detailQuery := `
		INSERT INTO order_details (order_id, course_id, course_price)
		VALUES ($1, $2, $3)
		RETURNING id`

	for i := range details {
		details[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &details[i].ID, detailQuery,
			details[i].OrderID, details[i].CourseID, details[i].CoursePrice); err != nil {
			return fmt.Errorf("failed to insert order detail: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByTxnRef retrieves an order by its transaction reference.
// Returns (nil, nil) when no order matches.
func (s *Store) GetOrderByTxnRef(ctx context.Context, txnRef string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE txn_ref = $1", txnRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CompleteOrder advances an order from processing to completed and stores the
// provider's verification payload for audit. The conditional WHERE makes the
// transition safe under concurrent webhook deliveries: only one caller sees
// completed=true.
func (s *Store) CompleteOrder(ctx context.Context, orderID int64, providerMeta types.JSONText) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, provider_meta = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.OrderStatusCompleted, providerMeta, orderID, models.OrderStatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelOrder advances an order from processing to cancelled. A completed
// order is never touched.
func (s *Store) CancelOrder(ctx context.Context, orderID int64, providerMeta types.JSONText) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, provider_meta = COALESCE($2, provider_meta), updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.OrderStatusCancelled, providerMeta, orderID, models.OrderStatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOrderDetailsByOrderID retrieves all line items for an order
func (s *Store) GetOrderDetailsByOrderID(ctx context.Context, orderID int64) ([]models.OrderDetail, error) {
	var details []models.OrderDetail
	err := s.db.SelectContext(ctx, &details,
		"SELECT * FROM order_details WHERE order_id = $1 ORDER BY id", orderID)
	return details, err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ReapStaleOrders cancels processing orders created before the cutoff and
// returns them so callers can publish cancellation events.
func (s *Store) ReapStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var reaped []models.Order
	err := s.db.SelectContext(ctx, &reaped, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
		RETURNING *`,
		models.OrderStatusCancelled, models.OrderStatusProcessing, cutoff)
	return reaped, err
}
