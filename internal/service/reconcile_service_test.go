package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"testing"

	"learnhub/internal/models"
	"learnhub/internal/vnpay"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReconcileStore struct {
	orders  map[string]*models.Order
	details map[int64][]models.OrderDetail
	courses map[int64]models.Course

	enrollments map[string]bool // "userID:courseID"
	grantCalls  int
	grantErr    error
	completeErr error
}

func newFakeReconcileStore() *fakeReconcileStore {
	return &fakeReconcileStore{
		orders:      make(map[string]*models.Order),
		details:     make(map[int64][]models.OrderDetail),
		courses:     make(map[int64]models.Course),
		enrollments: make(map[string]bool),
	}
}

func (f *fakeReconcileStore) addOrder(order models.Order, details ...models.OrderDetail) *models.Order {
	f.orders[order.TxnRef] = &order
	f.details[order.ID] = details
	return f.orders[order.TxnRef]
}

func (f *fakeReconcileStore) GetOrderByTxnRef(ctx context.Context, txnRef string) (*models.Order, error) {
	if o, ok := f.orders[txnRef]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeReconcileStore) CompleteOrder(ctx context.Context, orderID int64, meta types.JSONText) (bool, error) {
	if f.completeErr != nil {
		return false, f.completeErr
	}
	for _, o := range f.orders {
		if o.ID == orderID {
			if o.Status != models.OrderStatusProcessing {
				return false, nil
			}
			o.Status = models.OrderStatusCompleted
			o.ProviderMeta = meta
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReconcileStore) CancelOrder(ctx context.Context, orderID int64, meta types.JSONText) (bool, error) {
	for _, o := range f.orders {
		if o.ID == orderID {
			if o.Status != models.OrderStatusProcessing {
				return false, nil
			}
			o.Status = models.OrderStatusCancelled
			o.ProviderMeta = meta
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReconcileStore) GetOrderDetailsByOrderID(ctx context.Context, orderID int64) ([]models.OrderDetail, error) {
	return f.details[orderID], nil
}

func (f *fakeReconcileStore) GetCoursesByIDs(ctx context.Context, ids []int64) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if c, ok := f.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeReconcileStore) GrantEnrollment(ctx context.Context, userID, courseID int64) (bool, error) {
	f.grantCalls++
	if f.grantErr != nil {
		return false, f.grantErr
	}
	key := enrollmentKey(userID, courseID)
	if f.enrollments[key] {
		return false, nil
	}
	f.enrollments[key] = true
	return true, nil
}

func enrollmentKey(userID, courseID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(courseID, 10)
}

type fakeEventSink struct {
	completed []*models.OrderCompletedEvent
	cancelled []*models.OrderCancelledEvent
}

func (f *fakeEventSink) PublishOrderCompleted(ctx context.Context, e *models.OrderCompletedEvent) error {
	f.completed = append(f.completed, e)
	return nil
}

func (f *fakeEventSink) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	f.cancelled = append(f.cancelled, e)
	return nil
}

// signingVerifier delegates to a real vnpay client so the IPN handler is
// tested against genuine signatures.
func signingVerifier() *vnpay.Client {
	return vnpay.New("TESTTMN", "TESTSECRETKEY", "https://sandbox.vnpayment.vn")
}

// wireAmount encodes an amount the way the provider does, multiplied by 100
func wireAmount(amount int64) string {
	return strconv.FormatInt(amount*100, 10)
}

// signParams replicates the provider's signature: hex HMAC-SHA512 over the
// sorted URL-encoded parameter string.
func signParams(params url.Values, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedIPN builds a provider notification signed with the test secret
func signedIPN(t *testing.T, txnRef, responseCode string, amount int64) url.Values {
	t.Helper()
	params := url.Values{}
	params.Set("vnp_TmnCode", "TESTTMN")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_Amount", wireAmount(amount))
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "14226112")
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_PayDate", "20250615173500")
	params.Set("vnp_SecureHash", signParams(params, "TESTSECRETKEY"))
	return params
}

func processingOrder(txnRef string) models.Order {
	return models.Order{
		ID:          42,
		UserID:      7,
		TxnRef:      txnRef,
		TotalAmount: 140,
		Status:      models.OrderStatusProcessing,
	}
}

func TestHandleIPN_SuccessCompletesAndGrants(t *testing.T) {
	store := newFakeReconcileStore()
	order := store.addOrder(processingOrder("ORDER_1_7_abc"),
		models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 100},
		models.OrderDetail{OrderID: 42, CourseID: 2, CoursePrice: 40})
	store.courses[1] = models.Course{ID: 1, CourseName: "Go"}
	store.courses[2] = models.Course{ID: 2, CourseName: "SQL"}

	sink := &fakeEventSink{}
	svc := NewReconcileService(store, signingVerifier(), sink, "")

	ack := svc.HandleIPN(context.Background(), signedIPN(t, "ORDER_1_7_abc", "00", 140))

	assert.Equal(t, RspOK, ack.RspCode)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.NotEmpty(t, order.ProviderMeta)
	assert.True(t, store.enrollments[enrollmentKey(7, 1)])
	assert.True(t, store.enrollments[enrollmentKey(7, 2)])

	require.Len(t, sink.completed, 1)
	assert.Equal(t, "ORDER_1_7_abc", sink.completed[0].TxnRef)
	assert.Len(t, sink.completed[0].Courses, 2)
}

func TestHandleIPN_RedeliveryIsIdempotent(t *testing.T) {
	store := newFakeReconcileStore()
	store.addOrder(processingOrder("ORDER_1_7_abc"),
		models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})

	sink := &fakeEventSink{}
	svc := NewReconcileService(store, signingVerifier(), sink, "")

	params := signedIPN(t, "ORDER_1_7_abc", "00", 140)
	first := svc.HandleIPN(context.Background(), params)
	second := svc.HandleIPN(context.Background(), params)

	assert.Equal(t, RspOK, first.RspCode)
	assert.Equal(t, RspOK, second.RspCode)
	assert.Equal(t, "Order already confirmed", second.Message)
	// The redelivery re-checks grants but only one enrollment exists.
	assert.Len(t, store.enrollments, 1)
	assert.Len(t, sink.completed, 1, "completion event published once")
}

func TestHandleIPN_RedeliveryHealsMissedGrant(t *testing.T) {
	store := newFakeReconcileStore()
	store.addOrder(processingOrder("ORDER_1_7_abc"),
		models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})
	store.grantErr = errors.New("db down")

	svc := NewReconcileService(store, signingVerifier(), nil, "")
	params := signedIPN(t, "ORDER_1_7_abc", "00", 140)

	first := svc.HandleIPN(context.Background(), params)
	assert.Equal(t, RspUnknownError, first.RspCode, "grant failure is not acknowledged")
	assert.Equal(t, models.OrderStatusCompleted, store.orders["ORDER_1_7_abc"].Status)
	assert.Empty(t, store.enrollments)

	store.grantErr = nil
	second := svc.HandleIPN(context.Background(), params)
	assert.Equal(t, RspOK, second.RspCode)
	assert.True(t, store.enrollments[enrollmentKey(7, 1)])
}

func TestHandleIPN_FailureCancelsWithoutGranting(t *testing.T) {
	store := newFakeReconcileStore()
	order := store.addOrder(processingOrder("ORDER_1_7_abc"),
		models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})

	sink := &fakeEventSink{}
	svc := NewReconcileService(store, signingVerifier(), sink, "")

	ack := svc.HandleIPN(context.Background(), signedIPN(t, "ORDER_1_7_abc", "24", 140))

	assert.Equal(t, RspOK, ack.RspCode, "failure outcome is still acknowledged")
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Empty(t, store.enrollments)
	require.Len(t, sink.cancelled, 1)
	assert.Equal(t, "payment_failed", sink.cancelled[0].Reason)
}

func TestHandleIPN_InvalidSignatureLeavesOrderUntouched(t *testing.T) {
	store := newFakeReconcileStore()
	order := store.addOrder(processingOrder("ORDER_1_7_abc"),
		models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})

	svc := NewReconcileService(store, signingVerifier(), nil, "")

	params := signedIPN(t, "ORDER_1_7_abc", "00", 140)
	params.Set("vnp_Amount", wireAmount(1)) // tamper after signing

	ack := svc.HandleIPN(context.Background(), params)

	assert.Equal(t, RspInvalidSignature, ack.RspCode)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.Empty(t, store.enrollments)
	assert.Zero(t, store.grantCalls)
}

func TestHandleIPN_UnknownOrder(t *testing.T) {
	svc := NewReconcileService(newFakeReconcileStore(), signingVerifier(), nil, "")

	ack := svc.HandleIPN(context.Background(), signedIPN(t, "ORDER_0_0_nope", "00", 100))
	assert.Equal(t, RspOrderNotFound, ack.RspCode)
}

func TestHandleIPN_MissingTxnRef(t *testing.T) {
	svc := NewReconcileService(newFakeReconcileStore(), signingVerifier(), nil, "")

	ack := svc.HandleIPN(context.Background(), url.Values{})
	assert.Equal(t, RspOrderNotFound, ack.RspCode)
}

func TestHandleIPN_SuccessAfterCancelIsFrozen(t *testing.T) {
	store := newFakeReconcileStore()
	order := processingOrder("ORDER_1_7_abc")
	order.Status = models.OrderStatusCancelled
	store.addOrder(order, models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})

	svc := NewReconcileService(store, signingVerifier(), nil, "")

	ack := svc.HandleIPN(context.Background(), signedIPN(t, "ORDER_1_7_abc", "00", 140))
	assert.Equal(t, RspOrderStateFrozen, ack.RspCode)
	assert.Equal(t, models.OrderStatusCancelled, store.orders["ORDER_1_7_abc"].Status)
	assert.Empty(t, store.enrollments)
}

func TestHandleIPN_FailureAfterCompleteIsFrozen(t *testing.T) {
	store := newFakeReconcileStore()
	order := processingOrder("ORDER_1_7_abc")
	order.Status = models.OrderStatusCompleted
	store.addOrder(order, models.OrderDetail{OrderID: 42, CourseID: 1, CoursePrice: 140})

	svc := NewReconcileService(store, signingVerifier(), nil, "")

	ack := svc.HandleIPN(context.Background(), signedIPN(t, "ORDER_1_7_abc", "24", 140))
	assert.Equal(t, RspOrderStateFrozen, ack.RspCode)
	assert.Equal(t, models.OrderStatusCompleted, store.orders["ORDER_1_7_abc"].Status)
}

func TestHandleReturn_RedirectCarriesOutcome(t *testing.T) {
	store := newFakeReconcileStore()
	store.addOrder(processingOrder("ORDER_1_7_abc"))

	svc := NewReconcileService(store, signingVerifier(), nil, "https://app.example.com/payment/result")

	result := svc.HandleReturn(context.Background(), signedIPN(t, "ORDER_1_7_abc", "00", 140))

	assert.True(t, result.IsVerified)
	assert.True(t, result.IsSuccess)
	assert.Equal(t, "ORDER_1_7_abc", result.TxnRef)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", redirect.Host)
	assert.Equal(t, "true", redirect.Query().Get("isSuccess"))
	assert.Equal(t, "ORDER_1_7_abc", redirect.Query().Get("vnp_TxnRef"))

	// The browser return never grants enrollment.
	assert.Equal(t, models.OrderStatusProcessing, store.orders["ORDER_1_7_abc"].Status)
	assert.Empty(t, store.enrollments)
}

func TestHandleReturn_TamperedSignature(t *testing.T) {
	svc := NewReconcileService(newFakeReconcileStore(), signingVerifier(), nil, "")

	params := signedIPN(t, "ORDER_1_7_abc", "00", 140)
	params.Set("vnp_ResponseCode", "24")

	result := svc.HandleReturn(context.Background(), params)
	assert.False(t, result.IsVerified)
	assert.False(t, result.IsSuccess)
	assert.Equal(t, "unverified", result.Message)
}

func TestVerifyReturnTolerant_WithoutHash(t *testing.T) {
	svc := NewReconcileService(newFakeReconcileStore(), signingVerifier(), nil, "")

	params := url.Values{}
	params.Set("vnp_TxnRef", "ORDER_1_7_abc")
	params.Set("vnp_ResponseCode", "00")

	result := svc.VerifyReturnTolerant(context.Background(), params)
	assert.True(t, result.IsSuccess)
	assert.False(t, result.IsVerified)
	assert.Equal(t, "ORDER_1_7_abc", result.TxnRef)
}
