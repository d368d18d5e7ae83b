package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"learnhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationStore struct {
	users map[int64]*models.User
}

func (f *fakeNotificationStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return f.users[id], nil
}

type fakeSender struct {
	to       []string
	subjects []string
	bodies   []string
	err      error
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func completedEvent() *models.OrderCompletedEvent {
	return &models.OrderCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderCompleted,
			Timestamp: time.Now(),
		},
		OrderID:     42,
		UserID:      7,
		TxnRef:      "ORDER_1_7_abc",
		TotalAmount: 140,
		Courses: []models.OrderLineData{
			{CourseID: 1, CourseName: "Lập trình Go", CoursePrice: 100},
			{CourseID: 2, CourseName: "SQL cơ bản", CoursePrice: 40},
		},
	}
}

func TestNotificationWorker_SendsReceipt(t *testing.T) {
	store := &fakeNotificationStore{users: map[int64]*models.User{
		7: {ID: 7, Email: "hoc.vien@example.com", FullName: "Học Viên"},
	}}
	sender := &fakeSender{}
	w := NewNotificationWorker(nil, store, sender)

	err := w.handleOrderCompleted(context.Background(), completedEvent())
	require.NoError(t, err)

	require.Len(t, sender.to, 1)
	assert.Equal(t, "hoc.vien@example.com", sender.to[0])
	assert.Contains(t, sender.subjects[0], "ORDER_1_7_abc")
	assert.Contains(t, sender.bodies[0], "Lập trình Go")
	assert.Contains(t, sender.bodies[0], "SQL cơ bản")
	assert.Contains(t, sender.bodies[0], "140")
}

func TestNotificationWorker_SendFailureIsRetried(t *testing.T) {
	store := &fakeNotificationStore{users: map[int64]*models.User{
		7: {ID: 7, Email: "hoc.vien@example.com", FullName: "Học Viên"},
	}}
	sender := &fakeSender{err: errors.New("relay down")}
	w := NewNotificationWorker(nil, store, sender)

	// An error leaves the message uncommitted so the consumer redelivers it.
	err := w.handleOrderCompleted(context.Background(), completedEvent())
	assert.Error(t, err)
}

func TestNotificationWorker_MissingUserIsDropped(t *testing.T) {
	store := &fakeNotificationStore{users: map[int64]*models.User{}}
	sender := &fakeSender{}
	w := NewNotificationWorker(nil, store, sender)

	err := w.handleOrderCompleted(context.Background(), completedEvent())
	assert.NoError(t, err, "a deleted account must not wedge the consumer group")
	assert.Empty(t, sender.to)
}

func TestNotificationWorker_NilSenderDrops(t *testing.T) {
	store := &fakeNotificationStore{users: map[int64]*models.User{
		7: {ID: 7, Email: "hoc.vien@example.com"},
	}}
	w := NewNotificationWorker(nil, store, nil)

	err := w.handleOrderCompleted(context.Background(), completedEvent())
	assert.NoError(t, err)
}

type fakeReaperStore struct {
	reaped  []models.Order
	cutoffs []time.Time
	err     error
}

func (f *fakeReaperStore) ReapStaleOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return nil, f.err
	}
	return f.reaped, nil
}

type fakeCancelledSink struct {
	events []*models.OrderCancelledEvent
}

func (f *fakeCancelledSink) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	f.events = append(f.events, e)
	return nil
}

func TestReaper_PublishesCancellations(t *testing.T) {
	store := &fakeReaperStore{reaped: []models.Order{
		{ID: 1, UserID: 7, TxnRef: "ORDER_1_7_a", Status: models.OrderStatusCancelled},
		{ID: 2, UserID: 8, TxnRef: "ORDER_2_8_b", Status: models.OrderStatusCancelled},
	}}
	sink := &fakeCancelledSink{}
	w := NewReaperWorker(store, sink, 15*time.Minute)

	w.reapOnce(context.Background())

	require.Len(t, store.cutoffs, 1)
	assert.WithinDuration(t, time.Now().Add(-15*time.Minute), store.cutoffs[0], 5*time.Second)

	require.Len(t, sink.events, 2)
	assert.Equal(t, "timeout", sink.events[0].Reason)
	assert.Equal(t, "ORDER_1_7_a", sink.events[0].TxnRef)
	assert.NotEmpty(t, sink.events[0].EventID)
}

func TestReaper_NothingToReap(t *testing.T) {
	store := &fakeReaperStore{}
	sink := &fakeCancelledSink{}
	w := NewReaperWorker(store, sink, 15*time.Minute)

	w.reapOnce(context.Background())
	assert.Empty(t, sink.events)
}

func TestReaper_IntervalFloor(t *testing.T) {
	w := NewReaperWorker(&fakeReaperStore{}, nil, 2*time.Minute)
	assert.Equal(t, time.Minute, w.interval)

	w = NewReaperWorker(&fakeReaperStore{}, nil, time.Hour)
	assert.Equal(t, 15*time.Minute, w.interval)
}
