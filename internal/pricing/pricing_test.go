package pricing

import (
	"testing"
	"time"

	"learnhub/internal/models"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string    { return &s }
func i64Ptr(v int64) *int64      { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func TestEffectivePriceNoSale(t *testing.T) {
	now := time.Now()

	assert.Equal(t, int64(100000), EffectivePrice(100000, nil, now))
	assert.Equal(t, int64(0), EffectivePrice(-500, nil, now))
}

func TestEffectivePricePercent(t *testing.T) {
	now := time.Now()

	sale := &models.Sale{Type: models.SaleTypePercent, Value: 20}
	assert.Equal(t, int64(80), EffectivePrice(100, sale, now))

	// rounding: 50% of 99 -> round(49.5) = 50
	sale = &models.Sale{Type: models.SaleTypePercent, Value: 50}
	assert.Equal(t, int64(50), EffectivePrice(99, sale, now))
}

func TestEffectivePriceFixed(t *testing.T) {
	now := time.Now()

	sale := &models.Sale{Type: models.SaleTypeFixed, Value: 30}
	assert.Equal(t, int64(70), EffectivePrice(100, sale, now))

	// floored at zero when the discount exceeds the price
	sale = &models.Sale{Type: models.SaleTypeFixed, Value: 150}
	assert.Equal(t, int64(0), EffectivePrice(100, sale, now))
}

func TestEffectivePriceWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	sale := &models.Sale{Type: models.SaleTypePercent, Value: 20}

	// not started yet
	sale.StartDate = timePtr(now.Add(time.Hour))
	assert.Equal(t, int64(100), EffectivePrice(100, sale, now))

	// already ended
	sale.StartDate = nil
	sale.EndDate = timePtr(now.Add(-time.Hour))
	assert.Equal(t, int64(100), EffectivePrice(100, sale, now))

	// inside the window
	sale.StartDate = timePtr(now.Add(-time.Hour))
	sale.EndDate = timePtr(now.Add(time.Hour))
	assert.Equal(t, int64(80), EffectivePrice(100, sale, now))

	// open-ended on both sides
	sale.StartDate = nil
	sale.EndDate = nil
	assert.Equal(t, int64(80), EffectivePrice(100, sale, now))

	// boundary instants are inclusive
	sale.StartDate = timePtr(now)
	sale.EndDate = timePtr(now)
	assert.Equal(t, int64(80), EffectivePrice(100, sale, now))
}

func TestEffectivePriceZeroValueIgnored(t *testing.T) {
	now := time.Now()
	sale := &models.Sale{Type: models.SaleTypePercent, Value: 0}
	assert.Equal(t, int64(100), EffectivePrice(100, sale, now))
}

func TestEffectivePriceNeverExceedsListPrice(t *testing.T) {
	now := time.Now()
	for _, price := range []int64{0, 1, 99, 100000, 1999000} {
		for _, sale := range []*models.Sale{
			nil,
			{Type: models.SaleTypePercent, Value: 10},
			{Type: models.SaleTypePercent, Value: 50},
			{Type: models.SaleTypeFixed, Value: 50000},
		} {
			got := EffectivePrice(price, sale, now)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.LessOrEqual(t, got, price)
		}
	}
}

func TestCoursePrice(t *testing.T) {
	now := time.Now()

	course := &models.Course{
		Price:     50000,
		SaleType:  strPtr(models.SaleTypePercent),
		SaleValue: i64Ptr(20),
	}
	assert.Equal(t, int64(40000), CoursePrice(course, now))

	// no sale columns set
	course = &models.Course{Price: 50000}
	assert.Equal(t, int64(50000), CoursePrice(course, now))
}
