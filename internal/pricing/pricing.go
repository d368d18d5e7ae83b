package pricing

import (
	"math"
	"time"

	"learnhub/internal/models"
)

// EffectivePrice computes the price a buyer pays for a course at the given
// instant. The sale applies only when its value is positive and now falls
// inside the [StartDate, EndDate] window; a missing bound leaves that side
// open. The result is never negative and never exceeds the list price.
//
// Checkout freezes this value into the order detail, so the same inputs must
// always produce the same output.
func EffectivePrice(price int64, sale *models.Sale, now time.Time) int64 {
	if sale == nil || sale.Value <= 0 {
		return clamp(price)
	}
	if sale.StartDate != nil && sale.StartDate.After(now) {
		return clamp(price)
	}
	if sale.EndDate != nil && sale.EndDate.Before(now) {
		return clamp(price)
	}

	switch sale.Type {
	case models.SaleTypePercent:
		discounted := math.Round(float64(price) * (1 - float64(sale.Value)/100))
		return clamp(int64(discounted))
	case models.SaleTypeFixed:
		return clamp(price - sale.Value)
	default:
		return clamp(price)
	}
}

// CoursePrice is EffectivePrice applied to a course record.
func CoursePrice(c *models.Course, now time.Time) int64 {
	return EffectivePrice(c.Price, c.Sale(), now)
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
