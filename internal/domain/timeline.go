package domain

import "time"

// Типы событий активности корзины.
const (
	TimelineItemAdded         = "ItemAdded"
	TimelineItemDecremented   = "ItemDecremented"
	TimelineCartCleared       = "CartCleared"
	TimelineCheckoutSubmitted = "CheckoutSubmitted"
)

// TimelineEvent описывает событие в жизненном цикле корзины.
type TimelineEvent struct {
	CartKey  string
	Type     string
	Detail   string
	Occurred time.Time
}
