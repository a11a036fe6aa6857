package kafka

import "time"

// EventType определяет тип события витрины
type EventType string

const (
	// Order события
	EventTypeOrderSubmitted EventType = "order.submitted"

	// Cart события
	EventTypeCartItemAdded   EventType = "cart.item_added"
	EventTypeCartItemRemoved EventType = "cart.item_removed"
	EventTypeCartCleared     EventType = "cart.cleared"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicCartEvents      = "storefront.cart.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderSubmittedEvent представляет событие принятого заказа
type OrderSubmittedEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderRef   string                 `json:"order_ref"`
	Identifier string                 `json:"identifier"`
	TotalMinor int64                  `json:"total_minor"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// CartEvent представляет событие корзины
type CartEvent struct {
	EventType EventType              `json:"event_type"`
	CartKey   string                 `json:"cart_key"`
	ItemID    string                 `json:"item_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderSubmittedEvent создает новое событие принятого заказа
func NewOrderSubmittedEvent(orderRef, identifier string, totalMinor int64, metadata map[string]interface{}) *OrderSubmittedEvent {
	return &OrderSubmittedEvent{
		EventType:  EventTypeOrderSubmitted,
		OrderRef:   orderRef,
		Identifier: identifier,
		TotalMinor: totalMinor,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}

// NewCartEvent создает новое событие корзины
func NewCartEvent(eventType EventType, cartKey, itemID string, metadata map[string]interface{}) *CartEvent {
	return &CartEvent{
		EventType: eventType,
		CartKey:   cartKey,
		ItemID:    itemID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
