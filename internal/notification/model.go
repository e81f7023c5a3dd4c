// Package notification holds the notification record model, the store
// interface, and the service facade that mediates all reads and writes.
package notification

import "time"

// Category is the closed set of notification categories.
type Category string

const (
	CategoryOrderConfirmed Category = "ORDER_CONFIRMED"
	CategoryOrderShipped   Category = "ORDER_SHIPPED"
	CategoryOrderDelivered Category = "ORDER_DELIVERED"
	CategoryPaymentSuccess Category = "PAYMENT_SUCCESS"
	CategoryPaymentFailed  Category = "PAYMENT_FAILED"
	CategoryInventoryLow   Category = "INVENTORY_LOW"
	// CategoryPromotion has no event topic; it is reachable only through
	// the facade's direct create path.
	CategoryPromotion Category = "PROMOTION"
)

var validCategories = map[Category]struct{}{
	CategoryOrderConfirmed: {},
	CategoryOrderShipped:   {},
	CategoryOrderDelivered: {},
	CategoryPaymentSuccess: {},
	CategoryPaymentFailed:  {},
	CategoryInventoryLow:   {},
	CategoryPromotion:      {},
}

// Valid reports whether c is part of the closed enumeration.
func (c Category) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

// Notification is the persisted per-user record. Only IsRead (and UpdatedAt)
// change after creation; everything else is immutable.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Category  Category               `json:"category"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	IsRead    bool                   `json:"isRead"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// CreateRequest carries everything needed to create a notification. Produced
// by event transformers or by direct (administrative) create calls.
type CreateRequest struct {
	UserID   string                 `json:"userId"`
	Category Category               `json:"category"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
