package domain

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderOnHold     OrderStatus = "on-hold"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderFailed     OrderStatus = "failed"
	OrderRefunded   OrderStatus = "refunded"
)

func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderPending, OrderProcessing, OrderOnHold, OrderCompleted,
		OrderCancelled, OrderFailed, OrderRefunded:
		return OrderStatus(s), true
	default:
		return "", false
	}
}

// CountsTowardLimit reports whether an order in this status is held against
// the customer's order-rate window. Cancelled, failed and refunded orders
// never count.
func (s OrderStatus) CountsTowardLimit() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderOnHold, OrderCompleted:
		return true
	default:
		return false
	}
}

// Order is the projection of a placed storefront order that the guard keeps
// for window counting and phone history. The storefront owns the real order.
type Order struct {
	ID        int64       `json:"id"`
	OrderRef  string      `json:"order_ref"`
	SessionID string      `json:"session_id,omitempty"`
	Phone     string      `json:"phone"`
	Email     string      `json:"email"`
	Status    OrderStatus `json:"status"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}

// CompleteOrderRequest is the storefront payload announcing a placed order.
type CompleteOrderRequest struct {
	OrderRef  string  `json:"order_ref" validate:"required,printascii,max=64"`
	SessionID string  `json:"session_id" validate:"omitempty,printascii,max=100"`
	Phone     string  `json:"phone" validate:"omitempty,max=20"`
	Email     string  `json:"email" validate:"omitempty,email,max=100"`
	Status    string  `json:"status" validate:"omitempty,max=20"`
	Total     float64 `json:"total" validate:"gte=0"`
}

// PhoneStats aggregates a customer's order history across every stored
// variation of one phone number.
type PhoneStats struct {
	Phone     string              `json:"phone"`
	Total     int                 `json:"total"`
	ByStatus  map[OrderStatus]int `json:"by_status"`
	FirstSeen *time.Time          `json:"first_seen,omitempty"`
	LastSeen  *time.Time          `json:"last_seen,omitempty"`
}
