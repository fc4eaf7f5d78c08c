package events

import "time"

// Subjects used on the bus.
const (
	CheckoutDenied   = "checkout.denied"
	CheckoutCaptured = "checkout.captured"
	OrderRecorded    = "orders.recorded"
	OrderStatus      = "orders.status"
)

// CheckoutDeniedEvent is published when the guard pipeline rejects a checkout.
type CheckoutDeniedEvent struct {
	SessionID string    `json:"session_id"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Check     string    `json:"check"`
	Reason    string    `json:"reason"`
	DeniedAt  time.Time `json:"denied_at"`
}

// CheckoutCapturedEvent is published when a partial checkout form is stored.
type CheckoutCapturedEvent struct {
	SessionID  string    `json:"session_id"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	CartTotal  float64   `json:"cart_total"`
	CapturedAt time.Time `json:"captured_at"`
}

// OrderRecordedEvent is published after a placed order is projected into the
// guard's order store.
type OrderRecordedEvent struct {
	OrderRef   string    `json:"order_ref"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OrderStatusEvent is consumed from the storefront when an order changes
// status after placement (cancelled, refunded, completed and so on).
type OrderStatusEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
