package domain

import "time"

type IncompleteStatus string

const (
	IncompleteOpen      IncompleteStatus = "incomplete"
	IncompleteCompleted IncompleteStatus = "completed"
	IncompleteRejected  IncompleteStatus = "rejected"
)

func ParseIncompleteStatus(s string) (IncompleteStatus, bool) {
	switch IncompleteStatus(s) {
	case IncompleteOpen, IncompleteCompleted, IncompleteRejected:
		return IncompleteStatus(s), true
	default:
		return "", false
	}
}

// CartItem is one line of the cart snapshot stored with an incomplete order.
type CartItem struct {
	ProductID   int64   `json:"product_id"`
	VariationID int64   `json:"variation_id,omitempty"`
	Quantity    int     `json:"quantity"`
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	LineTotal   float64 `json:"line_total"`
}

// IncompleteOrder is a checkout session where contact fields were captured
// but no order was finalized. One row per session; captures upsert.
type IncompleteOrder struct {
	ID                int64            `json:"id"`
	SessionID         string           `json:"session_id"`
	CustomerEmail     string           `json:"customer_email"`
	CustomerPhone     string           `json:"customer_phone"`
	BillingFirstName  string           `json:"billing_first_name"`
	BillingLastName   string           `json:"billing_last_name"`
	BillingAddress1   string           `json:"billing_address_1"`
	BillingCity       string           `json:"billing_city"`
	BillingState      string           `json:"billing_state"`
	BillingPostcode   string           `json:"billing_postcode"`
	ShippingFirstName string           `json:"shipping_first_name,omitempty"`
	ShippingLastName  string           `json:"shipping_last_name,omitempty"`
	ShippingAddress1  string           `json:"shipping_address_1,omitempty"`
	ShippingCity      string           `json:"shipping_city,omitempty"`
	ShippingState     string           `json:"shipping_state,omitempty"`
	ShippingPostcode  string           `json:"shipping_postcode,omitempty"`
	CartItems         []CartItem       `json:"cart_items"`
	CartTotal         float64          `json:"cart_total"`
	PaymentMethod     string           `json:"payment_method,omitempty"`
	OrderNotes        string           `json:"order_notes,omitempty"`
	Status            IncompleteStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CalledAt          *time.Time       `json:"called_at,omitempty"`
	ConvertedOrderID  *int64           `json:"converted_order_id,omitempty"`
	ConvertedAt       *time.Time       `json:"converted_at,omitempty"`
	RejectedAt        *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason   string           `json:"rejection_reason,omitempty"`
}

// CaptureRequest is the storefront payload for a partial checkout capture.
type CaptureRequest struct {
	SessionID         string     `json:"session_id" validate:"omitempty,printascii,max=100"`
	CustomerEmail     string     `json:"customer_email" validate:"omitempty,email,max=100"`
	CustomerPhone     string     `json:"customer_phone" validate:"omitempty,max=20"`
	BillingFirstName  string     `json:"billing_first_name" validate:"omitempty,max=50"`
	BillingLastName   string     `json:"billing_last_name" validate:"omitempty,max=50"`
	BillingAddress1   string     `json:"billing_address_1" validate:"omitempty,max=500"`
	BillingCity       string     `json:"billing_city" validate:"omitempty,max=50"`
	BillingState      string     `json:"billing_state" validate:"omitempty,max=50"`
	BillingPostcode   string     `json:"billing_postcode" validate:"omitempty,max=20"`
	ShippingFirstName string     `json:"shipping_first_name" validate:"omitempty,max=50"`
	ShippingLastName  string     `json:"shipping_last_name" validate:"omitempty,max=50"`
	ShippingAddress1  string     `json:"shipping_address_1" validate:"omitempty,max=500"`
	ShippingCity      string     `json:"shipping_city" validate:"omitempty,max=50"`
	ShippingState     string     `json:"shipping_state" validate:"omitempty,max=50"`
	ShippingPostcode  string     `json:"shipping_postcode" validate:"omitempty,max=20"`
	CartItems         []CartItem `json:"cart_items" validate:"omitempty,dive"`
	CartTotal         float64    `json:"cart_total" validate:"gte=0"`
	PaymentMethod     string     `json:"payment_method" validate:"omitempty,max=50"`
	OrderNotes        string     `json:"order_notes" validate:"omitempty,max=2000"`
}

// IncompleteStats is the admin dashboard aggregate for a period.
type IncompleteStats struct {
	Incomplete     int     `json:"incomplete"`
	Converted      int     `json:"converted"`
	ConvertedValue float64 `json:"converted_value"`
	Rejected       int     `json:"rejected"`
	Called         int     `json:"called"`
	ConversionRate float64 `json:"conversion_rate"`
}

// IncompleteFilter narrows admin listings.
type IncompleteFilter struct {
	Status IncompleteStatus
	Search string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// BlockedUser is one deny-list entry. Either IP or phone may be empty, never
// both; phone is stored normalized so format variants collapse to one key.
type BlockedUser struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IPAddress string    `json:"ip_address,omitempty"`
	Phone     string    `json:"phone_number,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}
