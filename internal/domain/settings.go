package domain

type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
)

type LimitMethod string

const (
	MethodPhone LimitMethod = "billing_phone"
	MethodEmail LimitMethod = "billing_email"
)

// RateLimitPolicy is loaded fresh from settings for each checkout attempt and
// is immutable during one evaluation.
type RateLimitPolicy struct {
	Count     int         `json:"count"`
	TimeValue int         `json:"time_value"`
	TimeUnit  TimeUnit    `json:"time_unit"`
	Method    LimitMethod `json:"method"`
}

// Settings is the full persisted configuration of the guard.
type Settings struct {
	PhoneValidationEnabled bool   `json:"phone_validation_enabled"`
	PhoneErrorMessage      string `json:"phone_error_message"`

	OrderLimitEnabled     bool        `json:"order_limit_enabled"`
	OrderLimitCount       int         `json:"order_limit_count"`
	OrderLimitTimeValue   int         `json:"order_limit_time_value"`
	OrderLimitTimeUnit    TimeUnit    `json:"order_limit_time_unit"`
	OrderLimitMethod      LimitMethod `json:"order_limit_method"`
	OrderLimitDenyMessage string      `json:"order_limit_deny_message"`
	OrderLimitInfoMessage string      `json:"order_limit_info_message"`

	BlocklistEnabled bool   `json:"blocklist_enabled"`
	BlockedMessage   string `json:"blocked_message"`

	IncompleteOrdersEnabled bool `json:"incomplete_orders_enabled"`

	FraudCheckUseAI bool `json:"fraud_check_use_ai"`
}

func DefaultSettings() Settings {
	return Settings{
		PhoneValidationEnabled: false,
		PhoneErrorMessage:      "Please enter a valid Bangladeshi mobile number (e.g., 01712345678, +8801712345678)",

		OrderLimitEnabled:     false,
		OrderLimitCount:       5,
		OrderLimitTimeValue:   60,
		OrderLimitTimeUnit:    UnitMinutes,
		OrderLimitMethod:      MethodPhone,
		OrderLimitDenyMessage: "You have already placed {{ count }} orders in the last {{ period }} {{ unit }}. Please wait {{ remaining }} {{ remaining_unit }} before placing another order.",
		OrderLimitInfoMessage: "To ensure fair access, customers are limited to {{ limit }} orders per {{ period }} {{ unit }}.",

		BlocklistEnabled: false,
		BlockedMessage:   "You are currently blocked from placing new orders. Please contact us for assistance.",

		IncompleteOrdersEnabled: false,

		FraudCheckUseAI: false,
	}
}

// Policy extracts the rate-limit policy portion of the settings.
func (s Settings) Policy() RateLimitPolicy {
	return RateLimitPolicy{
		Count:     s.OrderLimitCount,
		TimeValue: s.OrderLimitTimeValue,
		TimeUnit:  s.OrderLimitTimeUnit,
		Method:    s.OrderLimitMethod,
	}
}
