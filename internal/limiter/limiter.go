// Package limiter decides whether a customer may place another order inside
// a configured sliding window.
package limiter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/phone"
)

// OrderSource lists a customer's qualifying orders created at or after the
// given instant. Implementations must only return orders whose status counts
// toward the limit.
type OrderSource interface {
	ListRecent(ctx context.Context, method domain.LimitMethod, identifier string, since time.Time) ([]domain.Order, error)
}

// Decision is the outcome of one rate-limit evaluation. It is never persisted.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	OrderCount       int    `json:"order_count"`
	Limit            int    `json:"limit"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	RemainingValue   int    `json:"remaining_value"`
	RemainingUnit    string `json:"remaining_unit"`
}

// WindowSeconds converts the policy's time value and unit into seconds.
// Unknown units fall back to minutes.
func WindowSeconds(policy domain.RateLimitPolicy) int64 {
	switch policy.TimeUnit {
	case domain.UnitHours:
		return int64(policy.TimeValue) * 3600
	default:
		return int64(policy.TimeValue) * 60
	}
}

// Key canonicalizes the identity the window is counted against.
func Key(identifier string, method domain.LimitMethod) string {
	if method == domain.MethodEmail {
		return strings.ToLower(strings.TrimSpace(identifier))
	}
	return phone.Normalize(identifier)
}

// Evaluate counts the identifier's qualifying orders inside the window and
// decides allow or deny. On deny the remaining wait is the time until the
// oldest in-window order slides out. A source error is returned to the
// caller, which must treat it as fail-open.
func Evaluate(ctx context.Context, identifier string, policy domain.RateLimitPolicy, source OrderSource) (Decision, error) {
	window := time.Duration(WindowSeconds(policy)) * time.Second
	now := time.Now()

	orders, err := source.ListRecent(ctx, policy.Method, Key(identifier, policy.Method), now.Add(-window))
	if err != nil {
		return Decision{Allowed: true, Limit: policy.Count}, err
	}

	decision := Decision{
		OrderCount: len(orders),
		Limit:      policy.Count,
	}

	if len(orders) < policy.Count {
		decision.Allowed = true
		return decision, nil
	}

	var oldest time.Time
	for _, o := range orders {
		if oldest.IsZero() || o.CreatedAt.Before(oldest) {
			oldest = o.CreatedAt
		}
	}

	remaining := oldest.Add(window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	decision.RemainingSeconds = int64(remaining.Seconds())
	decision.RemainingValue, decision.RemainingUnit = formatRemaining(decision.RemainingSeconds, policy.TimeUnit)
	return decision, nil
}

// formatRemaining renders a wait as whole hours when the wait spans two or
// more of them (or the policy prefers hours), else whole minutes with a
// displayed minimum of 1.
func formatRemaining(seconds int64, preferred domain.TimeUnit) (int, string) {
	if seconds <= 0 {
		return 0, string(preferred)
	}

	hours := int(seconds / 3600)
	minutes := int((seconds % 3600) / 60)

	if hours > 0 && (preferred == domain.UnitHours || hours >= 2) {
		if hours == 1 {
			return 1, "hour"
		}
		return hours, "hours"
	}

	if minutes < 1 {
		minutes = 1
	}
	if minutes == 1 {
		return 1, "minute"
	}
	return minutes, "minutes"
}

// MessageData carries the placeholder values for deny and info templates.
type MessageData struct {
	Count          int
	Limit          int
	Period         int
	Unit           domain.TimeUnit
	RemainingValue int
	RemainingUnit  string
}

// RenderMessage substitutes {{ ... }} placeholders in a configured template.
// Plain string replacement; escaping is the caller's concern.
func RenderMessage(template string, data MessageData) string {
	r := strings.NewReplacer(
		"{{ count }}", strconv.Itoa(data.Count),
		"{{ limit }}", strconv.Itoa(data.Limit),
		"{{ period }}", strconv.Itoa(data.Period),
		"{{ unit }}", string(data.Unit),
		"{{ remaining }}", strconv.Itoa(data.RemainingValue),
		"{{ remaining_unit }}", data.RemainingUnit,
	)
	return r.Replace(template)
}

// DenyData builds the template data for a deny decision.
func DenyData(decision Decision, policy domain.RateLimitPolicy) MessageData {
	return MessageData{
		Count:          decision.OrderCount,
		Limit:          policy.Count,
		Period:         policy.TimeValue,
		Unit:           policy.TimeUnit,
		RemainingValue: decision.RemainingValue,
		RemainingUnit:  decision.RemainingUnit,
	}
}

// InfoData builds the template data for the pre-checkout info message.
func InfoData(policy domain.RateLimitPolicy) MessageData {
	return MessageData{
		Limit:         policy.Count,
		Period:        policy.TimeValue,
		Unit:          policy.TimeUnit,
		RemainingUnit: string(policy.TimeUnit),
	}
}
