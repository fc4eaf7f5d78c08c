package limiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/limiter"
)

type fakeSource struct {
	orders  []domain.Order
	err     error
	gotKey  string
	gotMeth domain.LimitMethod
}

func (f *fakeSource) ListRecent(_ context.Context, method domain.LimitMethod, identifier string, since time.Time) ([]domain.Order, error) {
	f.gotKey = identifier
	f.gotMeth = method
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if !o.CreatedAt.Before(since) && o.Status.CountsTowardLimit() {
			out = append(out, o)
		}
	}
	return out, nil
}

func ordersAgo(status domain.OrderStatus, ages ...time.Duration) []domain.Order {
	now := time.Now()
	out := make([]domain.Order, 0, len(ages))
	for i, age := range ages {
		out = append(out, domain.Order{
			ID:        int64(i + 1),
			Status:    status,
			CreatedAt: now.Add(-age),
		})
	}
	return out
}

func minutePolicy(count, minutes int) domain.RateLimitPolicy {
	return domain.RateLimitPolicy{
		Count:     count,
		TimeValue: minutes,
		TimeUnit:  domain.UnitMinutes,
		Method:    domain.MethodPhone,
	}
}

func TestWindowSeconds(t *testing.T) {
	tests := []struct {
		value int
		unit  domain.TimeUnit
		want  int64
	}{
		{60, domain.UnitMinutes, 3600},
		{2, domain.UnitHours, 7200},
		{30, domain.TimeUnit("weeks"), 1800}, // unknown unit defaults to minutes
	}
	for _, tt := range tests {
		p := domain.RateLimitPolicy{TimeValue: tt.value, TimeUnit: tt.unit}
		if got := limiter.WindowSeconds(p); got != tt.want {
			t.Errorf("WindowSeconds(%d %s) = %d, want %d", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestKeyNormalization(t *testing.T) {
	if got := limiter.Key("+880 1712-345678", domain.MethodPhone); got != "01712345678" {
		t.Errorf("phone key = %q, want 01712345678", got)
	}
	if got := limiter.Key("  Customer@Example.COM ", domain.MethodEmail); got != "customer@example.com" {
		t.Errorf("email key = %q, want lowercased trimmed", got)
	}
}

func TestEvaluateUnderLimit(t *testing.T) {
	src := &fakeSource{orders: ordersAgo(domain.OrderProcessing, 5*time.Minute, 10*time.Minute, 20*time.Minute, 30*time.Minute)}

	d, err := limiter.Evaluate(context.Background(), "01712345678", minutePolicy(5, 60), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected allow with 4 orders against a limit of 5")
	}
	if d.OrderCount != 4 {
		t.Errorf("order count = %d, want 4", d.OrderCount)
	}
}

func TestEvaluateAtLimit(t *testing.T) {
	src := &fakeSource{orders: ordersAgo(domain.OrderProcessing,
		10*time.Minute, 10*time.Minute, 10*time.Minute, 10*time.Minute, 10*time.Minute)}

	d, err := limiter.Evaluate(context.Background(), "01712345678", minutePolicy(5, 60), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected deny with 5 orders against a limit of 5")
	}
	if d.RemainingSeconds < 0 {
		t.Errorf("remaining seconds = %d, want >= 0", d.RemainingSeconds)
	}
	// All five orders were placed 10 minutes ago inside a 60 minute window,
	// so roughly 50 minutes remain.
	if d.RemainingValue < 49 || d.RemainingValue > 50 {
		t.Errorf("remaining = %d %s, want about 50 minutes", d.RemainingValue, d.RemainingUnit)
	}
	if d.RemainingUnit != "minutes" {
		t.Errorf("remaining unit = %q, want minutes", d.RemainingUnit)
	}
}

func TestEvaluateIgnoresNonQualifyingStatuses(t *testing.T) {
	qualifying := ordersAgo(domain.OrderCompleted, 5*time.Minute, 15*time.Minute, 25*time.Minute, 35*time.Minute)
	noise := append(ordersAgo(domain.OrderCancelled, 2*time.Minute),
		append(ordersAgo(domain.OrderFailed, 3*time.Minute), ordersAgo(domain.OrderRefunded, 4*time.Minute)...)...)

	src := &fakeSource{orders: append(qualifying, noise...)}
	d, err := limiter.Evaluate(context.Background(), "01712345678", minutePolicy(5, 60), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("cancelled/failed/refunded orders must not count toward the limit")
	}
	if d.OrderCount != 4 {
		t.Errorf("order count = %d, want 4", d.OrderCount)
	}
}

func TestEvaluateHoursWindow(t *testing.T) {
	policy := domain.RateLimitPolicy{
		Count:     1,
		TimeValue: 6,
		TimeUnit:  domain.UnitHours,
		Method:    domain.MethodEmail,
	}
	src := &fakeSource{orders: ordersAgo(domain.OrderPending, 1*time.Hour)}

	d, err := limiter.Evaluate(context.Background(), "buyer@example.com", policy, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected deny")
	}
	if d.RemainingUnit != "hours" {
		t.Errorf("remaining unit = %q, want hours", d.RemainingUnit)
	}
	if d.RemainingValue != 4 && d.RemainingValue != 5 {
		t.Errorf("remaining = %d hours, want about 5", d.RemainingValue)
	}
	if src.gotMeth != domain.MethodEmail {
		t.Errorf("method passed to source = %q, want email", src.gotMeth)
	}
}

func TestEvaluateMinimumDisplayedMinute(t *testing.T) {
	// Oldest order is about to slide out of the window; the displayed wait
	// must never be "0 minutes".
	src := &fakeSource{orders: ordersAgo(domain.OrderProcessing, 59*time.Minute+40*time.Second)}

	d, err := limiter.Evaluate(context.Background(), "01712345678", minutePolicy(1, 60), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected deny")
	}
	if d.RemainingValue < 1 {
		t.Errorf("remaining = %d, want at least 1", d.RemainingValue)
	}
}

func TestEvaluateSourceErrorFailsOpen(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}

	d, err := limiter.Evaluate(context.Background(), "01712345678", minutePolicy(1, 60), src)
	if err == nil {
		t.Fatal("expected the source error to surface")
	}
	if !d.Allowed {
		t.Fatal("a source failure must not deny the checkout")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := limiter.RenderMessage(
		"You placed {{ count }} of {{ limit }} orders in {{ period }} {{ unit }}; wait {{ remaining }} {{ remaining_unit }}.",
		limiter.MessageData{Count: 5, Limit: 5, Period: 60, Unit: domain.UnitMinutes, RemainingValue: 50, RemainingUnit: "minutes"},
	)
	want := "You placed 5 of 5 orders in 60 minutes; wait 50 minutes."
	if msg != want {
		t.Errorf("rendered = %q, want %q", msg, want)
	}
}
