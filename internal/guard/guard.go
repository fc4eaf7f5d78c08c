// Package guard runs the checkout validation pipeline: an ordered list of
// checks, each returning allow or deny-with-reason. The first deny wins.
// Infrastructure failures inside a check never deny a checkout.
package guard

import (
	"context"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/limiter"
	"github.com/sohojware/checkout-guard/internal/phone"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

// Check names reported in denials and events.
const (
	CheckPhone     = "phone_validation"
	CheckBlocklist = "blocklist"
	CheckRateLimit = "order_limit"
)

// Attempt is one checkout submission as seen by the guard.
type Attempt struct {
	SessionID string `json:"session_id"`
	IP        string `json:"ip"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Denial identifies the check that rejected the attempt and the customer
// facing message.
type Denial struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Blocklist answers whether an IP or a normalized phone is on the deny list.
type Blocklist interface {
	IsBlocked(ctx context.Context, ip, normalizedPhone string) (bool, error)
}

// Pipeline evaluates an attempt against the enabled checks in a fixed order:
// phone validation, blocklist, order-rate limit.
type Pipeline struct {
	blocklist Blocklist
	orders    limiter.OrderSource
}

func NewPipeline(blocklist Blocklist, orders limiter.OrderSource) *Pipeline {
	return &Pipeline{blocklist: blocklist, orders: orders}
}

// Run returns nil when the checkout may proceed. Settings are loaded fresh by
// the caller for every attempt.
func (p *Pipeline) Run(ctx context.Context, attempt Attempt, settings domain.Settings) *Denial {
	if d := p.checkPhone(attempt, settings); d != nil {
		return d
	}
	if d := p.checkBlocklist(ctx, attempt, settings); d != nil {
		return d
	}
	return p.checkRateLimit(ctx, attempt, settings)
}

func (p *Pipeline) checkPhone(attempt Attempt, settings domain.Settings) *Denial {
	if !settings.PhoneValidationEnabled {
		return nil
	}

	v := phone.Validate(attempt.Phone)
	if v.Valid {
		return nil
	}

	message := v.Message
	if attempt.Phone != "" && settings.PhoneErrorMessage != "" {
		message = settings.PhoneErrorMessage
	}
	return &Denial{Check: CheckPhone, Message: message}
}

func (p *Pipeline) checkBlocklist(ctx context.Context, attempt Attempt, settings domain.Settings) *Denial {
	if !settings.BlocklistEnabled {
		return nil
	}
	if attempt.IP == "" && attempt.Phone == "" {
		return nil
	}

	blocked, err := p.blocklist.IsBlocked(ctx, attempt.IP, phone.Normalize(attempt.Phone))
	if err != nil {
		logger.ErrorContext(ctx, "blocklist lookup failed, allowing checkout", "error", err)
		return nil
	}
	if !blocked {
		return nil
	}
	return &Denial{Check: CheckBlocklist, Message: settings.BlockedMessage}
}

func (p *Pipeline) checkRateLimit(ctx context.Context, attempt Attempt, settings domain.Settings) *Denial {
	if !settings.OrderLimitEnabled {
		return nil
	}

	policy := settings.Policy()
	identifier := attempt.Phone
	if policy.Method == domain.MethodEmail {
		identifier = attempt.Email
	}
	if identifier == "" {
		return nil
	}

	decision, err := limiter.Evaluate(ctx, identifier, policy, p.orders)
	if err != nil {
		logger.ErrorContext(ctx, "order source unavailable, allowing checkout", "error", err)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	message := limiter.RenderMessage(settings.OrderLimitDenyMessage, limiter.DenyData(decision, policy))
	return &Denial{Check: CheckRateLimit, Message: message}
}
