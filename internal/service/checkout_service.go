package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/guard"
	"github.com/sohojware/checkout-guard/internal/limiter"
	"github.com/sohojware/checkout-guard/internal/repository"
	"github.com/sohojware/checkout-guard/pkg/events"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

// ValidateResult is the storefront-facing answer for one checkout attempt.
// A denial is a domain answer, not a transport error.
type ValidateResult struct {
	Allowed     bool   `json:"allowed"`
	Check       string `json:"check,omitempty"`
	Message     string `json:"message,omitempty"`
	InfoMessage string `json:"info_message,omitempty"`
}

// CaptureResult reports whether a partial checkout was stored; Stored is
// false when incomplete-order tracking is switched off.
type CaptureResult struct {
	Stored bool                    `json:"stored"`
	Record *domain.IncompleteOrder `json:"record,omitempty"`
}

type CheckoutService interface {
	Validate(ctx context.Context, attempt guard.Attempt) (*ValidateResult, error)
	Capture(ctx context.Context, req *domain.CaptureRequest) (*CaptureResult, error)
	Complete(ctx context.Context, req *domain.CompleteOrderRequest) (*domain.Order, error)
	SubscribeOrderStatus(bus events.Subscriber) error
}

type checkoutService struct {
	pipeline       *guard.Pipeline
	settingsRepo   repository.SettingsRepository
	incompleteRepo repository.IncompleteRepository
	orderRepo      repository.OrderRepository
	eventBus       events.EventBus
}

func NewCheckoutService(
	pipeline *guard.Pipeline,
	settingsRepo repository.SettingsRepository,
	incompleteRepo repository.IncompleteRepository,
	orderRepo repository.OrderRepository,
	eventBus events.EventBus,
) CheckoutService {
	return &checkoutService{
		pipeline:       pipeline,
		settingsRepo:   settingsRepo,
		incompleteRepo: incompleteRepo,
		orderRepo:      orderRepo,
		eventBus:       eventBus,
	}
}

// Validate loads settings fresh, runs the guard pipeline and publishes a
// denial event when a check rejects the attempt. A settings load failure is
// fail-open: the defaults returned by the repository still apply.
func (s *checkoutService) Validate(ctx context.Context, attempt guard.Attempt) (*ValidateResult, error) {
	settings, err := s.settingsRepo.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "settings load failed, using defaults", "error", err)
	}

	denial := s.pipeline.Run(ctx, attempt, settings)
	if denial == nil {
		result := &ValidateResult{Allowed: true}
		if settings.OrderLimitEnabled {
			result.InfoMessage = limiter.RenderMessage(
				settings.OrderLimitInfoMessage, limiter.InfoData(settings.Policy()))
		}
		return result, nil
	}

	event := events.CheckoutDeniedEvent{
		SessionID: attempt.SessionID,
		Phone:     attempt.Phone,
		Email:     attempt.Email,
		IP:        attempt.IP,
		Check:     denial.Check,
		Reason:    denial.Message,
		DeniedAt:  time.Now(),
	}
	if err := s.eventBus.Publish(ctx, events.CheckoutDenied, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish checkout denied event", "error", err, "check", denial.Check)
	}

	return &ValidateResult{
		Allowed: false,
		Check:   denial.Check,
		Message: denial.Message,
	}, nil
}

// Capture upserts the partial checkout form for the session. Tracking is a
// settings toggle; when off the payload is dropped without error.
func (s *checkoutService) Capture(ctx context.Context, req *domain.CaptureRequest) (*CaptureResult, error) {
	settings, err := s.settingsRepo.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "settings load failed, using defaults", "error", err)
	}
	if !settings.IncompleteOrdersEnabled {
		return &CaptureResult{Stored: false}, nil
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	record, err := s.incompleteRepo.Upsert(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to store incomplete order: %w", err)
	}

	event := events.CheckoutCapturedEvent{
		SessionID:  req.SessionID,
		Email:      req.CustomerEmail,
		Phone:      req.CustomerPhone,
		CartTotal:  req.CartTotal,
		CapturedAt: time.Now(),
	}
	if err := s.eventBus.Publish(ctx, events.CheckoutCaptured, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish checkout captured event", "error", err, "session_id", req.SessionID)
	}

	return &CaptureResult{Stored: true, Record: record}, nil
}

// Complete projects a placed storefront order into the guard's order store
// and closes the matching incomplete session, if any.
func (s *checkoutService) Complete(ctx context.Context, req *domain.CompleteOrderRequest) (*domain.Order, error) {
	status := domain.OrderPending
	if req.Status != "" {
		parsed, ok := domain.ParseOrderStatus(req.Status)
		if !ok {
			return nil, fmt.Errorf("unknown order status %q", req.Status)
		}
		status = parsed
	}

	order, err := s.orderRepo.Record(ctx, &domain.Order{
		OrderRef:  req.OrderRef,
		SessionID: req.SessionID,
		Phone:     req.Phone,
		Email:     req.Email,
		Status:    status,
		Total:     req.Total,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	if req.SessionID != "" {
		marked, err := s.incompleteRepo.MarkCompleted(ctx, req.SessionID, order.ID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to complete incomplete session", "error", err, "session_id", req.SessionID)
		} else if marked {
			logger.InfoContext(ctx, "incomplete session converted by order placement",
				"session_id", req.SessionID, "order_ref", order.OrderRef)
		}
	}

	event := events.OrderRecordedEvent{
		OrderRef:   order.OrderRef,
		Phone:      order.Phone,
		Email:      order.Email,
		Status:     string(order.Status),
		Total:      order.Total,
		RecordedAt: time.Now(),
	}
	if err := s.eventBus.Publish(ctx, events.OrderRecorded, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish order recorded event", "error", err, "order_ref", order.OrderRef)
	}

	return order, nil
}

// SubscribeOrderStatus consumes storefront status changes so cancelled,
// failed and refunded orders stop counting toward the rate window.
func (s *checkoutService) SubscribeOrderStatus(bus events.Subscriber) error {
	return bus.QueueSubscribe(events.OrderStatus, "checkout-guard", func(msg *events.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var event events.OrderStatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("invalid order status event", "error", err)
			return
		}

		status, ok := domain.ParseOrderStatus(event.Status)
		if !ok {
			logger.Warn("ignoring unknown order status", "order_ref", event.OrderID, "status", event.Status)
			return
		}

		updated, err := s.orderRepo.UpdateStatusByRef(ctx, event.OrderID, status)
		if err != nil {
			logger.Error("failed to apply order status change", "error", err, "order_ref", event.OrderID)
			return
		}
		if !updated {
			logger.Warn("status change for unknown order", "order_ref", event.OrderID, "status", event.Status)
			return
		}
		logger.Info("order status updated", "order_ref", event.OrderID, "status", event.Status)
	})
}
