package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/fraud"
	"github.com/sohojware/checkout-guard/internal/license"
	"github.com/sohojware/checkout-guard/internal/mailer"
	"github.com/sohojware/checkout-guard/internal/phone"
	"github.com/sohojware/checkout-guard/internal/repository"
	"github.com/sohojware/checkout-guard/pkg/events"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

var (
	// ErrLicenseInactive gates fraud checks behind an activated subscription.
	ErrLicenseInactive = errors.New("license is not active")
	// ErrInvalidBlockTarget rejects blocklist entries with neither an IP nor
	// a valid phone number.
	ErrInvalidBlockTarget = errors.New("either an IP address or a valid phone number is required")
	// ErrNotIncomplete rejects state transitions on terminal records.
	ErrNotIncomplete = errors.New("record is not in incomplete state")
	// ErrNoRecipient rejects recovery mail for records without an email.
	ErrNoRecipient = errors.New("record has no customer email")
)

type AdminService interface {
	ListBlocked(ctx context.Context, limit, offset int) ([]domain.BlockedUser, error)
	Block(ctx context.Context, name, ip, rawPhone string) (*domain.BlockedUser, error)
	BlockFromOrders(ctx context.Context, orderRefs []string) ([]domain.BlockedUser, []string, error)
	Unblock(ctx context.Context, id int64) (bool, error)

	ListIncomplete(ctx context.Context, filter domain.IncompleteFilter) ([]domain.IncompleteOrder, int, error)
	GetIncomplete(ctx context.Context, id int64) (*domain.IncompleteOrder, error)
	RejectIncomplete(ctx context.Context, id int64, reason string) (bool, error)
	MarkCalled(ctx context.Context, id int64) (bool, error)
	ConvertIncomplete(ctx context.Context, id int64) (*domain.Order, error)
	SendReminder(ctx context.Context, id int64) error
	IncompleteStats(ctx context.Context, since, until time.Time) (*domain.IncompleteStats, error)

	PhoneHistory(ctx context.Context, rawPhone string) (*domain.PhoneStats, error)
	FraudCheck(ctx context.Context, rawPhone string) (*fraud.Report, error)

	ActivateLicense(ctx context.Context, apiKey, clientIP string) (*license.Subscription, error)
	DeactivateLicense(ctx context.Context) error
	LicenseStatus(ctx context.Context) (*license.Subscription, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, s domain.Settings) error
}

type adminService struct {
	blocklistRepo  repository.BlocklistRepository
	incompleteRepo repository.IncompleteRepository
	orderRepo      repository.OrderRepository
	settingsRepo   repository.SettingsRepository
	fraudClient    *fraud.Client
	licenseClient  *license.Client
	mail           mailer.Service
	eventBus       events.EventBus
	storeURL       string
}

func NewAdminService(
	blocklistRepo repository.BlocklistRepository,
	incompleteRepo repository.IncompleteRepository,
	orderRepo repository.OrderRepository,
	settingsRepo repository.SettingsRepository,
	fraudClient *fraud.Client,
	licenseClient *license.Client,
	mail mailer.Service,
	eventBus events.EventBus,
	storeURL string,
) AdminService {
	return &adminService{
		blocklistRepo:  blocklistRepo,
		incompleteRepo: incompleteRepo,
		orderRepo:      orderRepo,
		settingsRepo:   settingsRepo,
		fraudClient:    fraudClient,
		licenseClient:  licenseClient,
		mail:           mail,
		eventBus:       eventBus,
		storeURL:       storeURL,
	}
}

func (s *adminService) ListBlocked(ctx context.Context, limit, offset int) ([]domain.BlockedUser, error) {
	return s.blocklistRepo.List(ctx, limit, offset)
}

// Block stores a deny-list entry. The phone is normalized before storage so
// every format variant of the number matches the same row.
func (s *adminService) Block(ctx context.Context, name, ip, rawPhone string) (*domain.BlockedUser, error) {
	normalized := ""
	if rawPhone != "" {
		if !phone.IsValid(rawPhone) {
			return nil, ErrInvalidBlockTarget
		}
		normalized = phone.Normalize(rawPhone)
	}
	if ip == "" && normalized == "" {
		return nil, ErrInvalidBlockTarget
	}

	blocked, err := s.blocklistRepo.Block(ctx, name, ip, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to block user: %w", err)
	}
	logger.InfoContext(ctx, "blocklist entry added", "id", blocked.ID, "ip", ip, "phone", normalized)
	return blocked, nil
}

// BlockFromOrders bulk-blocks the phone numbers behind existing orders.
// Unknown refs and orders without a usable phone are reported back, not
// treated as a failure for the whole batch.
func (s *adminService) BlockFromOrders(ctx context.Context, orderRefs []string) ([]domain.BlockedUser, []string, error) {
	var (
		blocked []domain.BlockedUser
		skipped []string
	)
	for _, ref := range orderRefs {
		order, err := s.orderRepo.GetByRef(ctx, ref)
		if err != nil {
			return blocked, skipped, fmt.Errorf("failed to look up order %s: %w", ref, err)
		}
		if order == nil || !phone.IsValid(order.Phone) {
			skipped = append(skipped, ref)
			continue
		}

		entry, err := s.blocklistRepo.Block(ctx, "order "+ref, "", phone.Normalize(order.Phone))
		if err != nil {
			return blocked, skipped, fmt.Errorf("failed to block phone for order %s: %w", ref, err)
		}
		blocked = append(blocked, *entry)
	}
	logger.InfoContext(ctx, "bulk block from orders", "blocked", len(blocked), "skipped", len(skipped))
	return blocked, skipped, nil
}

func (s *adminService) Unblock(ctx context.Context, id int64) (bool, error) {
	return s.blocklistRepo.Unblock(ctx, id)
}

func (s *adminService) ListIncomplete(ctx context.Context, filter domain.IncompleteFilter) ([]domain.IncompleteOrder, int, error) {
	records, err := s.incompleteRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.incompleteRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *adminService) GetIncomplete(ctx context.Context, id int64) (*domain.IncompleteOrder, error) {
	return s.incompleteRepo.GetByID(ctx, id)
}

func (s *adminService) RejectIncomplete(ctx context.Context, id int64, reason string) (bool, error) {
	return s.incompleteRepo.Reject(ctx, id, reason)
}

func (s *adminService) MarkCalled(ctx context.Context, id int64) (bool, error) {
	return s.incompleteRepo.MarkCalled(ctx, id)
}

// ConvertIncomplete turns a captured checkout into a pending order on the
// customer's behalf. The new order counts toward the rate window like any
// storefront order.
func (s *adminService) ConvertIncomplete(ctx context.Context, id int64) (*domain.Order, error) {
	record, err := s.incompleteRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.Status != domain.IncompleteOpen {
		return nil, ErrNotIncomplete
	}

	order, err := s.orderRepo.Record(ctx, &domain.Order{
		OrderRef:  "recovered-" + uuid.NewString(),
		SessionID: record.SessionID,
		Phone:     record.CustomerPhone,
		Email:     record.CustomerEmail,
		Status:    domain.OrderPending,
		Total:     record.CartTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recovered order: %w", err)
	}

	if _, err := s.incompleteRepo.MarkCompleted(ctx, record.SessionID, order.ID); err != nil {
		logger.ErrorContext(ctx, "failed to close converted session", "error", err, "session_id", record.SessionID)
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

// SendReminder mails the customer a link back to checkout and stamps the
// record as contacted.
func (s *adminService) SendReminder(ctx context.Context, id int64) error {
	record, err := s.incompleteRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	if record.CustomerEmail == "" {
		return ErrNoRecipient
	}

	name := strings.TrimSpace(record.BillingFirstName + " " + record.BillingLastName)
	if name == "" {
		name = "there"
	}
	checkoutURL := strings.TrimRight(s.storeURL, "/") + "/checkout"

	if err := s.mail.SendRecoveryEmail(record.CustomerEmail, name, checkoutURL, record.CartTotal); err != nil {
		return fmt.Errorf("failed to send recovery email: %w", err)
	}

	if _, err := s.incompleteRepo.MarkCalled(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to stamp reminder", "error", err, "id", id)
	}
	return nil
}

func (s *adminService) IncompleteStats(ctx context.Context, since, until time.Time) (*domain.IncompleteStats, error) {
	return s.incompleteRepo.Stats(ctx, since, until)
}

func (s *adminService) PhoneHistory(ctx context.Context, rawPhone string) (*domain.PhoneStats, error) {
	return s.orderRepo.PhoneStats(ctx, rawPhone)
}

// FraudCheck runs a fraud-score lookup. The feature is gated on an active
// subscription; the stored API key authenticates the request.
func (s *adminService) FraudCheck(ctx context.Context, rawPhone string) (*fraud.Report, error) {
	if !phone.IsValid(rawPhone) {
		return nil, fmt.Errorf("invalid phone number")
	}
	if !s.licenseClient.IsActive(ctx) {
		return nil, ErrLicenseInactive
	}

	apiKey, err := s.licenseClient.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := s.settingsRepo.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "settings load failed, using defaults", "error", err)
	}

	return s.fraudClient.Check(ctx, rawPhone, settings.FraudCheckUseAI, apiKey)
}

func (s *adminService) ActivateLicense(ctx context.Context, apiKey, clientIP string) (*license.Subscription, error) {
	return s.licenseClient.Activate(ctx, apiKey, clientIP)
}

func (s *adminService) DeactivateLicense(ctx context.Context) error {
	return s.licenseClient.Deactivate(ctx)
}

func (s *adminService) LicenseStatus(ctx context.Context) (*license.Subscription, error) {
	return s.licenseClient.Status(ctx)
}

func (s *adminService) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.settingsRepo.Load(ctx)
}

func (s *adminService) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if settings.OrderLimitCount <= 0 {
		return fmt.Errorf("order limit count must be positive")
	}
	if settings.OrderLimitTimeValue <= 0 {
		return fmt.Errorf("order limit period must be positive")
	}
	if settings.OrderLimitTimeUnit != domain.UnitMinutes && settings.OrderLimitTimeUnit != domain.UnitHours {
		return fmt.Errorf("unknown time unit %q", settings.OrderLimitTimeUnit)
	}
	if settings.OrderLimitMethod != domain.MethodPhone && settings.OrderLimitMethod != domain.MethodEmail {
		return fmt.Errorf("unknown limit method %q", settings.OrderLimitMethod)
	}
	return s.settingsRepo.Save(ctx, settings)
}
