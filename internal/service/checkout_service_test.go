package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/guard"
	"github.com/sohojware/checkout-guard/pkg/events"
)

// ---------- Mocks ----------

type mockEventBus struct {
	mu        sync.Mutex
	published []publishedEvent
	handlers  map[string]func(msg *events.Message)
}

type publishedEvent struct {
	subject string
	data    interface{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{handlers: make(map[string]func(msg *events.Message))}
}

func (m *mockEventBus) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedEvent{subject: subject, data: data})
	return nil
}

func (m *mockEventBus) Subscribe(subject string, handler func(msg *events.Message)) error {
	m.handlers[subject] = handler
	return nil
}

func (m *mockEventBus) QueueSubscribe(subject, _ string, handler func(msg *events.Message)) error {
	m.handlers[subject] = handler
	return nil
}

func (m *mockEventBus) Close() error { return nil }

func (m *mockEventBus) deliver(t *testing.T, subject string, event interface{}) {
	t.Helper()
	handler, ok := m.handlers[subject]
	if !ok {
		t.Fatalf("no subscription on %s", subject)
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	handler(&events.Message{Subject: subject, Data: data, Timestamp: time.Now()})
}

func (m *mockEventBus) lastOn(subject string) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].subject == subject {
			return m.published[i].data
		}
	}
	return nil
}

type mockSettingsRepo struct {
	settings domain.Settings
	loadErr  error
}

func (m *mockSettingsRepo) Load(_ context.Context) (domain.Settings, error) {
	return m.settings, m.loadErr
}

func (m *mockSettingsRepo) Save(_ context.Context, s domain.Settings) error {
	m.settings = s
	return nil
}

func (m *mockSettingsRepo) Get(_ context.Context, key string) (string, error) { return "", nil }
func (m *mockSettingsRepo) Set(_ context.Context, key, value string) error    { return nil }

type mockIncompleteRepo struct {
	records    map[string]*domain.IncompleteOrder
	nextID     int64
	lastMarked string
}

func newMockIncompleteRepo() *mockIncompleteRepo {
	return &mockIncompleteRepo{records: make(map[string]*domain.IncompleteOrder), nextID: 1}
}

func (m *mockIncompleteRepo) Upsert(_ context.Context, req *domain.CaptureRequest) (*domain.IncompleteOrder, error) {
	if existing, ok := m.records[req.SessionID]; ok {
		if existing.Status != domain.IncompleteOpen {
			return existing, nil
		}
		existing.CustomerEmail = req.CustomerEmail
		existing.CustomerPhone = req.CustomerPhone
		existing.CartTotal = req.CartTotal
		return existing, nil
	}
	record := &domain.IncompleteOrder{
		ID:            m.nextID,
		SessionID:     req.SessionID,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		CartTotal:     req.CartTotal,
		Status:        domain.IncompleteOpen,
		CreatedAt:     time.Now(),
	}
	m.nextID++
	m.records[req.SessionID] = record
	return record, nil
}

func (m *mockIncompleteRepo) GetByID(_ context.Context, id int64) (*domain.IncompleteOrder, error) {
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockIncompleteRepo) MarkCompleted(_ context.Context, sessionID string, orderID int64) (bool, error) {
	record, ok := m.records[sessionID]
	if !ok || record.Status != domain.IncompleteOpen {
		return false, nil
	}
	record.Status = domain.IncompleteCompleted
	record.ConvertedOrderID = &orderID
	m.lastMarked = sessionID
	return true, nil
}

func (m *mockIncompleteRepo) Reject(_ context.Context, id int64, reason string) (bool, error) {
	return false, nil
}
func (m *mockIncompleteRepo) MarkCalled(_ context.Context, id int64) (bool, error) { return false, nil }
func (m *mockIncompleteRepo) List(_ context.Context, _ domain.IncompleteFilter) ([]domain.IncompleteOrder, error) {
	return nil, nil
}
func (m *mockIncompleteRepo) Count(_ context.Context, _ domain.IncompleteFilter) (int, error) {
	return 0, nil
}
func (m *mockIncompleteRepo) Stats(_ context.Context, _, _ time.Time) (*domain.IncompleteStats, error) {
	return &domain.IncompleteStats{}, nil
}

type mockOrderRepo struct {
	orders map[string]*domain.Order
	nextID int64
	recent []domain.Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*domain.Order), nextID: 1}
}

func (m *mockOrderRepo) Record(_ context.Context, o *domain.Order) (*domain.Order, error) {
	if existing, ok := m.orders[o.OrderRef]; ok {
		existing.Status = o.Status
		return existing, nil
	}
	stored := *o
	stored.ID = m.nextID
	stored.CreatedAt = time.Now()
	m.nextID++
	m.orders[o.OrderRef] = &stored
	return &stored, nil
}

func (m *mockOrderRepo) UpdateStatusByRef(_ context.Context, orderRef string, status domain.OrderStatus) (bool, error) {
	o, ok := m.orders[orderRef]
	if !ok {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (m *mockOrderRepo) ListRecent(_ context.Context, _ domain.LimitMethod, _ string, _ time.Time) ([]domain.Order, error) {
	return m.recent, nil
}

func (m *mockOrderRepo) PhoneStats(_ context.Context, _ string) (*domain.PhoneStats, error) {
	return &domain.PhoneStats{}, nil
}

func (m *mockOrderRepo) GetByRef(_ context.Context, orderRef string) (*domain.Order, error) {
	return m.orders[orderRef], nil
}

type allowAllBlocklist struct{}

func (allowAllBlocklist) IsBlocked(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// ---------- Setup ----------

func newTestCheckoutService(settings domain.Settings) (CheckoutService, *mockEventBus, *mockIncompleteRepo, *mockOrderRepo) {
	orders := newMockOrderRepo()
	incomplete := newMockIncompleteRepo()
	bus := newMockEventBus()
	pipeline := guard.NewPipeline(allowAllBlocklist{}, orders)
	svc := NewCheckoutService(pipeline, &mockSettingsRepo{settings: settings}, incomplete, orders, bus)
	return svc, bus, incomplete, orders
}

// ---------- Tests ----------

func TestValidatePublishesDenialEvent(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.PhoneValidationEnabled = true
	svc, bus, _, _ := newTestCheckoutService(settings)

	result, err := svc.Validate(context.Background(), guard.Attempt{
		SessionID: "sess-1",
		Phone:     "012345",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected denial for invalid phone")
	}
	if result.Check != guard.CheckPhone {
		t.Errorf("expected phone check denial, got %q", result.Check)
	}

	data := bus.lastOn(events.CheckoutDenied)
	if data == nil {
		t.Fatal("expected a checkout.denied event")
	}
	event := data.(events.CheckoutDeniedEvent)
	if event.SessionID != "sess-1" || event.Check != guard.CheckPhone {
		t.Errorf("unexpected event payload: %+v", event)
	}
}

func TestValidateAllowedIncludesInfoMessage(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.OrderLimitEnabled = true
	svc, bus, _, _ := newTestCheckoutService(settings)

	result, err := svc.Validate(context.Background(), guard.Attempt{Phone: "01712345678"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allow, got denial: %s", result.Message)
	}
	if result.InfoMessage == "" {
		t.Error("expected rendered info message when the limit is enabled")
	}
	if bus.lastOn(events.CheckoutDenied) != nil {
		t.Error("no denial event expected for an allowed attempt")
	}
}

func TestCaptureDisabledDropsPayload(t *testing.T) {
	settings := domain.DefaultSettings() // incomplete tracking off by default
	svc, bus, incomplete, _ := newTestCheckoutService(settings)

	result, err := svc.Capture(context.Background(), &domain.CaptureRequest{
		SessionID:     "sess-2",
		CustomerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stored {
		t.Error("capture must be a no-op when tracking is disabled")
	}
	if len(incomplete.records) != 0 {
		t.Error("nothing should be stored")
	}
	if bus.lastOn(events.CheckoutCaptured) != nil {
		t.Error("no captured event expected")
	}
}

func TestCaptureStoresAndPublishes(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.IncompleteOrdersEnabled = true
	svc, bus, incomplete, _ := newTestCheckoutService(settings)

	result, err := svc.Capture(context.Background(), &domain.CaptureRequest{
		SessionID:     "sess-3",
		CustomerPhone: "01712345678",
		CartTotal:     250,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Stored || result.Record == nil {
		t.Fatal("expected stored capture")
	}
	if incomplete.records["sess-3"] == nil {
		t.Fatal("record missing from store")
	}

	data := bus.lastOn(events.CheckoutCaptured)
	if data == nil {
		t.Fatal("expected a checkout.captured event")
	}
	event := data.(events.CheckoutCapturedEvent)
	if event.CartTotal != 250 {
		t.Errorf("expected cart total 250, got %v", event.CartTotal)
	}
}

func TestCaptureGeneratesSessionID(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.IncompleteOrdersEnabled = true
	svc, _, _, _ := newTestCheckoutService(settings)

	result, err := svc.Capture(context.Background(), &domain.CaptureRequest{
		CustomerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Record.SessionID == "" {
		t.Error("expected a generated session id")
	}
}

func TestCompleteClosesIncompleteSession(t *testing.T) {
	settings := domain.DefaultSettings()
	settings.IncompleteOrdersEnabled = true
	svc, bus, incomplete, _ := newTestCheckoutService(settings)

	if _, err := svc.Capture(context.Background(), &domain.CaptureRequest{
		SessionID: "sess-4",
		CartTotal: 100,
	}); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	order, err := svc.Complete(context.Background(), &domain.CompleteOrderRequest{
		OrderRef:  "wc-2001",
		SessionID: "sess-4",
		Phone:     "+8801712345678",
		Total:     100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderPending {
		t.Errorf("expected pending status default, got %q", order.Status)
	}

	record := incomplete.records["sess-4"]
	if record.Status != domain.IncompleteCompleted {
		t.Errorf("expected session completed, got %q", record.Status)
	}
	if record.ConvertedOrderID == nil || *record.ConvertedOrderID != order.ID {
		t.Error("converted order id not linked")
	}

	if bus.lastOn(events.OrderRecorded) == nil {
		t.Error("expected an orders.recorded event")
	}
}

func TestCompleteRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newTestCheckoutService(domain.DefaultSettings())

	_, err := svc.Complete(context.Background(), &domain.CompleteOrderRequest{
		OrderRef: "wc-2002",
		Status:   "shipped",
	})
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOrderStatusSubscriptionAppliesChange(t *testing.T) {
	svc, bus, _, orders := newTestCheckoutService(domain.DefaultSettings())

	if _, err := svc.Complete(context.Background(), &domain.CompleteOrderRequest{
		OrderRef: "wc-3001",
		Status:   "processing",
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := svc.SubscribeOrderStatus(bus); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.deliver(t, events.OrderStatus, events.OrderStatusEvent{OrderID: "wc-3001", Status: "cancelled"})

	if got := orders.orders["wc-3001"].Status; got != domain.OrderCancelled {
		t.Errorf("expected cancelled, got %q", got)
	}
}

func TestOrderStatusSubscriptionIgnoresUnknownStatus(t *testing.T) {
	svc, bus, _, orders := newTestCheckoutService(domain.DefaultSettings())

	if _, err := svc.Complete(context.Background(), &domain.CompleteOrderRequest{
		OrderRef: "wc-3002",
	}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := svc.SubscribeOrderStatus(bus); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.deliver(t, events.OrderStatus, events.OrderStatusEvent{OrderID: "wc-3002", Status: "teleported"})

	if got := orders.orders["wc-3002"].Status; got != domain.OrderPending {
		t.Errorf("status must be unchanged, got %q", got)
	}
}
