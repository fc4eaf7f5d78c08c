package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/fraud"
	"github.com/sohojware/checkout-guard/internal/guard"
	"github.com/sohojware/checkout-guard/internal/handlers"
	"github.com/sohojware/checkout-guard/internal/license"
	"github.com/sohojware/checkout-guard/internal/service"
	"github.com/sohojware/checkout-guard/pkg/auth"
	"github.com/sohojware/checkout-guard/pkg/events"
)

const testSecret = "test-secret"

// ---------- Mocks ----------

type mockCheckoutService struct {
	validateResult *service.ValidateResult
	validateErr    error
	captureResult  *service.CaptureResult
	captureErr     error
	completedOrder *domain.Order
	completeErr    error
	lastAttempt    guard.Attempt
	lastCapture    *domain.CaptureRequest
}

func (m *mockCheckoutService) Validate(_ context.Context, attempt guard.Attempt) (*service.ValidateResult, error) {
	m.lastAttempt = attempt
	return m.validateResult, m.validateErr
}

func (m *mockCheckoutService) Capture(_ context.Context, req *domain.CaptureRequest) (*service.CaptureResult, error) {
	m.lastCapture = req
	return m.captureResult, m.captureErr
}

func (m *mockCheckoutService) Complete(_ context.Context, req *domain.CompleteOrderRequest) (*domain.Order, error) {
	return m.completedOrder, m.completeErr
}

func (m *mockCheckoutService) SubscribeOrderStatus(_ events.Subscriber) error { return nil }

type mockAdminService struct {
	blocked      []domain.BlockedUser
	blockResult  *domain.BlockedUser
	blockErr     error
	incomplete   map[int64]*domain.IncompleteOrder
	rejectOK     bool
	fraudReport  *fraud.Report
	fraudErr     error
	subscription *license.Subscription
	settings     domain.Settings
	settingsErr  error
	updateErr    error
}

func newMockAdminService() *mockAdminService {
	return &mockAdminService{
		incomplete: make(map[int64]*domain.IncompleteOrder),
		settings:   domain.DefaultSettings(),
	}
}

func (m *mockAdminService) ListBlocked(_ context.Context, limit, offset int) ([]domain.BlockedUser, error) {
	return m.blocked, nil
}

func (m *mockAdminService) Block(_ context.Context, name, ip, rawPhone string) (*domain.BlockedUser, error) {
	return m.blockResult, m.blockErr
}

func (m *mockAdminService) BlockFromOrders(_ context.Context, orderRefs []string) ([]domain.BlockedUser, []string, error) {
	var blocked []domain.BlockedUser
	var skipped []string
	for _, ref := range orderRefs {
		if ref == "wc-known" {
			blocked = append(blocked, domain.BlockedUser{ID: int64(len(blocked) + 1), Phone: "01712345678"})
		} else {
			skipped = append(skipped, ref)
		}
	}
	return blocked, skipped, nil
}

func (m *mockAdminService) Unblock(_ context.Context, id int64) (bool, error) {
	return id == 1, nil
}

func (m *mockAdminService) ListIncomplete(_ context.Context, filter domain.IncompleteFilter) ([]domain.IncompleteOrder, int, error) {
	out := make([]domain.IncompleteOrder, 0, len(m.incomplete))
	for _, o := range m.incomplete {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockAdminService) GetIncomplete(_ context.Context, id int64) (*domain.IncompleteOrder, error) {
	return m.incomplete[id], nil
}

func (m *mockAdminService) RejectIncomplete(_ context.Context, id int64, reason string) (bool, error) {
	return m.rejectOK, nil
}

func (m *mockAdminService) MarkCalled(_ context.Context, id int64) (bool, error) {
	return m.incomplete[id] != nil, nil
}

func (m *mockAdminService) ConvertIncomplete(_ context.Context, id int64) (*domain.Order, error) {
	record := m.incomplete[id]
	if record == nil {
		return nil, nil
	}
	if record.Status != domain.IncompleteOpen {
		return nil, service.ErrNotIncomplete
	}
	return &domain.Order{ID: 99, OrderRef: "recovered-test", Status: domain.OrderPending}, nil
}

func (m *mockAdminService) SendReminder(_ context.Context, id int64) error {
	record := m.incomplete[id]
	if record != nil && record.CustomerEmail == "" {
		return service.ErrNoRecipient
	}
	return nil
}

func (m *mockAdminService) IncompleteStats(_ context.Context, since, until time.Time) (*domain.IncompleteStats, error) {
	return &domain.IncompleteStats{Incomplete: 3, Converted: 1, ConversionRate: 50}, nil
}

func (m *mockAdminService) PhoneHistory(_ context.Context, rawPhone string) (*domain.PhoneStats, error) {
	return &domain.PhoneStats{Phone: "01712345678", Total: 2}, nil
}

func (m *mockAdminService) FraudCheck(_ context.Context, rawPhone string) (*fraud.Report, error) {
	return m.fraudReport, m.fraudErr
}

func (m *mockAdminService) ActivateLicense(_ context.Context, apiKey, clientIP string) (*license.Subscription, error) {
	return m.subscription, nil
}

func (m *mockAdminService) DeactivateLicense(_ context.Context) error { return nil }

func (m *mockAdminService) LicenseStatus(_ context.Context) (*license.Subscription, error) {
	return m.subscription, nil
}

func (m *mockAdminService) GetSettings(_ context.Context) (domain.Settings, error) {
	return m.settings, m.settingsErr
}

func (m *mockAdminService) UpdateSettings(_ context.Context, s domain.Settings) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.settings = s
	return nil
}

// ---------- Setup ----------

func setupRouter(checkout service.CheckoutService, admin service.AdminService) *chi.Mux {
	h := handlers.New(checkout, admin, testSecret)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/validate", h.ValidateCheckout)
			r.Post("/capture", h.CaptureCheckout)
			r.Post("/complete", h.CompleteCheckout)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireJWT("admin"))
			r.Route("/blocklist", func(r chi.Router) {
				r.Get("/", h.ListBlocked)
				r.Post("/", h.BlockUser)
				r.Post("/from-orders", h.BlockFromOrders)
				r.Delete("/{id}", h.UnblockUser)
			})
			r.Route("/incomplete-orders", func(r chi.Router) {
				r.Get("/", h.ListIncompleteOrders)
				r.Get("/stats", h.IncompleteStats)
				r.Get("/{id}", h.GetIncompleteOrder)
				r.Post("/{id}/reject", h.RejectIncompleteOrder)
				r.Post("/{id}/convert", h.ConvertIncompleteOrder)
			})
			r.Post("/fraud-check", h.FraudCheck)
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
		})
	})
	return r
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewAccessToken(1, "admin@example.com", "admin", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- Checkout tests ----------

func TestValidateCheckoutAllowed(t *testing.T) {
	checkout := &mockCheckoutService{
		validateResult: &service.ValidateResult{Allowed: true, InfoMessage: "limited to 5 orders"},
	}
	r := setupRouter(checkout, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/validate", "", map[string]string{
		"session_id": "sess-1",
		"phone":      "01712345678",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result service.ValidateResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed")
	}
	if checkout.lastAttempt.Phone != "01712345678" {
		t.Errorf("attempt phone not forwarded, got %q", checkout.lastAttempt.Phone)
	}
	if checkout.lastAttempt.IP == "" {
		t.Error("expected client IP to be filled in")
	}
}

func TestValidateCheckoutDeniedIsStill200(t *testing.T) {
	checkout := &mockCheckoutService{
		validateResult: &service.ValidateResult{
			Allowed: false,
			Check:   "order_limit",
			Message: "Please wait 30 minutes before placing another order.",
		},
	}
	r := setupRouter(checkout, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/validate", "", map[string]string{"phone": "01712345678"})

	if w.Code != http.StatusOK {
		t.Fatalf("denial must be 200, got %d", w.Code)
	}

	var result service.ValidateResult
	json.Unmarshal(w.Body.Bytes(), &result)
	if result.Allowed {
		t.Error("expected denial")
	}
	if result.Check != "order_limit" {
		t.Errorf("expected order_limit check, got %q", result.Check)
	}
}

func TestValidateCheckoutBadJSON(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/validate", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCaptureCheckout(t *testing.T) {
	checkout := &mockCheckoutService{
		captureResult: &service.CaptureResult{Stored: true},
	}
	r := setupRouter(checkout, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/capture", "", map[string]interface{}{
		"session_id":     "sess-2",
		"customer_email": "buyer@example.com",
		"cart_total":     149.50,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if checkout.lastCapture.CustomerEmail != "buyer@example.com" {
		t.Errorf("capture payload not forwarded, got %q", checkout.lastCapture.CustomerEmail)
	}
}

func TestCaptureCheckoutRejectsBadEmail(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/capture", "", map[string]interface{}{
		"customer_email": "not-an-email",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCompleteCheckout(t *testing.T) {
	checkout := &mockCheckoutService{
		completedOrder: &domain.Order{ID: 7, OrderRef: "wc-1001", Status: domain.OrderPending},
	}
	r := setupRouter(checkout, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/complete", "", map[string]interface{}{
		"order_ref": "wc-1001",
		"phone":     "01712345678",
		"total":     500,
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCompleteCheckoutRequiresOrderRef(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/checkout/complete", "", map[string]interface{}{
		"phone": "01712345678",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ---------- Admin auth tests ----------

func TestAdminRequiresToken(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodGet, "/v1/admin/blocklist/", "", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdminRejectsNonAdminRole(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	token, err := auth.NewAccessToken(2, "user@example.com", "viewer", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/admin/blocklist/", token, nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestAdminRejectsBadSecret(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	token, err := auth.NewAccessToken(1, "admin@example.com", "admin", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/admin/blocklist/", token, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

// ---------- Blocklist tests ----------

func TestBlockUser(t *testing.T) {
	admin := newMockAdminService()
	admin.blockResult = &domain.BlockedUser{ID: 1, Phone: "01712345678"}
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/blocklist/", adminToken(t), map[string]string{
		"name":         "Repeat offender",
		"phone_number": "+8801712345678",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBlockUserInvalidTarget(t *testing.T) {
	admin := newMockAdminService()
	admin.blockErr = service.ErrInvalidBlockTarget
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/blocklist/", adminToken(t), map[string]string{
		"name": "nobody",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBlockFromOrders(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodPost, "/v1/admin/blocklist/from-orders", adminToken(t),
		map[string][]string{"order_refs": {"wc-known", "wc-missing"}})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Blocked []domain.BlockedUser `json:"blocked"`
		Skipped []string             `json:"skipped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(result.Blocked) != 1 || len(result.Skipped) != 1 {
		t.Errorf("expected 1 blocked and 1 skipped, got %+v", result)
	}
}

func TestUnblockUserNotFound(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodDelete, "/v1/admin/blocklist/42", adminToken(t), nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// ---------- Incomplete order tests ----------

func TestGetIncompleteOrderNotFound(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodGet, "/v1/admin/incomplete-orders/123", adminToken(t), nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRejectTerminalRecordConflicts(t *testing.T) {
	admin := newMockAdminService()
	admin.rejectOK = false
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/incomplete-orders/5/reject", adminToken(t),
		map[string]string{"reason": "spam"})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestConvertIncompleteOrder(t *testing.T) {
	admin := newMockAdminService()
	admin.incomplete[5] = &domain.IncompleteOrder{
		ID:        5,
		SessionID: "sess-5",
		Status:    domain.IncompleteOpen,
		CartTotal: 900,
	}
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/incomplete-orders/5/convert", adminToken(t), nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConvertCompletedRecordConflicts(t *testing.T) {
	admin := newMockAdminService()
	admin.incomplete[6] = &domain.IncompleteOrder{
		ID:     6,
		Status: domain.IncompleteCompleted,
	}
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/incomplete-orders/6/convert", adminToken(t), nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestIncompleteStats(t *testing.T) {
	r := setupRouter(&mockCheckoutService{}, newMockAdminService())

	w := doJSON(t, r, http.MethodGet, "/v1/admin/incomplete-orders/stats", adminToken(t), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats domain.IncompleteStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if stats.ConversionRate != 50 {
		t.Errorf("expected conversion rate 50, got %v", stats.ConversionRate)
	}
}

// ---------- Fraud check tests ----------

func TestFraudCheckLicenseGate(t *testing.T) {
	admin := newMockAdminService()
	admin.fraudErr = service.ErrLicenseInactive
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/fraud-check", adminToken(t),
		map[string]string{"phone": "01712345678"})

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
}

func TestFraudCheck(t *testing.T) {
	admin := newMockAdminService()
	admin.fraudReport = &fraud.Report{
		Phone:     "01712345678",
		RiskLevel: fraud.RiskLow,
		RiskScore: 95,
	}
	r := setupRouter(&mockCheckoutService{}, admin)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/fraud-check", adminToken(t),
		map[string]string{"phone": "01712345678"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var report fraud.Report
	json.Unmarshal(w.Body.Bytes(), &report)
	if report.RiskLevel != fraud.RiskLow {
		t.Errorf("expected low risk, got %q", report.RiskLevel)
	}
}

// ---------- Settings tests ----------

func TestSettingsRoundTrip(t *testing.T) {
	admin := newMockAdminService()
	r := setupRouter(&mockCheckoutService{}, admin)

	updated := domain.DefaultSettings()
	updated.OrderLimitEnabled = true
	updated.OrderLimitCount = 3

	w := doJSON(t, r, http.MethodPut, "/v1/admin/settings", adminToken(t), updated)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/admin/settings", adminToken(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var settings domain.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if !settings.OrderLimitEnabled || settings.OrderLimitCount != 3 {
		t.Errorf("settings update not applied: %+v", settings)
	}
}
