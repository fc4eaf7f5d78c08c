// Package license gates the fraud-check feature behind a CurtCommerz
// subscription. A device is activated once with an API key; the key and the
// last known license state are persisted in settings.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sohojware/checkout-guard/pkg/logger"
)

const (
	activatePath   = "subscription/subscriptions/activate-device/"
	deactivatePath = "subscription/subscriptions/deactivate-device/"
	checkPath      = "subscription/subscriptions/check-license/"
)

// Settings keys owned by this package.
const (
	KeyAPIKey          = "license_api_key"
	KeyStatus          = "license_status"
	KeyPlan            = "license_plan"
	KeyRemainingChecks = "license_remaining_checks"
	KeyDeviceID        = "license_device_id"
)

// Store is the settings persistence this client needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Subscription is the remote service's view of this device's license.
type Subscription struct {
	IsActive             bool   `json:"is_active"`
	PlanName             string `json:"plan_name"`
	RemainingFraudChecks int    `json:"remaining_fraud_checks"`
	SMSBalance           int    `json:"sms_balance"`
	ExpiresAt            string `json:"expires_at,omitempty"`
}

type Client struct {
	baseURL  string
	storeURL string
	deviceID string
	http     *http.Client
	store    Store
}

func NewClient(baseURL, storeURL, deviceID string, timeout time.Duration, store Store) *Client {
	return &Client{
		baseURL:  baseURL,
		storeURL: storeURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
		store:    store,
	}
}

type apiEnvelope struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	Error        string        `json:"error"`
	Detail       string        `json:"detail"`
	Subscription *Subscription `json:"subscription"`
}

// Activate registers this device with the subscription service and persists
// the API key on success.
func (c *Client) Activate(ctx context.Context, apiKey, clientIP string) (*Subscription, error) {
	deviceID, err := c.ensureDeviceID(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"device_id":            deviceID,
		"ip_address":           clientIP,
		"store_url":            c.storeURL,
		"subscription_api_key": apiKey,
	}

	env, err := c.post(ctx, activatePath, body, "")
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("activation failed: %s", env.errorMessage())
	}

	if err := c.store.Set(ctx, KeyAPIKey, apiKey); err != nil {
		return nil, fmt.Errorf("failed to persist api key: %w", err)
	}
	c.persistSubscription(ctx, env.Subscription)
	return env.Subscription, nil
}

// Deactivate releases the device and clears the stored license state.
func (c *Client) Deactivate(ctx context.Context) error {
	apiKey, err := c.APIKey(ctx)
	if err != nil {
		return err
	}
	if apiKey == "" {
		return fmt.Errorf("no active license found")
	}

	deviceID, err := c.ensureDeviceID(ctx)
	if err != nil {
		return err
	}

	env, err := c.post(ctx, deactivatePath, map[string]string{"device_id": deviceID}, apiKey)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("deactivation failed: %s", env.errorMessage())
	}

	c.store.Set(ctx, KeyAPIKey, "")
	c.store.Set(ctx, KeyStatus, "inactive")
	return nil
}

// Status asks the remote service for the current license state and caches it.
func (c *Client) Status(ctx context.Context) (*Subscription, error) {
	apiKey, err := c.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key found")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+checkPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", apiKey)

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("license check failed: %s", env.errorMessage())
	}

	c.persistSubscription(ctx, env.Subscription)
	return env.Subscription, nil
}

// IsActive reports the last persisted license state without a network call.
func (c *Client) IsActive(ctx context.Context) bool {
	status, err := c.store.Get(ctx, KeyStatus)
	if err != nil {
		logger.WarnContext(ctx, "license status read failed", "error", err)
		return false
	}
	return status == "active"
}

func (c *Client) APIKey(ctx context.Context) (string, error) {
	return c.store.Get(ctx, KeyAPIKey)
}

func (c *Client) ensureDeviceID(ctx context.Context) (string, error) {
	if c.deviceID != "" {
		return c.deviceID, nil
	}

	stored, err := c.store.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", err
	}
	if stored != "" {
		c.deviceID = stored
		return stored, nil
	}

	generated := uuid.NewString()
	if err := c.store.Set(ctx, KeyDeviceID, generated); err != nil {
		return "", err
	}
	c.deviceID = generated
	return generated, nil
}

func (c *Client) persistSubscription(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	status := "inactive"
	if sub.IsActive {
		status = "active"
	}
	c.store.Set(ctx, KeyStatus, status)
	c.store.Set(ctx, KeyPlan, sub.PlanName)
	c.store.Set(ctx, KeyRemainingChecks, fmt.Sprintf("%d", sub.RemainingFraudChecks))
}

func (c *Client) post(ctx context.Context, path string, body any, apiKey string) (*apiEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiEnvelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid JSON from license API: %w", err)
	}
	if resp.StatusCode != http.StatusOK && env.errorMessage() == "" {
		return nil, fmt.Errorf("license API returned status %d", resp.StatusCode)
	}
	return &env, nil
}

func (e *apiEnvelope) errorMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case e.Detail != "":
		return e.Detail
	default:
		return ""
	}
}
