// Package fraud looks up a phone number's courier delivery history against
// the CurtCommerz fraud-score API. The response is pass-through data for a
// human operator; only the summary percentages feed the derived risk level.
package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sohojware/checkout-guard/internal/phone"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

const fraudCheckPath = "couriers/fraud_check/"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Report is what the admin sees. Raw carries the full API body untouched.
type Report struct {
	Phone               string          `json:"phone"`
	RiskLevel           RiskLevel       `json:"risk_level"`
	RiskScore           float64         `json:"risk_score"`
	TotalParcels        int             `json:"total_parcels"`
	DeliveredPercentage float64         `json:"delivered_percentage"`
	FraudPercentage     float64         `json:"fraud_percentage"`
	Raw                 json.RawMessage `json:"data"`
	CheckedAt           time.Time       `json:"checked_at"`
	Cached              bool            `json:"cached"`
}

type Client struct {
	baseURL  string
	http     *http.Client
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewClient(baseURL string, timeout time.Duration, cache *redis.Client, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

type checkRequest struct {
	Phone       string `json:"phone"`
	CourierType string `json:"courier_type"`
	UseAI       bool   `json:"use_ai"`
}

// apiResponse covers the fields the risk computation needs; everything else
// stays in Raw.
type apiResponse struct {
	Success             *bool   `json:"success"`
	Message             string  `json:"message"`
	Total               int     `json:"total"`
	DeliveredPercentage float64 `json:"deliveredPercentage"`
	FraudPercentage     float64 `json:"fraudPercentage"`
}

// Check runs one fraud lookup. Failures are admin-facing errors and must
// never block a customer checkout; callers surface them in the admin UI only.
func (c *Client) Check(ctx context.Context, rawPhone string, useAI bool, apiKey string) (*Report, error) {
	normalized := phone.Normalize(rawPhone)

	if cached := c.fromCache(ctx, normalized); cached != nil {
		return cached, nil
	}

	body, err := json.Marshal(checkRequest{Phone: normalized, CourierType: "all", UseAI: useAI})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+fraudCheckPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach fraud API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fraud API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fraud API returned status %d: %s", resp.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON from fraud API: %w", err)
	}
	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Message
		if msg == "" {
			msg = "unknown API error"
		}
		return nil, fmt.Errorf("fraud check failed: %s", msg)
	}

	level, score := classify(parsed.DeliveredPercentage, parsed.FraudPercentage)
	report := &Report{
		Phone:               normalized,
		RiskLevel:           level,
		RiskScore:           score,
		TotalParcels:        parsed.Total,
		DeliveredPercentage: parsed.DeliveredPercentage,
		FraudPercentage:     parsed.FraudPercentage,
		Raw:                 json.RawMessage(raw),
		CheckedAt:           time.Now(),
	}

	c.toCache(ctx, normalized, report)
	return report, nil
}

// classify maps delivery and fraud percentages to a risk level and score.
func classify(deliveredPct, fraudPct float64) (RiskLevel, float64) {
	score := 100 - fraudPct
	switch {
	case fraudPct > 20 || deliveredPct < 50:
		return RiskHigh, score
	case fraudPct > 10 || deliveredPct < 70:
		return RiskMedium, score
	default:
		return RiskLow, score
	}
}

func cacheKey(normalizedPhone string) string {
	return "fraud:report:" + normalizedPhone
}

func (c *Client) fromCache(ctx context.Context, normalizedPhone string) *Report {
	if c.cache == nil {
		return nil
	}

	data, err := c.cache.Get(ctx, cacheKey(normalizedPhone)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.WarnContext(ctx, "fraud cache read failed", "error", err)
		}
		return nil
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil
	}
	report.Cached = true
	return &report
}

func (c *Client) toCache(ctx context.Context, normalizedPhone string, report *Report) {
	if c.cache == nil {
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cacheKey(normalizedPhone), data, c.cacheTTL).Err(); err != nil {
		logger.WarnContext(ctx, "fraud cache write failed", "error", err)
	}
}
