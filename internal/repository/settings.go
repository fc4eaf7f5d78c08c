package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sohojware/checkout-guard/internal/domain"
)

type SettingsRepository interface {
	Load(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type settingsRepo struct{ pool *pgxpool.Pool }

func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepo{pool: pool}
}

// Settings keys. License state shares the same table but is not part of the
// typed Settings struct; the license client reads it through Get/Set.
const (
	keyPhoneValidationEnabled = "phone_validation_enabled"
	keyPhoneErrorMessage      = "phone_error_message"
	keyOrderLimitEnabled      = "order_limit_enabled"
	keyOrderLimitCount        = "order_limit_count"
	keyOrderLimitTimeValue    = "order_limit_time_value"
	keyOrderLimitTimeUnit     = "order_limit_time_unit"
	keyOrderLimitMethod       = "order_limit_method"
	keyOrderLimitDenyMessage  = "order_limit_deny_message"
	keyOrderLimitInfoMessage  = "order_limit_info_message"
	keyBlocklistEnabled       = "blocklist_enabled"
	keyBlockedMessage         = "blocked_message"
	keyIncompleteEnabled      = "incomplete_orders_enabled"
	keyFraudCheckUseAI        = "fraud_check_use_ai"
)

// Load reads every stored key and overlays it onto the defaults, so missing
// rows fall back to documented default behavior.
func (r *settingsRepo) Load(ctx context.Context) (domain.Settings, error) {
	const q = `SELECT key, value FROM guard_settings`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	settings := domain.DefaultSettings()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return settings, err
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return settings, err
		}
		stored[k] = v
	}
	if err := rows.Err(); err != nil {
		return settings, err
	}

	applyStored(&settings, stored)
	return settings, nil
}

func (r *settingsRepo) Save(ctx context.Context, s domain.Settings) error {
	const q = `INSERT INTO guard_settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	for k, v := range flatten(s) {
		if _, err := r.pool.Exec(ctx, q, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM guard_settings WHERE key = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v string
	err := r.pool.QueryRow(ctx, q, key).Scan(&v)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	const q = `INSERT INTO guard_settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, key, value)
	return err
}

func applyStored(s *domain.Settings, stored map[string]string) {
	if v, ok := stored[keyPhoneValidationEnabled]; ok {
		s.PhoneValidationEnabled = parseBool(v)
	}
	if v, ok := stored[keyPhoneErrorMessage]; ok {
		s.PhoneErrorMessage = v
	}
	if v, ok := stored[keyOrderLimitEnabled]; ok {
		s.OrderLimitEnabled = parseBool(v)
	}
	if v, ok := stored[keyOrderLimitCount]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.OrderLimitCount = n
		}
	}
	if v, ok := stored[keyOrderLimitTimeValue]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.OrderLimitTimeValue = n
		}
	}
	if v, ok := stored[keyOrderLimitTimeUnit]; ok {
		if v == string(domain.UnitHours) {
			s.OrderLimitTimeUnit = domain.UnitHours
		} else {
			s.OrderLimitTimeUnit = domain.UnitMinutes
		}
	}
	if v, ok := stored[keyOrderLimitMethod]; ok {
		if v == string(domain.MethodEmail) {
			s.OrderLimitMethod = domain.MethodEmail
		} else {
			s.OrderLimitMethod = domain.MethodPhone
		}
	}
	if v, ok := stored[keyOrderLimitDenyMessage]; ok && v != "" {
		s.OrderLimitDenyMessage = v
	}
	if v, ok := stored[keyOrderLimitInfoMessage]; ok && v != "" {
		s.OrderLimitInfoMessage = v
	}
	if v, ok := stored[keyBlocklistEnabled]; ok {
		s.BlocklistEnabled = parseBool(v)
	}
	if v, ok := stored[keyBlockedMessage]; ok && v != "" {
		s.BlockedMessage = v
	}
	if v, ok := stored[keyIncompleteEnabled]; ok {
		s.IncompleteOrdersEnabled = parseBool(v)
	}
	if v, ok := stored[keyFraudCheckUseAI]; ok {
		s.FraudCheckUseAI = parseBool(v)
	}
}

func flatten(s domain.Settings) map[string]string {
	return map[string]string{
		keyPhoneValidationEnabled: formatBool(s.PhoneValidationEnabled),
		keyPhoneErrorMessage:      s.PhoneErrorMessage,
		keyOrderLimitEnabled:      formatBool(s.OrderLimitEnabled),
		keyOrderLimitCount:        strconv.Itoa(s.OrderLimitCount),
		keyOrderLimitTimeValue:    strconv.Itoa(s.OrderLimitTimeValue),
		keyOrderLimitTimeUnit:     string(s.OrderLimitTimeUnit),
		keyOrderLimitMethod:       string(s.OrderLimitMethod),
		keyOrderLimitDenyMessage:  s.OrderLimitDenyMessage,
		keyOrderLimitInfoMessage:  s.OrderLimitInfoMessage,
		keyBlocklistEnabled:       formatBool(s.BlocklistEnabled),
		keyBlockedMessage:         s.BlockedMessage,
		keyIncompleteEnabled:      formatBool(s.IncompleteOrdersEnabled),
		keyFraudCheckUseAI:        formatBool(s.FraudCheckUseAI),
	}
}

func parseBool(v string) bool {
	return v == "1" || v == "true"
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
