package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/pkg/logger"
)

type IncompleteRepository interface {
	Upsert(ctx context.Context, req *domain.CaptureRequest) (*domain.IncompleteOrder, error)
	GetByID(ctx context.Context, id int64) (*domain.IncompleteOrder, error)
	MarkCompleted(ctx context.Context, sessionID string, orderID int64) (bool, error)
	Reject(ctx context.Context, id int64, reason string) (bool, error)
	MarkCalled(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, filter domain.IncompleteFilter) ([]domain.IncompleteOrder, error)
	Count(ctx context.Context, filter domain.IncompleteFilter) (int, error)
	Stats(ctx context.Context, since, until time.Time) (*domain.IncompleteStats, error)
}

type incompleteRepo struct{ pool *pgxpool.Pool }

func NewIncompleteRepository(pool *pgxpool.Pool) IncompleteRepository {
	return &incompleteRepo{pool: pool}
}

const incompleteCols = `id, session_id, customer_email, customer_phone,
billing_first_name, billing_last_name, billing_address_1, billing_city, billing_state, billing_postcode,
shipping_first_name, shipping_last_name, shipping_address_1, shipping_city, shipping_state, shipping_postcode,
cart_data, cart_total, payment_method, order_notes, status,
created_at, updated_at, called_at, converted_order_id, converted_at, rejected_at, rejection_reason`

// Upsert stores a partial checkout capture keyed by session. Repeated
// captures for the same session overwrite the snapshot; sessions already in a
// terminal state are left untouched and returned as-is.
func (r *incompleteRepo) Upsert(ctx context.Context, req *domain.CaptureRequest) (*domain.IncompleteOrder, error) {
	cartJSON, err := json.Marshal(req.CartItems)
	if err != nil {
		return nil, err
	}

	const q = `INSERT INTO guard_incomplete_orders (
    session_id, customer_email, customer_phone,
    billing_first_name, billing_last_name, billing_address_1, billing_city, billing_state, billing_postcode,
    shipping_first_name, shipping_last_name, shipping_address_1, shipping_city, shipping_state, shipping_postcode,
    cart_data, cart_total, payment_method, order_notes, status
  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,'incomplete')
  ON CONFLICT (session_id) DO UPDATE SET
    customer_email = EXCLUDED.customer_email,
    customer_phone = EXCLUDED.customer_phone,
    billing_first_name = EXCLUDED.billing_first_name,
    billing_last_name = EXCLUDED.billing_last_name,
    billing_address_1 = EXCLUDED.billing_address_1,
    billing_city = EXCLUDED.billing_city,
    billing_state = EXCLUDED.billing_state,
    billing_postcode = EXCLUDED.billing_postcode,
    shipping_first_name = EXCLUDED.shipping_first_name,
    shipping_last_name = EXCLUDED.shipping_last_name,
    shipping_address_1 = EXCLUDED.shipping_address_1,
    shipping_city = EXCLUDED.shipping_city,
    shipping_state = EXCLUDED.shipping_state,
    shipping_postcode = EXCLUDED.shipping_postcode,
    cart_data = EXCLUDED.cart_data,
    cart_total = EXCLUDED.cart_total,
    payment_method = EXCLUDED.payment_method,
    order_notes = EXCLUDED.order_notes,
    updated_at = now()
  WHERE guard_incomplete_orders.status = 'incomplete'
  RETURNING ` + incompleteCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := r.pool.QueryRow(ctx, q,
		req.SessionID, req.CustomerEmail, req.CustomerPhone,
		req.BillingFirstName, req.BillingLastName, req.BillingAddress1, req.BillingCity, req.BillingState, req.BillingPostcode,
		req.ShippingFirstName, req.ShippingLastName, req.ShippingAddress1, req.ShippingCity, req.ShippingState, req.ShippingPostcode,
		cartJSON, req.CartTotal, req.PaymentMethod, req.OrderNotes,
	)
	o, err := scanIncomplete(row)
	if err == pgx.ErrNoRows {
		// Terminal row; conflict update matched nothing. Return the stored record.
		return r.getBySession(ctx, req.SessionID)
	}
	return o, err
}

func (r *incompleteRepo) GetByID(ctx context.Context, id int64) (*domain.IncompleteOrder, error) {
	const q = `SELECT ` + incompleteCols + ` FROM guard_incomplete_orders WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	o, err := scanIncomplete(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (r *incompleteRepo) getBySession(ctx context.Context, sessionID string) (*domain.IncompleteOrder, error) {
	const q = `SELECT ` + incompleteCols + ` FROM guard_incomplete_orders WHERE session_id = $1`

	o, err := scanIncomplete(r.pool.QueryRow(ctx, q, sessionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func (r *incompleteRepo) MarkCompleted(ctx context.Context, sessionID string, orderID int64) (bool, error) {
	const q = `UPDATE guard_incomplete_orders
SET status = 'completed', converted_order_id = $2, converted_at = now(), updated_at = now()
WHERE session_id = $1 AND status = 'incomplete'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, sessionID, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *incompleteRepo) Reject(ctx context.Context, id int64, reason string) (bool, error) {
	const q = `UPDATE guard_incomplete_orders
SET status = 'rejected', rejected_at = now(), rejection_reason = $2, updated_at = now()
WHERE id = $1 AND status = 'incomplete'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id, reason)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *incompleteRepo) MarkCalled(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE guard_incomplete_orders
SET called_at = now(), updated_at = now() WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *incompleteRepo) List(ctx context.Context, filter domain.IncompleteFilter) ([]domain.IncompleteOrder, error) {
	q := `SELECT ` + incompleteCols + ` FROM guard_incomplete_orders ` + filterClause + `
ORDER BY created_at DESC LIMIT $5 OFFSET $6`

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q,
		string(filter.Status), searchPattern(filter.Search), filter.Since, filter.Until, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.IncompleteOrder, 0, limit)
	for rows.Next() {
		o, err := scanIncomplete(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *incompleteRepo) Count(ctx context.Context, filter domain.IncompleteFilter) (int, error) {
	q := `SELECT COUNT(*) FROM guard_incomplete_orders ` + filterClause

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, q,
		string(filter.Status), searchPattern(filter.Search), filter.Since, filter.Until).Scan(&n)
	return n, err
}

func (r *incompleteRepo) Stats(ctx context.Context, since, until time.Time) (*domain.IncompleteStats, error) {
	const q = `SELECT
  COUNT(*) FILTER (WHERE status = 'incomplete' AND created_at BETWEEN $1 AND $2),
  COUNT(*) FILTER (WHERE status = 'completed' AND converted_at BETWEEN $1 AND $2),
  COALESCE(SUM(cart_total) FILTER (WHERE status = 'completed' AND converted_at BETWEEN $1 AND $2), 0),
  COUNT(*) FILTER (WHERE status = 'rejected' AND rejected_at BETWEEN $1 AND $2),
  COUNT(*) FILTER (WHERE called_at IS NOT NULL AND called_at BETWEEN $1 AND $2)
FROM guard_incomplete_orders`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s domain.IncompleteStats
	err := r.pool.QueryRow(ctx, q, since, until).Scan(
		&s.Incomplete, &s.Converted, &s.ConvertedValue, &s.Rejected, &s.Called)
	if err != nil {
		return nil, err
	}

	if processed := s.Converted + s.Rejected; processed > 0 {
		s.ConversionRate = float64(s.Converted) / float64(processed) * 100
	}
	return &s, nil
}

// filterClause is the shared WHERE clause for List and Count. Parameter
// order is fixed: $1 status, $2 search pattern, $3 since, $4 until.
const filterClause = `WHERE ($1 = '' OR status = $1)
AND ($2 = '' OR customer_email ILIKE $2 OR customer_phone ILIKE $2
     OR billing_first_name ILIKE $2 OR billing_last_name ILIKE $2)
AND ($3::timestamptz IS NULL OR created_at >= $3)
AND ($4::timestamptz IS NULL OR created_at <= $4)`

func searchPattern(search string) string {
	if search == "" {
		return ""
	}
	return "%" + search + "%"
}

func scanIncomplete(row pgx.Row) (*domain.IncompleteOrder, error) {
	var (
		o        domain.IncompleteOrder
		cartJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.SessionID, &o.CustomerEmail, &o.CustomerPhone,
		&o.BillingFirstName, &o.BillingLastName, &o.BillingAddress1, &o.BillingCity, &o.BillingState, &o.BillingPostcode,
		&o.ShippingFirstName, &o.ShippingLastName, &o.ShippingAddress1, &o.ShippingCity, &o.ShippingState, &o.ShippingPostcode,
		&cartJSON, &o.CartTotal, &o.PaymentMethod, &o.OrderNotes, &o.Status,
		&o.CreatedAt, &o.UpdatedAt, &o.CalledAt, &o.ConvertedOrderID, &o.ConvertedAt, &o.RejectedAt, &o.RejectionReason,
	)
	if err != nil {
		return nil, err
	}

	if len(cartJSON) > 0 {
		// A malformed snapshot must not break the whole listing.
		if err := json.Unmarshal(cartJSON, &o.CartItems); err != nil {
			logger.Warn("skipping malformed cart snapshot", "session_id", o.SessionID, "error", err)
			o.CartItems = nil
		}
	}
	return &o, nil
}
