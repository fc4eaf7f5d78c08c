package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sohojware/checkout-guard/internal/domain"
	"github.com/sohojware/checkout-guard/internal/phone"
)

type OrderRepository interface {
	Record(ctx context.Context, o *domain.Order) (*domain.Order, error)
	UpdateStatusByRef(ctx context.Context, orderRef string, status domain.OrderStatus) (bool, error)
	ListRecent(ctx context.Context, method domain.LimitMethod, identifier string, since time.Time) ([]domain.Order, error)
	PhoneStats(ctx context.Context, rawPhone string) (*domain.PhoneStats, error)
	GetByRef(ctx context.Context, orderRef string) (*domain.Order, error)
}

type orderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository { return &orderRepo{pool: pool} }

const orderCols = `id, order_ref, session_id, phone, email, status, total, created_at`

// countedStatuses is the set of statuses held against the order-rate window.
var countedStatuses = []string{
	string(domain.OrderPending),
	string(domain.OrderProcessing),
	string(domain.OrderOnHold),
	string(domain.OrderCompleted),
}

func (r *orderRepo) Record(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	const q = `INSERT INTO guard_orders (order_ref, session_id, phone, phone_normalized, email, status, total, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (order_ref) DO UPDATE SET status = EXCLUDED.status
RETURNING ` + orderCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var out domain.Order
	err := r.pool.QueryRow(ctx, q,
		o.OrderRef, o.SessionID, o.Phone, phone.Normalize(o.Phone),
		o.Email, string(o.Status), o.Total, createdAt,
	).Scan(
		&out.ID, &out.OrderRef, &out.SessionID, &out.Phone,
		&out.Email, &out.Status, &out.Total, &out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *orderRepo) UpdateStatusByRef(ctx context.Context, orderRef string, status domain.OrderStatus) (bool, error) {
	const q = `UPDATE guard_orders SET status = $2 WHERE order_ref = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, orderRef, string(status))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *orderRepo) ListRecent(ctx context.Context, method domain.LimitMethod, identifier string, since time.Time) ([]domain.Order, error) {
	q := `SELECT ` + orderCols + ` FROM guard_orders
WHERE phone_normalized = $1 AND created_at >= $2 AND status = ANY($3)`
	if method == domain.MethodEmail {
		q = `SELECT ` + orderCols + ` FROM guard_orders
WHERE lower(email) = $1 AND created_at >= $2 AND status = ANY($3)`
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, identifier, since, countedStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (r *orderRepo) PhoneStats(ctx context.Context, rawPhone string) (*domain.PhoneStats, error) {
	const q = `SELECT status, COUNT(*), MIN(created_at), MAX(created_at)
FROM guard_orders WHERE phone = ANY($1) OR phone_normalized = $2
GROUP BY status`

	normalized := phone.Normalize(rawPhone)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, phone.Variations(rawPhone), normalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.PhoneStats{
		Phone:    normalized,
		ByStatus: make(map[domain.OrderStatus]int),
	}
	for rows.Next() {
		var (
			status      string
			count       int
			first, last time.Time
		)
		if err := rows.Scan(&status, &count, &first, &last); err != nil {
			return nil, err
		}
		stats.ByStatus[domain.OrderStatus(status)] = count
		stats.Total += count
		if stats.FirstSeen == nil || first.Before(*stats.FirstSeen) {
			f := first
			stats.FirstSeen = &f
		}
		if stats.LastSeen == nil || last.After(*stats.LastSeen) {
			l := last
			stats.LastSeen = &l
		}
	}
	return stats, rows.Err()
}

func (r *orderRepo) GetByRef(ctx context.Context, orderRef string) (*domain.Order, error) {
	const q = `SELECT ` + orderCols + ` FROM guard_orders WHERE order_ref = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var o domain.Order
	err := r.pool.QueryRow(ctx, q, orderRef).Scan(
		&o.ID, &o.OrderRef, &o.SessionID, &o.Phone,
		&o.Email, &o.Status, &o.Total, &o.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	out := make([]domain.Order, 0, 16)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.OrderRef, &o.SessionID, &o.Phone,
			&o.Email, &o.Status, &o.Total, &o.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
