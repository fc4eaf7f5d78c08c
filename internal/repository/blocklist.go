package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sohojware/checkout-guard/internal/domain"
)

type BlocklistRepository interface {
	IsBlocked(ctx context.Context, ip, normalizedPhone string) (bool, error)
	Block(ctx context.Context, name, ip, normalizedPhone string) (*domain.BlockedUser, error)
	Unblock(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int) ([]domain.BlockedUser, error)
}

type blocklistRepo struct{ pool *pgxpool.Pool }

func NewBlocklistRepository(pool *pgxpool.Pool) BlocklistRepository {
	return &blocklistRepo{pool: pool}
}

func (r *blocklistRepo) IsBlocked(ctx context.Context, ip, normalizedPhone string) (bool, error) {
	// Empty strings must never match empty columns.
	const q = `SELECT EXISTS (
		SELECT 1 FROM guard_blocked_users
		WHERE (ip_address = $1 AND $1 <> '') OR (phone_number = $2 AND $2 <> '')
	)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var blocked bool
	if err := r.pool.QueryRow(ctx, q, ip, normalizedPhone).Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

func (r *blocklistRepo) Block(ctx context.Context, name, ip, normalizedPhone string) (*domain.BlockedUser, error) {
	const q = `INSERT INTO guard_blocked_users (name, ip_address, phone_number, blocked_at)
VALUES ($1,$2,$3,$4)
RETURNING id, name, ip_address, phone_number, blocked_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.BlockedUser
	err := r.pool.QueryRow(ctx, q, name, ip, normalizedPhone, time.Now()).Scan(
		&u.ID, &u.Name, &u.IPAddress, &u.Phone, &u.BlockedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *blocklistRepo) Unblock(ctx context.Context, id int64) (bool, error) {
	const q = `DELETE FROM guard_blocked_users WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *blocklistRepo) List(ctx context.Context, limit, offset int) ([]domain.BlockedUser, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT id, name, ip_address, phone_number, blocked_at
FROM guard_blocked_users ORDER BY blocked_at DESC LIMIT $1 OFFSET $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.BlockedUser, 0, limit)
	for rows.Next() {
		var u domain.BlockedUser
		if err := rows.Scan(&u.ID, &u.Name, &u.IPAddress, &u.Phone, &u.BlockedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
