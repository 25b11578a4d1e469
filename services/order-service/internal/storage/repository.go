package storage

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/storefront-systems/storefront/libs/db"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// ErrDuplicate marks a unique-key violation. The known_users primary key
// relies on it: a duplicate insert must be distinguishable from other
// failures so concurrent replays resolve harmlessly.
var ErrDuplicate = errors.New("duplicate key")

type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Product   string
	Quantity  int
	Price     float64
	CreatedAt time.Time
}

// KnownUser is the local projection of a user observed on the user-created
// stream. Written only by the projection, read by order validation.
type KnownUser struct {
	UserID uuid.UUID
	Email  string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateOrder(ctx context.Context, o Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, product, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.UserID, o.Product, o.Quantity, o.Price, o.CreatedAt)
	return err
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	var o Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, product, quantity, price, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.Product, &o.Quantity, &o.Price, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repository) GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, product, quantity, price, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Product, &o.Quantity, &o.Price, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

func (r *Repository) GetKnownUserByID(ctx context.Context, id uuid.UUID) (KnownUser, error) {
	var ku KnownUser
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email
		FROM known_users
		WHERE user_id = $1
	`, id).Scan(&ku.UserID, &ku.Email)
	if err != nil {
		return KnownUser{}, err
	}
	return ku, nil
}

func (r *Repository) CreateKnownUser(ctx context.Context, ku KnownUser) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO known_users (user_id, email)
		VALUES ($1, $2)
	`, ku.UserID, ku.Email)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
