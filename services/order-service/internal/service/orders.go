package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storefront-systems/storefront/libs/events"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/services/order-service/internal/storage"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, o storage.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (storage.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error)
	GetKnownUserByID(ctx context.Context, id uuid.UUID) (storage.KnownUser, error)
	CreateKnownUser(ctx context.Context, ku storage.KnownUser) error
}

type Publisher interface {
	Publish(ctx context.Context, key uuid.UUID, event any) error
}

type Orders struct {
	store     OrderStore
	publisher Publisher
	logger    *slog.Logger
}

func NewOrders(store OrderStore, publisher Publisher, logger *slog.Logger) *Orders {
	return &Orders{store: store, publisher: publisher, logger: logger}
}

type CreateOrderInput struct {
	UserID   uuid.UUID
	Product  string
	Quantity int
	Price    float64
}

// CreateOrder persists an order for a known user and emits an order-created
// event. A user that has not yet been projected from the user-created stream
// is rejected as unknown; that window is the accepted cost of eventual
// consistency, so it surfaces as a validation failure, not a server error.
func (s *Orders) CreateOrder(ctx context.Context, in CreateOrderInput) (storage.Order, error) {
	known, err := s.IsKnownUser(ctx, in.UserID)
	if err != nil {
		return storage.Order{}, fault.Wrap(fault.Unavailable, err, "order creation failed")
	}
	if !known {
		s.logger.Warn("order rejected for unknown user", "user_id", in.UserID)
		return storage.Order{}, fault.New(fault.Validation, "unknown user ID %s", in.UserID)
	}

	order := storage.Order{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Product:   in.Product,
		Quantity:  in.Quantity,
		Price:     in.Price,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return storage.Order{}, fault.Wrap(fault.Internal, err, "order creation failed")
	}

	// The order is durable at this point; publishing is best-effort and a
	// broker failure is never rolled back into the write.
	if err := s.publisher.Publish(ctx, order.ID, events.OrderCreated{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Product:  order.Product,
		Quantity: order.Quantity,
		Price:    order.Price,
	}); err != nil {
		s.logger.Error("order created event not published", "order_id", order.ID, "err", err)
	}

	return order, nil
}

func (s *Orders) GetOrderByID(ctx context.Context, id uuid.UUID) (storage.Order, error) {
	o, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return storage.Order{}, fault.New(fault.NotFound, "order with ID %s not found", id)
		}
		return storage.Order{}, fault.Wrap(fault.Internal, err, "order lookup failed")
	}
	return o, nil
}

func (s *Orders) GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error) {
	orders, err := s.store.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "order lookup failed")
	}
	if len(orders) == 0 {
		return nil, fault.New(fault.NotFound, "no orders found for user %s", userID)
	}
	return orders, nil
}

// EnsureKnownUser projects a user-created event into known_users. It must be
// idempotent under arbitrary replay: an existing record is a no-op, and
// losing the check-then-insert race to a concurrent delivery is success.
// Anything else propagates so the subscription does not commit the offset.
func (s *Orders) EnsureKnownUser(ctx context.Context, ku storage.KnownUser) error {
	_, err := s.store.GetKnownUserByID(ctx, ku.UserID)
	if err == nil {
		return nil
	}
	if !storage.IsNotFound(err) {
		return fmt.Errorf("known user lookup: %w", err)
	}

	s.logger.Info("creating known user", "user_id", ku.UserID)
	if err := s.store.CreateKnownUser(ctx, ku); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("known user insert: %w", err)
	}
	return nil
}

// IsKnownUser is a pure read against the projection.
func (s *Orders) IsKnownUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := s.store.GetKnownUserByID(ctx, userID)
	if err == nil {
		return true, nil
	}
	if storage.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
