package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storefront-systems/storefront/libs/events"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/services/user-service/internal/storage"
)

type UserStore interface {
	CreateUser(ctx context.Context, u storage.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
}

type Publisher interface {
	Publish(ctx context.Context, key uuid.UUID, event any) error
}

type Users struct {
	store     UserStore
	publisher Publisher
	logger    *slog.Logger
}

func NewUsers(store UserStore, publisher Publisher, logger *slog.Logger) *Users {
	return &Users{store: store, publisher: publisher, logger: logger}
}

type CreateUserInput struct {
	Name  string
	Email string
}

// CreateUser persists a new user and emits a user-created event so the order
// service can project it. The email lookup is advisory; the unique index on
// email is the real conflict arbiter.
func (s *Users) CreateUser(ctx context.Context, in CreateUserInput) (storage.User, error) {
	_, err := s.store.GetUserByEmail(ctx, in.Email)
	if err == nil {
		s.logger.Warn("conflict creating user", "email", in.Email)
		return storage.User{}, fault.New(fault.Conflict, "user with email %s already exists", in.Email)
	}
	if !storage.IsNotFound(err) {
		return storage.User{}, fault.Wrap(fault.Internal, err, "user creation failed")
	}

	user := storage.User{
		ID:        uuid.New(),
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.User{}, fault.New(fault.Conflict, "user with email %s already exists", in.Email)
		}
		return storage.User{}, fault.Wrap(fault.Internal, err, "user creation failed")
	}

	// The user is durable; a broker failure is logged, never rolled back.
	if err := s.publisher.Publish(ctx, user.ID, events.UserCreated{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
	}); err != nil {
		s.logger.Error("user created event not published", "user_id", user.ID, "err", err)
	}

	return user, nil
}

func (s *Users) GetUserByID(ctx context.Context, id uuid.UUID) (storage.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return storage.User{}, fault.New(fault.NotFound, "user with ID %s not found", id)
		}
		return storage.User{}, fault.Wrap(fault.Internal, err, "user lookup failed")
	}
	return u, nil
}
