package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/storefront-systems/storefront/libs/events"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/services/user-service/internal/storage"
)

type fakeStore struct {
	users     map[uuid.UUID]storage.User
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[uuid.UUID]storage.User)}
}

func (f *fakeStore) CreateUser(_ context.Context, u storage.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (storage.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return storage.User{}, pgx.ErrNoRows
}

type fakePublisher struct {
	published []any
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, _ uuid.UUID, event any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func newUsers(store *fakeStore, pub *fakePublisher) *Users {
	return NewUsers(store, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateUserPublishesEvent(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newUsers(store, pub)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{Name: "Ann", Email: "ann@x.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, ok := store.users[user.ID]; !ok {
		t.Fatal("expected user persisted")
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	ev, ok := pub.published[0].(events.UserCreated)
	if !ok {
		t.Fatalf("expected UserCreated, got %T", pub.published[0])
	}
	if ev.UserID != user.ID || ev.Name != "Ann" || ev.Email != "ann@x.com" {
		t.Fatalf("event does not match user: %+v", ev)
	}
}

func TestCreateUserEmailConflict(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newUsers(store, pub)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.CreateUser(ctx, CreateUserInput{Name: "Other Ann", Email: "ANN@x.com"})
	if fault.KindOf(err) != fault.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(store.users) != 1 {
		t.Fatalf("expected one user, got %d", len(store.users))
	}
	if len(pub.published) != 1 {
		t.Fatal("conflicting create must not publish")
	}
}

func TestCreateUserDuplicateInsertIsConflict(t *testing.T) {
	// The advisory email check raced another writer; the unique index caught
	// it at insert time.
	store := newFakeStore()
	store.createErr = storage.ErrDuplicate
	svc := newUsers(store, &fakePublisher{})

	_, err := svc.CreateUser(context.Background(), CreateUserInput{Name: "Ann", Email: "ann@x.com"})
	if fault.KindOf(err) != fault.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateUserSucceedsWhenPublishFails(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newUsers(store, pub)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{Name: "Ann", Email: "ann@x.com"})
	if err != nil {
		t.Fatalf("publish failure must not fail the create: %v", err)
	}
	if _, ok := store.users[user.ID]; !ok {
		t.Fatal("expected user persisted")
	}
}

func TestGetUserNotFound(t *testing.T) {
	svc := newUsers(newFakeStore(), &fakePublisher{})
	_, err := svc.GetUserByID(context.Background(), uuid.New())
	if fault.KindOf(err) != fault.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
