package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/storefront-systems/storefront/libs/events"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/services/order-service/internal/storage"
)

type fakeStore struct {
	orders      map[uuid.UUID]storage.Order
	knownUsers  map[uuid.UUID]storage.KnownUser
	lookupErr   error
	insertErr   error
	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     make(map[uuid.UUID]storage.Order),
		knownUsers: make(map[uuid.UUID]storage.KnownUser),
	}
}

func (f *fakeStore) CreateOrder(_ context.Context, o storage.Order) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id uuid.UUID) (storage.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return storage.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) GetOrdersByUser(_ context.Context, userID uuid.UUID) ([]storage.Order, error) {
	var out []storage.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetKnownUserByID(_ context.Context, id uuid.UUID) (storage.KnownUser, error) {
	if f.lookupErr != nil {
		return storage.KnownUser{}, f.lookupErr
	}
	ku, ok := f.knownUsers[id]
	if !ok {
		return storage.KnownUser{}, pgx.ErrNoRows
	}
	return ku, nil
}

func (f *fakeStore) CreateKnownUser(_ context.Context, ku storage.KnownUser) error {
	f.insertCalls++
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.knownUsers[ku.UserID]; ok {
		return storage.ErrDuplicate
	}
	f.knownUsers[ku.UserID] = ku
	return nil
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

func newOrders(store *fakeStore, pub *fakePublisher) *Orders {
	return NewOrders(store, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureKnownUserIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newOrders(store, &fakePublisher{})
	ctx := context.Background()

	ku := storage.KnownUser{UserID: uuid.New(), Email: "ann@x.com"}
	for i := 0; i < 3; i++ {
		if err := svc.EnsureKnownUser(ctx, ku); err != nil {
			t.Fatalf("call %d failed: %v", i+1, err)
		}
	}

	if len(store.knownUsers) != 1 {
		t.Fatalf("expected exactly one known user, got %d", len(store.knownUsers))
	}
	if store.insertCalls != 1 {
		t.Fatalf("expected one insert, got %d (replays must be no-ops)", store.insertCalls)
	}
}

func TestEnsureKnownUserTreatsDuplicateInsertAsSuccess(t *testing.T) {
	// Both deliveries saw "not found"; the second insert hits the unique
	// constraint. That race must resolve as success.
	store := newFakeStore()
	store.insertErr = storage.ErrDuplicate
	svc := newOrders(store, &fakePublisher{})

	if err := svc.EnsureKnownUser(context.Background(), storage.KnownUser{UserID: uuid.New()}); err != nil {
		t.Fatalf("duplicate insert must be success, got %v", err)
	}
}

func TestEnsureKnownUserPropagatesTransientErrors(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	store.lookupErr = errors.New("connection refused")
	if err := newOrders(store, &fakePublisher{}).EnsureKnownUser(ctx, storage.KnownUser{UserID: uuid.New()}); err == nil {
		t.Fatal("lookup failure must propagate so the offset is not committed")
	}

	store = newFakeStore()
	store.insertErr = errors.New("connection refused")
	if err := newOrders(store, &fakePublisher{}).EnsureKnownUser(ctx, storage.KnownUser{UserID: uuid.New()}); err == nil {
		t.Fatal("insert failure must propagate so the offset is not committed")
	}
}

func TestEnsureKnownUserAcceptsNilUUID(t *testing.T) {
	// Payload validation is the producer's job; the projection stores what
	// it is given.
	store := newFakeStore()
	svc := newOrders(store, &fakePublisher{})
	if err := svc.EnsureKnownUser(context.Background(), storage.KnownUser{UserID: uuid.Nil}); err != nil {
		t.Fatalf("nil user id must be projected as-is: %v", err)
	}
	if _, ok := store.knownUsers[uuid.Nil]; !ok {
		t.Fatal("expected nil-id record present")
	}
}

func TestCreateOrderRejectsUnknownUser(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newOrders(store, pub)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: uuid.New(), Product: "Widget", Quantity: 2, Price: 9.99,
	})
	if fault.KindOf(err) != fault.Validation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if len(store.orders) != 0 {
		t.Fatal("order must not be persisted for an unknown user")
	}
	if len(pub.published) != 0 {
		t.Fatal("no event may be published for a rejected order")
	}
}

func TestCreateOrderAfterReplayedUserCreated(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newOrders(store, pub)
	ctx := context.Background()

	// The same user-created event delivered twice.
	userID := uuid.New()
	ku := storage.KnownUser{UserID: userID, Email: "ann@x.com"}
	if err := svc.EnsureKnownUser(ctx, ku); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.EnsureKnownUser(ctx, ku); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(store.knownUsers) != 1 {
		t.Fatalf("expected one known user, got %d", len(store.knownUsers))
	}

	order, err := svc.CreateOrder(ctx, CreateOrderInput{
		UserID: userID, Product: "Widget", Quantity: 2, Price: 9.99,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	ev, ok := pub.published[0].(events.OrderCreated)
	if !ok {
		t.Fatalf("expected OrderCreated, got %T", pub.published[0])
	}
	if ev.OrderID != order.ID || ev.UserID != userID || ev.Product != "Widget" || ev.Quantity != 2 || ev.Price != 9.99 {
		t.Fatalf("event does not match order: %+v", ev)
	}
}

func TestCreateOrderSucceedsWhenPublishFails(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	store.knownUsers[userID] = storage.KnownUser{UserID: userID}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newOrders(store, pub)

	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: userID, Product: "Widget", Quantity: 1, Price: 1,
	})
	if err != nil {
		t.Fatalf("publish failure must not fail the create: %v", err)
	}
	if _, ok := store.orders[order.ID]; !ok {
		t.Fatal("expected order persisted")
	}
}

func TestIsKnownUserBoundary(t *testing.T) {
	store := newFakeStore()
	svc := newOrders(store, &fakePublisher{})
	ctx := context.Background()

	for _, id := range []uuid.UUID{uuid.New(), uuid.Nil} {
		known, err := svc.IsKnownUser(ctx, id)
		if err != nil {
			t.Fatalf("IsKnownUser(%s): %v", id, err)
		}
		if known {
			t.Fatalf("expected %s unknown", id)
		}
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := newOrders(newFakeStore(), &fakePublisher{})
	_, err := svc.GetOrderByID(context.Background(), uuid.New())
	if fault.KindOf(err) != fault.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetOrdersByUserNotFoundWhenEmpty(t *testing.T) {
	svc := newOrders(newFakeStore(), &fakePublisher{})
	_, err := svc.GetOrdersByUser(context.Background(), uuid.New())
	if fault.KindOf(err) != fault.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
