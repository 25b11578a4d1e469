package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/storefront-systems/storefront/libs/cache"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/services/user-service/internal/service"
	"github.com/storefront-systems/storefront/services/user-service/internal/storage"
)

type fakeUsers struct {
	user      storage.User
	createErr error
	getErr    error
	getCalls  int
}

func (f *fakeUsers) CreateUser(_ context.Context, in service.CreateUserInput) (storage.User, error) {
	if f.createErr != nil {
		return storage.User{}, f.createErr
	}
	f.user = storage.User{ID: uuid.New(), Name: in.Name, Email: in.Email, CreatedAt: time.Now().UTC()}
	return f.user, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, _ uuid.UUID) (storage.User, error) {
	f.getCalls++
	if f.getErr != nil {
		return storage.User{}, f.getErr
	}
	return f.user, nil
}

func newTestHandler(t *testing.T, users *fakeUsers) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := New(users, cache.New(rdb, 5*time.Minute, logger), logger)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestCreateUserValidation(t *testing.T) {
	handler := newTestHandler(t, &fakeUsers{})

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"blank name", `{"name":" ","email":"ann@x.com"}`},
		{"blank email", `{"name":"Ann","email":""}`},
		{"malformed email", `{"name":"Ann","email":"not-an-email"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestCreateUserConflictIs409(t *testing.T) {
	users := &fakeUsers{createErr: fault.New(fault.Conflict, "user with email ann@x.com already exists")}
	handler := newTestHandler(t, users)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Ann","email":"ann@x.com"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateUserHappyPath(t *testing.T) {
	users := &fakeUsers{}
	handler := newTestHandler(t, users)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Ann","email":"ann@x.com"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != users.user.ID || resp.Email != "ann@x.com" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetUserReadsThroughCache(t *testing.T) {
	user := storage.User{ID: uuid.New(), Name: "Ann", Email: "ann@x.com", CreatedAt: time.Now().UTC()}
	users := &fakeUsers{user: user}
	handler := newTestHandler(t, users)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+user.ID.String(), nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	// First request filled the cache; the second never hit the service.
	if users.getCalls != 1 {
		t.Fatalf("expected one service lookup, got %d", users.getCalls)
	}
}

func TestGetUserErrors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		handler := newTestHandler(t, &fakeUsers{})
		req := httptest.NewRequest(http.MethodGet, "/api/users/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New()
		handler := newTestHandler(t, &fakeUsers{getErr: fault.New(fault.NotFound, "user with ID %s not found", id)})
		req := httptest.NewRequest(http.MethodGet, "/api/users/"+id.String(), nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
