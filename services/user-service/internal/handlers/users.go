package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/storefront-systems/storefront/libs/cache"
	"github.com/storefront-systems/storefront/libs/fault"
	"github.com/storefront-systems/storefront/libs/httpx"
	"github.com/storefront-systems/storefront/services/user-service/internal/service"
	"github.com/storefront-systems/storefront/services/user-service/internal/storage"
)

type UsersService interface {
	CreateUser(ctx context.Context, in service.CreateUserInput) (storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (storage.User, error)
}

type Handler struct {
	users  UsersService
	cache  *cache.Cache
	logger *slog.Logger
}

func New(users UsersService, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{users: users, cache: c, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", h.Create)
	mux.HandleFunc("GET /api/users/{id}", h.Get)
}

type createUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u storage.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || !strings.Contains(req.Email, "@") {
		h.logger.Warn("create user called with invalid data")
		httpx.Problem(w, http.StatusBadRequest, "invalid request data")
		return
	}

	user, err := h.users.CreateUser(r.Context(), service.CreateUserInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := toUserResponse(user)
	h.cache.Set(r.Context(), cache.UserKey(user.ID), resp)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil || id == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var cached userResponse
	if h.cache.Get(r.Context(), cache.UserKey(id), &cached) {
		httpx.WriteJSON(w, http.StatusOK, cached)
		return
	}

	user, err := h.users.GetUserByID(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := toUserResponse(user)
	h.cache.Set(r.Context(), cache.UserKey(id), resp)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func writeFault(w http.ResponseWriter, err error) {
	var status int
	switch fault.KindOf(err) {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Conflict:
		status = http.StatusConflict
	case fault.Unavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	httpx.Problem(w, status, fault.MessageOf(err))
}
