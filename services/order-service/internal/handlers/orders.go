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
	"github.com/storefront-systems/storefront/services/order-service/internal/service"
	"github.com/storefront-systems/storefront/services/order-service/internal/storage"
)

type OrdersService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (storage.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (storage.Order, error)
	GetOrdersByUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error)
}

type Handler struct {
	orders OrdersService
	cache  *cache.Cache
	logger *slog.Logger
}

func New(orders OrdersService, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{orders: orders, cache: c, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.Create)
	mux.HandleFunc("GET /api/orders/{id}", h.Get)
	mux.HandleFunc("GET /api/orders/by-user/{userId}", h.ListByUser)
}

type createOrderRequest struct {
	UserID   uuid.UUID `json:"userId"`
	Product  string    `json:"product"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
}

type orderResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Product   string    `json:"product"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

func toOrderResponse(o storage.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Product:   o.Product,
		Quantity:  o.Quantity,
		Price:     o.Price,
		CreatedAt: o.CreatedAt,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Product = strings.TrimSpace(req.Product)
	if req.UserID == uuid.Nil || req.Product == "" || req.Quantity <= 0 || req.Price < 0 {
		h.logger.Warn("create order called with invalid data")
		httpx.Problem(w, http.StatusBadRequest, "invalid request data")
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:   req.UserID,
		Product:  req.Product,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := toOrderResponse(order)
	h.cache.Set(r.Context(), cache.OrderKey(order.ID), resp)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil || id == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var cached orderResponse
	if h.cache.Get(r.Context(), cache.OrderKey(id), &cached) {
		httpx.WriteJSON(w, http.StatusOK, cached)
		return
	}

	order, err := h.orders.GetOrderByID(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := toOrderResponse(order)
	h.cache.Set(r.Context(), cache.OrderKey(id), resp)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil || userID == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	orders, err := h.orders.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
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
