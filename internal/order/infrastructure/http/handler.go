package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type itemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderReq struct {
	CustomerID  string          `json:"customerId"`
	Items       []itemDTO       `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type orderResp struct {
	ID           string          `json:"id"`
	CustomerID   string          `json:"customerId"`
	Items        []itemDTO       `json:"items"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Status       string          `json:"status"`
	CancelReason string          `json:"cancelReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type errorResp struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid body"})
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.service.CreateOrder(ctx, req.CustomerID, items, req.TotalAmount)
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: verr.Error(), Field: verr.Field})
		return
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		h.log.ErrorContext(ctx, "create order", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "could not create order"})
		return
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "get order", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "could not load order"})
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = min(n, maxListLimit)
	}

	orders, err := h.service.ListOrders(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "list orders", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "could not list orders"})
		return
	}
	out := make([]orderResp, len(orders))
	for i, o := range orders {
		out[i] = toResp(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func toResp(o domain.Order) orderResp {
	items := make([]itemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemDTO{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return orderResp{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		Items:        items,
		TotalAmount:  o.TotalAmount,
		Status:       string(o.Status),
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
