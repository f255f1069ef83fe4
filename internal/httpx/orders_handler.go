package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/redisx"
)

type OrdersHandler struct {
	Manager *orders.Manager
	Cache   *redisx.OrderCache // nil -> baca langsung dari store
	Logger  *zap.Logger
}

type CreateOrderReq struct {
	Items []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

type ReserveResp struct {
	OrderID      string        `json:"order_id"`
	Status       orders.Status `json:"status"`
	Reservations []string      `json:"reservations"`
}

type TransitionResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/reserve", h.reserve)
	r.Post("/orders/{id}/pay", h.transition(h.Manager.MarkPaid, orders.StatusPaid))
	r.Post("/orders/{id}/fail", h.transition(h.Manager.MarkFailed, orders.StatusFailed))
	r.Post("/orders/{id}/cancel", h.transition(h.Manager.CancelOrder, orders.StatusCancelled))
	r.Get("/readyz", h.ready)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Manager.CreateOrder(r.Context(), req.Items)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: id, Status: orders.StatusPending})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	ctx := r.Context()

	// 1) coba cache
	var gen int64
	cacheable := h.Cache != nil
	if cacheable {
		if v, ok := h.Cache.Get(ctx, id); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
		// generasi dibaca sebelum store, supaya Set menolak view yang basi
		if gen, err = h.Cache.Generation(ctx, id); err != nil {
			h.Logger.Warn("order cache generation", zap.String("order_id", id), zap.Error(err))
			cacheable = false
		}
	}

	// 2) fallback store
	v, err := h.Manager.GetOrder(ctx, id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if cacheable {
		h.Cache.Set(ctx, v, gen)
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) reserve(w http.ResponseWriter, r *http.Request) {
	id, err := orders.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	ids, err := h.Manager.ReserveForOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ReserveResp{OrderID: id, Status: orders.StatusReserved, Reservations: ids})
}

func (h *OrdersHandler) transition(fn func(ctx context.Context, id string) error, to orders.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := orders.ParseOrderID(chi.URLParam(r, "id"))
		if err == nil {
			err = fn(r.Context(), id)
		}
		if err != nil {
			writeError(w, h.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, TransitionResp{OrderID: id, Status: to})
	}
}

func (h *OrdersHandler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Ping(r.Context()); err != nil {
		h.Logger.Warn("store not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "unavailable", Message: "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
