package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/orders"
)

type ProductsHandler struct {
	Manager *orders.Manager
	Logger  *zap.Logger
}

type CreateProductReq struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	InitialQty int    `json:"initial_qty"`
}

type CreateProductResp struct {
	Product    orders.Product `json:"product"`
	InitialQty int            `json:"initial_qty"`
}

type AdjustStockReq struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type StockResp struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	r.Post("/products", h.createProduct)
	r.Get("/products/{sku}/stock", h.getStock)
	r.Post("/products/{sku}/adjustments", h.adjustStock)
	r.Get("/products/{sku}/movements", h.listMovements)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Manager.CreateProduct(r.Context(), req.SKU, req.Name, req.InitialQty)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateProductResp{Product: p, InitialQty: req.InitialQty})
}

func (h *ProductsHandler) getStock(w http.ResponseWriter, r *http.Request) {
	st, err := h.Manager.GetStock(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *ProductsHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockReq
	if !decode(w, r, &req) {
		return
	}
	sku := chi.URLParam(r, "sku")
	qty, err := h.Manager.AdjustStock(r.Context(), sku, req.Delta, req.Reason)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, StockResp{SKU: sku, Quantity: qty})
}

func (h *ProductsHandler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ms, err := h.Manager.ListMovements(r.Context(), chi.URLParam(r, "sku"), limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if ms == nil {
		ms = []orders.StockMovement{}
	}
	writeJSON(w, http.StatusOK, ms)
}
