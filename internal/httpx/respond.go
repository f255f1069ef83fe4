package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/stockd/internal/orders"
)

type errorResp struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = map[string]int{
	"not_found":          http.StatusNotFound,
	"invalid_input":      http.StatusBadRequest,
	"duplicate_sku":      http.StatusConflict,
	"invalid_quantity":   http.StatusBadRequest,
	"insufficient_stock": http.StatusConflict,
	"invalid_transition": http.StatusConflict,
	"already_released":   http.StatusConflict,
	"lock_timeout":       http.StatusServiceUnavailable,
}

// writeError maps an engine error to its status code and body.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := orders.Kind(err)
	code, ok := statusByKind[kind]
	if !ok {
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: kind, Message: "internal error"})
		return
	}
	body := errorResp{Error: kind, Message: err.Error(), Retryable: orders.Retryable(err)}
	var ise *orders.InsufficientStockError
	if errors.As(err, &ise) {
		body.SKU, body.Requested, body.Available = ise.SKU, ise.Requested, &ise.Available
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid_input", Message: "invalid json: " + err.Error()})
		return false
	}
	return true
}
