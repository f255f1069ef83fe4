package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/stockd/internal/memory"
	"github.com/ariefcatur/stockd/internal/orders"
	"github.com/ariefcatur/stockd/internal/redisx"
)

const testKey = "s3cret"

type fixture struct {
	router *chi.Mux
	mr     *miniredis.Miniredis
	mgr    *orders.Manager
	cache  *redisx.OrderCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := &redisx.OrderCache{Redis: rdb}

	mgr := orders.NewManager(memory.New(), orders.Options{
		LockTimeout: time.Second,
		Publisher:   orders.Publishers{cache},
	})
	r := NewRouter(nil, testKey)
	(&ProductsHandler{Manager: mgr}).Register(r)
	(&OrdersHandler{Manager: mgr, Cache: cache}).Register(r)
	return &fixture{router: r, mr: mr, mgr: mgr, cache: cache}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) product(t *testing.T, sku string, qty int) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/products", CreateProductReq{SKU: sku, Name: sku, InitialQty: qty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) order(t *testing.T, items ...orders.ItemInput) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/orders", CreateOrderReq{Items: items})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[CreateOrderResp](t, rec)
	assert.Equal(t, orders.StatusPending, resp.Status)
	return resp.OrderID
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.product(t, "SKU-001", 50)
	id := f.order(t, orders.ItemInput{SKU: "SKU-001", Qty: 5})

	rec := f.do(t, http.MethodPost, "/orders/"+id+"/reserve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ReserveResp](t, rec)
	assert.Equal(t, orders.StatusReserved, res.Status)
	assert.Len(t, res.Reservations, 1)

	rec = f.do(t, http.MethodGet, "/products/SKU-001/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 45, decodeBody[orders.Stock](t, rec).Quantity)

	rec = f.do(t, http.MethodPost, "/orders/"+id+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orders.StatusPaid, decodeBody[TransitionResp](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[orders.OrderView](t, rec)
	assert.Equal(t, orders.StatusPaid, v.Status)
	require.Len(t, v.Items, 1)
	require.Len(t, v.Reservations, 1)
	assert.False(t, v.Reservations[0].Active)

	rec = f.do(t, http.MethodGet, "/products/SKU-001/movements?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ms := decodeBody[[]orders.StockMovement](t, rec)
	require.Len(t, ms, 3)
	assert.Equal(t, orders.ReasonFulfill, ms[0].Reason)
}

func TestInsufficientStockBody(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 2)
	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 3})

	rec := f.do(t, http.MethodPost, "/orders/"+id+"/reserve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorResp](t, rec)
	assert.Equal(t, "insufficient_stock", body.Error)
	assert.Equal(t, "A", body.SKU)
	assert.Equal(t, 3, body.Requested)
	require.NotNil(t, body.Available)
	assert.Equal(t, 2, *body.Available)
	assert.False(t, body.Retryable)
}

func TestErrorStatusCodes(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 1)
	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 1})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		kind   string
	}{
		{"duplicate sku", http.MethodPost, "/products", CreateProductReq{SKU: "A"}, http.StatusConflict, "duplicate_sku"},
		{"blank sku", http.MethodPost, "/products", CreateProductReq{SKU: ""}, http.StatusBadRequest, "invalid_input"},
		{"negative initial", http.MethodPost, "/products", CreateProductReq{SKU: "N", InitialQty: -1}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown field", http.MethodPost, "/products", map[string]any{"sku": "X", "price": 3}, http.StatusBadRequest, "invalid_input"},
		{"unknown stock", http.MethodGet, "/products/nope/stock", nil, http.StatusNotFound, "not_found"},
		{"zero adjustment", http.MethodPost, "/products/A/adjustments", AdjustStockReq{Delta: 0}, http.StatusBadRequest, "invalid_quantity"},
		{"overdraw adjustment", http.MethodPost, "/products/A/adjustments", AdjustStockReq{Delta: -5}, http.StatusConflict, "insufficient_stock"},
		{"empty order", http.MethodPost, "/orders", CreateOrderReq{}, http.StatusBadRequest, "invalid_input"},
		{"zero qty", http.MethodPost, "/orders", CreateOrderReq{Items: []orders.ItemInput{{SKU: "A"}}}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown order sku", http.MethodPost, "/orders", CreateOrderReq{Items: []orders.ItemInput{{SKU: "nope", Qty: 1}}}, http.StatusNotFound, "not_found"},
		{"malformed order id", http.MethodGet, "/orders/xyz", nil, http.StatusNotFound, "not_found"},
		{"pay pending", http.MethodPost, "/orders/" + id + "/pay", nil, http.StatusConflict, "invalid_transition"},
		{"fail pending", http.MethodPost, "/orders/" + id + "/fail", nil, http.StatusConflict, "invalid_transition"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, decodeBody[errorResp](t, rec).Error)
		})
	}
}

func TestAdjustAndCancel(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 0)

	rec := f.do(t, http.MethodPost, "/products/A/adjustments", AdjustStockReq{Delta: 4, Reason: "restock"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StockResp{SKU: "A", Quantity: 4}, decodeBody[StockResp](t, rec))

	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 4})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+id+"/reserve", nil).Code)
	rec = f.do(t, http.MethodPost, "/orders/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusCancelled, decodeBody[TransitionResp](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/products/A/stock", nil)
	assert.Equal(t, 4, decodeBody[orders.Stock](t, rec).Quantity)

	rec = f.do(t, http.MethodPost, "/orders/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMovementsEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 0)
	rec := f.do(t, http.MethodGet, "/products/A/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOrderViewCacheIsEvicted(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 5)
	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 1})

	rec := f.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.mr.Exists("order_view:"+id))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+id+"/reserve", nil).Code)
	assert.False(t, f.mr.Exists("order_view:"+id))

	rec = f.do(t, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, orders.StatusReserved, decodeBody[orders.OrderView](t, rec).Status)
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/products/A/stock", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/products/A/stock", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, path := range []string{"/healthz", "/readyz"} {
		req = httptest.NewRequest(http.MethodGet, path, nil)
		rec = httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestLockTimeoutIs503(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, nil, orders.ErrLockTimeout)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	body := decodeBody[errorResp](t, rec)
	assert.True(t, body.Retryable)
	assert.Equal(t, "lock_timeout", body.Error)
}

func TestStaleViewIsNotCachedAfterTransition(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 5)
	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 1})
	ctx := context.Background()

	// a cache-miss read loads PENDING, then a reserve commits before write-back
	gen, err := f.cache.Generation(ctx, id)
	require.NoError(t, err)
	stale, err := f.mgr.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+id+"/reserve", nil).Code)
	assert.False(t, f.cache.Set(ctx, stale, gen))

	rec := f.do(t, http.MethodGet, "/orders/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusReserved, decodeBody[orders.OrderView](t, rec).Status)
}

func TestOrderIDSpellingsShareCacheEntry(t *testing.T) {
	f := newFixture(t)
	f.product(t, "A", 5)
	id := f.order(t, orders.ItemInput{SKU: "A", Qty: 1})

	rec := f.do(t, http.MethodGet, "/orders/"+strings.ToUpper(id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, decodeBody[orders.OrderView](t, rec).ID)
	assert.True(t, f.mr.Exists("order_view:"+id))

	rec = f.do(t, http.MethodPost, "/orders/"+strings.ToUpper(id)+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, decodeBody[TransitionResp](t, rec).OrderID)
	assert.False(t, f.mr.Exists("order_view:"+id))

	rec = f.do(t, http.MethodGet, "/orders/"+id, nil)
	assert.Equal(t, orders.StatusCancelled, decodeBody[orders.OrderView](t, rec).Status)
}
