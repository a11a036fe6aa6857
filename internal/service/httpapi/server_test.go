package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/order"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cat, err := catalog.New([]catalog.Card{
		{ID: "widget", Name: "Widget", Price: "9.99"},
		{ID: "gadget", Name: "Gadget", Price: "25"},
		{ID: "trinket", Name: "Trinket", Price: "3.50"},
	}, true, nil)
	require.NoError(t, err)

	snapshots := memory.NewSnapshotStore()
	timeline := memory.NewTimelineRepository()

	registry := cart.NewRegistry(func(ctx context.Context, key string) *cart.Store {
		return cart.NewStore(ctx, key, snapshots, cart.WithTimeline(timeline))
	}, nil)

	formatter := order.NewFormatter("")
	flowFactory := func(store *cart.Store) *checkout.Flow {
		return checkout.NewFlow(store, formatter, nil,
			checkout.WithTimeline(timeline),
			checkout.WithStatusTTL(50*time.Millisecond),
		)
	}

	return NewServer(cat, registry, flowFactory,
		WithTimeline(timeline),
		WithIdempotency(memory.NewIdempotencyRepository()),
	)
}

func doJSON(t *testing.T, handler http.Handler, method, target, sessionKey string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if sessionKey != "" {
		req.Header.Set(SessionKeyHeader, sessionKey)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeInto(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target))
}

func TestServer_Catalog_Filter(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()

	recorder := doJSON(t, routes, http.MethodGet, "/api/catalog?max_price=10", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp catalogResponse
	decodeInto(t, recorder, &resp)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, "widget", resp.Products[0].ID)
	assert.Equal(t, "9.99", resp.Products[0].Price)
	assert.Equal(t, int64(999), resp.Products[0].PriceMinor)
	assert.Equal(t, "trinket", resp.Products[1].ID)

	recorder = doJSON(t, routes, http.MethodGet, "/api/catalog?q=gad", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	decodeInto(t, recorder, &resp)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "Gadget", resp.Products[0].Name)

	recorder = doJSON(t, routes, http.MethodGet, "/api/catalog?max_price=free", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestServer_Session_IssuedAndEchoed(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()

	recorder := doJSON(t, routes, http.MethodGet, "/api/cart", "", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	issued := recorder.Header().Get(SessionKeyHeader)
	require.NotEmpty(t, issued)

	recorder = doJSON(t, routes, http.MethodGet, "/api/cart", issued, nil, nil)
	assert.Equal(t, issued, recorder.Header().Get(SessionKeyHeader))

	var view cartView
	decodeInto(t, recorder, &view)
	assert.True(t, view.Empty)
	assert.False(t, view.CanCheckout)
}

func TestServer_AddItem_AccumulatesQuantity(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-add"

	recorder := doJSON(t, routes, http.MethodPost, "/api/cart/items", session,
		addItemRequest{ProductID: "widget"}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doJSON(t, routes, http.MethodPost, "/api/cart/items", session,
		addItemRequest{ProductID: "widget"}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp addItemResponse
	decodeInto(t, recorder, &resp)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, int32(2), resp.Cart.Items[0].Quantity)
	assert.Equal(t, int64(1998), resp.Cart.Items[0].LineTotalMinor)
	assert.Equal(t, int32(2), resp.Cart.TotalItems)
	assert.Equal(t, "19.98", resp.Cart.Total)
}

func TestServer_AddItem_UnknownProduct(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()

	recorder := doJSON(t, routes, http.MethodPost, "/api/cart/items", "session-unknown",
		addItemRequest{ProductID: "nope"}, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)

	var resp errorResponse
	decodeInto(t, recorder, &resp)
	assert.Equal(t, "product_not_found", resp.Error.Code)
}

func TestServer_DecrementAndClear(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-decrement"

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)
	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)

	recorder := doJSON(t, routes, http.MethodPost, "/api/cart/items/widget/decrement", session, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var view cartView
	decodeInto(t, recorder, &view)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int32(1), view.Items[0].Quantity)

	// Неизвестный id — no-op, состояние не меняется.
	recorder = doJSON(t, routes, http.MethodPost, "/api/cart/items/ghost/decrement", session, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	decodeInto(t, recorder, &view)
	assert.Equal(t, int32(1), view.TotalItems)

	recorder = doJSON(t, routes, http.MethodDelete, "/api/cart", session, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	decodeInto(t, recorder, &view)
	assert.True(t, view.Empty)
}

func TestServer_Checkout_EmptyCartBlocked(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()

	recorder := doJSON(t, routes, http.MethodPost, "/api/checkout", "session-empty",
		checkoutRequest{Identifier: "Maria"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	var resp errorResponse
	decodeInto(t, recorder, &resp)
	assert.Equal(t, "empty_cart", resp.Error.Code)
	assert.Empty(t, resp.Error.Focus)
}

func TestServer_Checkout_MissingIdentifierFocusesField(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-no-name"

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)

	recorder := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "   "}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

	var resp errorResponse
	decodeInto(t, recorder, &resp)
	assert.Equal(t, "missing_identifier", resp.Error.Code)
	assert.Equal(t, "client-name", resp.Error.Focus)
}

func TestServer_Checkout_SuccessClearsCart(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-checkout"

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)
	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)

	recorder := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "Maria"}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp checkoutResponse
	decodeInto(t, recorder, &resp)
	assert.NotEmpty(t, resp.OrderRef)
	assert.Contains(t, resp.Text, "1. Widget (Cant: 2) - $19.98")
	assert.Contains(t, resp.Text, "*Nombre/Clave:* Maria")
	assert.True(t, strings.HasPrefix(resp.DeepLink, "https://wa.me/"))
	assert.Equal(t, checkout.StatusOpening, resp.Status)

	recorder = doJSON(t, routes, http.MethodGet, "/api/cart", session, nil, nil)
	var view cartView
	decodeInto(t, recorder, &view)
	assert.True(t, view.Empty)
}

func TestServer_Checkout_IdempotentReplay(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-idem"
	headers := map[string]string{IdempotencyKeyHeader: "order-once"}

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "gadget"}, nil)

	first := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "Maria"}, headers)
	require.Equal(t, http.StatusOK, first.Code)

	// Повтор после очистки корзины: без ключа был бы отказ empty_cart,
	// с ключом — воспроизведение сохранённого ответа.
	second := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "Maria"}, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestServer_Checkout_IdempotencyHashMismatch(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-idem-mismatch"
	headers := map[string]string{IdempotencyKeyHeader: "order-mismatch"}

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "gadget"}, nil)

	first := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "Maria"}, headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, routes, http.MethodPost, "/api/checkout", session,
		checkoutRequest{Identifier: "Pedro"}, headers)
	require.Equal(t, http.StatusConflict, second.Code)

	var resp errorResponse
	decodeInto(t, second, &resp)
	assert.Equal(t, "idempotency_mismatch", resp.Error.Code)
}

func TestServer_Timeline_RecordsActivity(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()
	session := "session-timeline"

	doJSON(t, routes, http.MethodPost, "/api/cart/items", session, addItemRequest{ProductID: "widget"}, nil)
	doJSON(t, routes, http.MethodPost, "/api/checkout", session, checkoutRequest{Identifier: "Maria"}, nil)

	recorder := doJSON(t, routes, http.MethodGet, "/api/cart/timeline", session, nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp timelineResponse
	decodeInto(t, recorder, &resp)
	require.NotEmpty(t, resp.Events)

	types := make([]string, 0, len(resp.Events))
	for _, event := range resp.Events {
		types = append(types, event.Type)
	}
	assert.Contains(t, types, "ItemAdded")
	assert.Contains(t, types, "CheckoutSubmitted")
}

func TestServer_BadJSONBody(t *testing.T) {
	t.Parallel()

	routes := newTestServer(t).Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/cart/items", strings.NewReader("{not json"))
	req.Header.Set(SessionKeyHeader, "session-bad-json")
	recorder := httptest.NewRecorder()
	routes.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var resp errorResponse
	decodeInto(t, recorder, &resp)
	assert.Equal(t, "bad_request", resp.Error.Code)
}
