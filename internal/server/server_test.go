package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/copydesk/internal/balance/domain"
	checkoutdomain "github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/config"
	fxratedomain "github.com/smallbiznis/copydesk/internal/fxrate/domain"
	invoicedomain "github.com/smallbiznis/copydesk/internal/invoice/domain"
	"github.com/smallbiznis/copydesk/internal/notification"
	"github.com/smallbiznis/copydesk/internal/observability"
	orderdomain "github.com/smallbiznis/copydesk/internal/order/domain"
	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/copydesk/internal/pricing/domain"
	"github.com/smallbiznis/copydesk/pkg/db/pagination"
	"github.com/smallbiznis/copydesk/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "1790000000000000001"

type fakeCheckout struct {
	checkoutdomain.Service
	placeReq checkoutdomain.PlaceOrderRequest
	placeErr error
	quoteErr error
}

func (f *fakeCheckout) PlaceOrder(ctx context.Context, req checkoutdomain.PlaceOrderRequest) (*checkoutdomain.PlaceOrderResult, error) {
	f.placeReq = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	missing := money.New(7500, money.USD)
	return &checkoutdomain.PlaceOrderResult{
		Order:         &orderdomain.Order{ID: 42, UserID: req.UserID, Currency: money.USD},
		MissingAmount: &missing,
		Split: balancedomain.Split{
			FromBalance: money.New(0, money.PLN),
			ViaGateway:  money.New(30000, money.PLN),
		},
		Session: &checkoutdomain.Session{ID: "cs_1", URL: "https://checkout.example/cs_1"},
	}, nil
}

func (f *fakeCheckout) Quote(ctx context.Context, req checkoutdomain.QuoteRequest) (pricingdomain.OrderQuote, error) {
	if f.quoteErr != nil {
		return pricingdomain.OrderQuote{}, f.quoteErr
	}
	return pricingdomain.OrderQuote{Currency: req.Currency, Total: money.New(950, money.USD)}, nil
}

type fakeOrders struct {
	orderdomain.Service
	err error
}

func (f *fakeOrders) ListByUser(ctx context.Context, req orderdomain.ListRequest) (orderdomain.ListResponse, error) {
	if f.err != nil {
		return orderdomain.ListResponse{}, f.err
	}
	return orderdomain.ListResponse{Orders: []orderdomain.Order{}}, nil
}

func (f *fakeOrders) Cancel(ctx context.Context, userID, id snowflake.ID) (*orderdomain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &orderdomain.Order{ID: id, UserID: userID, OrderNumber: 7, Status: orderdomain.OrderStatusCancelled}, nil
}

func (f *fakeOrders) CompleteItem(ctx context.Context, orderID, itemID snowflake.ID) (*orderdomain.Item, error) {
	return &orderdomain.Item{ID: itemID, OrderID: orderID, Status: orderdomain.ItemStatusCompleted}, nil
}

type fakeBalance struct {
	balancedomain.Service
}

func (f *fakeBalance) Get(ctx context.Context, userID snowflake.ID) (money.Money, error) {
	return money.New(1250, money.PLN), nil
}

type fakeInvoices struct {
	invoicedomain.Service
}

func (f *fakeInvoices) RenderPDF(ctx context.Context, userID, id snowflake.ID) (invoicedomain.Document, error) {
	return invoicedomain.Document{FileName: "fv-2026-000001.pdf", Content: []byte("%PDF-1.4")}, nil
}

type fakeFX struct {
	fxratedomain.Service
}

func (f *fakeFX) GetRate(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, fxratedomain.ErrRateUnavailable
}

type fakeReconciler struct {
	outcome paymentdomain.Outcome
	err     error
}

type fakeNotifier struct {
	notification.Notifier
	cancelled chan notification.OrderCancelled
}

func (f *fakeNotifier) OrderCancelled(ctx context.Context, n notification.OrderCancelled) {
	f.cancelled <- n
}

func (f *fakeReconciler) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	return f.outcome, f.err
}

type harness struct {
	engine     *gin.Engine
	checkout   *fakeCheckout
	orders     *fakeOrders
	reconciler *fakeReconciler
	notifier   *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		checkout:   &fakeCheckout{},
		orders:     &fakeOrders{},
		reconciler: &fakeReconciler{outcome: paymentdomain.OutcomeProcessed},
		notifier:   &fakeNotifier{cancelled: make(chan notification.OrderCancelled, 1)},
	}
	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{}, nil),
		Cfg:         config.Config{InternalAPIToken: "internal-secret"},
		FX:          &fakeFX{},
		CheckoutSvc: h.checkout,
		OrderSvc:    h.orders,
		BalanceSvc:  &fakeBalance{},
		InvoiceSvc:  &fakeInvoices{},
		Reconciler:  h.reconciler,
		Notifier:    h.notifier,
	})
	h.engine = srv.Engine()
	return h
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func asUser() map[string]string {
	return map[string]string{HeaderUserID: testUserID}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrderRequiresUser(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/orders", createOrderRequest{
		Items: []orderItemRequest{{Title: "Post", ContentType: "blog_post", Length: 20000}},
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrderReturnsCheckoutSession(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/orders", createOrderRequest{
		Items:    []orderItemRequest{{Title: " Post ", ContentType: "blog_post", Length: 20000}},
		Currency: "usd",
	}, asUser())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Data placeOrderResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.example/cs_1", resp.Data.CheckoutURL)
	require.NotNil(t, resp.Data.MissingAmount)
	assert.EqualValues(t, 7500, resp.Data.MissingAmount.Amount)

	assert.Equal(t, testUserID, h.checkout.placeReq.UserID.String())
	assert.Equal(t, "Post", h.checkout.placeReq.Items[0].Title)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/orders", createOrderRequest{}, asUser())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{name: "gateway", err: fmt.Errorf("%w: stripe 500", checkoutdomain.ErrGateway), status: http.StatusBadGateway, typ: "gateway_error"},
		{name: "conversion", err: fxratedomain.ErrRateUnavailable, status: http.StatusServiceUnavailable, typ: "conversion_unavailable"},
		{name: "insufficient balance", err: balancedomain.ErrInsufficientBalance, status: http.StatusConflict, typ: "conflict"},
		{name: "unknown content type", err: pricingdomain.ErrUnknownContentType, status: http.StatusBadRequest, typ: "validation_error"},
		{name: "order not found", err: fmt.Errorf("lookup: %w", orderdomain.ErrOrderNotFound), status: http.StatusNotFound, typ: "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.checkout.placeErr = tc.err
			rec := h.do(http.MethodPost, "/api/orders", createOrderRequest{
				Items: []orderItemRequest{{Title: "Post", ContentType: "blog_post", Length: 2000}},
			}, asUser())
			assert.Equal(t, tc.status, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, tc.typ, payload.Type)
			assert.NotContains(t, payload.Message, "stripe")
		})
	}
}

func TestListOrdersInvalidPageToken(t *testing.T) {
	h := newHarness(t)
	h.orders.err = pagination.ErrInvalidPageToken
	rec := h.do(http.MethodGet, "/api/orders?page_token=garbage", nil, asUser())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPaidOrderConflicts(t *testing.T) {
	h := newHarness(t)
	h.orders.err = orderdomain.ErrNotCancellable
	rec := h.do(http.MethodPost, "/api/orders/42/cancel", nil, asUser())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelOrderNotifiesCustomer(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/orders/42/cancel", nil, asUser())
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case n := <-h.notifier.cancelled:
		assert.Equal(t, snowflake.ID(42), n.OrderID)
		assert.Equal(t, testUserID, n.UserID.String())
		assert.Equal(t, int64(7), n.OrderNumber)
	case <-time.After(time.Second):
		t.Fatal("cancellation was not announced")
	}
}

func TestCancelPaidOrderSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.orders.err = orderdomain.ErrNotCancellable
	h.do(http.MethodPost, "/api/orders/42/cancel", nil, asUser())

	select {
	case <-h.notifier.cancelled:
		t.Fatal("rejected cancellation was announced")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTopUpValidatesAmount(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/balance/top-up", topUpRequest{Amount: "-5"}, asUser())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBalance(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/balance", nil, asUser())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "12.50 PLN")
}

func TestDownloadInvoicePDF(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/invoices/7/pdf", nil, asUser())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "fv-2026-000001.pdf")
}

func TestQuote(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/pricing/quote?content_type=article&length=2000&currency=USD", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/pricing/quote?content_type=article", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	path := "/internal/orders/42/items/43/complete"

	rec := h.do(http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, path, nil, map[string]string{HeaderInternalToken: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, path, nil, map[string]string{HeaderInternalToken: "internal-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/internal/fx", nil, map[string]string{HeaderInternalToken: "internal-secret"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookOutcomes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.reconciler.outcome = paymentdomain.OutcomeDuplicate
	rec = h.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.reconciler.outcome = paymentdomain.OutcomeRejected
	h.reconciler.err = paymentdomain.ErrInvalidSignature
	rec = h.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, rec).Type)

	h.reconciler.outcome = paymentdomain.OutcomeFailed
	h.reconciler.err = checkoutdomain.ErrInvalidMetadata
	rec = h.do(http.MethodPost, "/webhooks/stripe", map[string]string{"id": "evt_1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
