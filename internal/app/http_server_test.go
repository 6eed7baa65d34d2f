package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/recon/internal/checkout"
	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/provider/mercadopago"
	"github.com/vladislavdragonenkov/recon/internal/recon"
	"github.com/vladislavdragonenkov/recon/internal/storage/memory"
)

type mailerStub struct {
	sent []string
}

func (m *mailerStub) Send(recipient, subject, htmlBody string) error {
	m.sent = append(m.sent, recipient)
	return nil
}

type serverFixture struct {
	router   http.Handler
	orders   domain.OrderStore
	provider *mercadopago.MockProvider
	mailer   *mailerStub
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	products := memory.NewProductCatalog()
	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderStore(products, outbox)
	provider := mercadopago.NewMockProvider()
	mailer := &mailerStub{}

	require.NoError(t, products.Put(domain.Product{
		ID:         "prod-1",
		Name:       "Colar de Ouro",
		PriceMinor: 45000,
		Stock:      10,
	}))

	resolver := recon.NewResolver(provider, time.Millisecond, nil)
	engine := recon.NewEngineWithoutMetrics(orders, resolver, mailer, "loja@example.com", nil)
	checkoutSvc := checkout.NewService(orders, products, provider, outbox, checkout.URLs{
		Notification: "http://localhost:8080/payment/webhook",
	}, nil)

	server := NewHTTPServer(engine, checkoutSvc, orders, products, mailer, nil)
	return &serverFixture{
		router:   server.Router(),
		orders:   orders,
		provider: provider,
		mailer:   mailer,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func seedOrderViaCheckout(t *testing.T, f *serverFixture) string {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_name":  "Clara",
		"customer_email": "clara@example.com",
		"items":          []map[string]any{{"product_id": "prod-1", "qty": 1}},
		"shipping_minor": 1500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)
	return resp.OrderID
}

func TestHTTP_CheckoutCreatesOrder(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_name":  "Clara",
		"customer_email": "clara@example.com",
		"items":          []map[string]any{{"product_id": "prod-1", "qty": 2}},
		"shipping_minor": 1500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		OrderID     string `json:"order_id"`
		TotalMinor  int64  `json:"total_minor"`
		CheckoutURL string `json:"checkout_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(91500), resp.TotalMinor)
	require.True(t, strings.HasPrefix(resp.CheckoutURL, "https://"), resp.CheckoutURL)

	order, err := f.orders.FindByID(resp.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.OrderStatus)
}

func TestHTTP_CheckoutValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_name": "Clara",
		"items":         []map[string]any{{"product_id": "prod-1", "qty": 1}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_email": "clara@example.com",
		"items":          []map[string]any{{"product_id": "ghost", "qty": 1}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHTTP_WebhookAlwaysAcks(t *testing.T) {
	f := newServerFixture(t)
	orderID := seedOrderViaCheckout(t, f)

	f.provider.Payments["pay-1"] = domain.PaymentRecord{
		ID:       "pay-1",
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"order_id": orderID},
	}

	rec := f.do(t, http.MethodPost, "/payment/webhook", map[string]any{
		"data": map[string]any{"id": "pay-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(recon.OutcomeApplied))

	order, err := f.orders.FindByID(orderID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)

	// Неразборчивый payload и мусорное тело тоже подтверждаются.
	rec = f.do(t, http.MethodPost, "/payment/webhook", map[string]any{"hello": "world"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	require.Equal(t, http.StatusOK, raw.Code)
}

func TestHTTP_GetOrder(t *testing.T) {
	f := newServerFixture(t)
	orderID := seedOrderViaCheckout(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, orderID, view.ID)
	require.Len(t, view.Items, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/orders/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_ShipOrder(t *testing.T) {
	f := newServerFixture(t)
	orderID := seedOrderViaCheckout(t, f)

	// Пока заказ не оплачен, отправка запрещена.
	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/ship", map[string]any{
		"tracking_code": "BR123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, f.orders.AdvanceOrderStatus(orderID, domain.OrderStatusPending, domain.OrderStatusPaid))
	f.mailer.sent = nil

	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/ship", map[string]any{
		"tracking_code": "BR123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := f.orders.FindByID(orderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, order.OrderStatus)
	require.Equal(t, "BR123", order.TrackingCode)
	require.Equal(t, []string{"clara@example.com"}, f.mailer.sent)

	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+orderID+"/ship", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_PutProduct(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/products/prod-2", map[string]any{
		"name":        "Anel de Prata",
		"price_minor": 12000,
		"stock":       3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	recCheckout := f.do(t, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_name":  "Clara",
		"customer_email": "clara@example.com",
		"items":          []map[string]any{{"product_id": "prod-2", "qty": 1}},
	})
	require.Equal(t, http.StatusCreated, recCheckout.Code, recCheckout.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/products/prod-3", map[string]any{
		"price_minor": 12000,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
