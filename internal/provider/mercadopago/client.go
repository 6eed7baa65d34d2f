package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

const (
	// DefaultBaseURL — продакшен-эндпоинт Mercado Pago.
	DefaultBaseURL = "https://api.mercadopago.com"

	defaultHTTPTimeout = 10 * time.Second
)

var (
	_ domain.PaymentProvider   = (*Client)(nil)
	_ domain.PreferenceService = (*Client)(nil)
)

// Client — HTTP-клиент платёжного API Mercado Pago.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *log.Entry
}

// NewClient создаёт клиент провайдера. Пустой baseURL заменяется продакшеном.
func NewClient(baseURL, accessToken string, logger *log.Entry) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = log.WithField("component", "mercadopago-client")
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger,
	}
}

// paymentBody — представление платежа в ответах API.
type paymentBody struct {
	ID                json.Number    `json:"id"`
	Status            string         `json:"status"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
}

func (b paymentBody) toDomain() domain.PaymentRecord {
	return domain.PaymentRecord{
		ID:                b.ID.String(),
		Status:            b.Status,
		ExternalReference: b.ExternalReference,
		Metadata:          b.Metadata,
	}
}

// GetPayment возвращает запись платежа. Пустое тело ответа (бывает сразу
// после уведомления) отдаётся как нулевая запись без ошибки.
func (c *Client) GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error) {
	raw, status, err := c.get(ctx, "/v1/payments/"+url.PathEscape(id))
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if status == http.StatusNotFound || len(bytes.TrimSpace(raw)) == 0 {
		return domain.PaymentRecord{}, nil
	}
	if status != http.StatusOK {
		return domain.PaymentRecord{}, fmt.Errorf("get payment %s: unexpected status %d", id, status)
	}

	var body paymentBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return body.toDomain(), nil
}

// SearchPaymentsByReference ищет платежи по external_reference.
func (c *Client) SearchPaymentsByReference(ctx context.Context, ref string) ([]domain.PaymentRecord, error) {
	raw, status, err := c.get(ctx, "/v1/payments/search?sort=date_created&criteria=desc&external_reference="+url.QueryEscape(ref))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search payments by reference %s: unexpected status %d", ref, status)
	}

	var body struct {
		Results []paymentBody `json:"results"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode payment search: %w", err)
	}

	result := make([]domain.PaymentRecord, 0, len(body.Results))
	for _, p := range body.Results {
		result = append(result, p.toDomain())
	}
	return result, nil
}

// GetMerchantOrder возвращает группировку платежей checkout-сессии.
func (c *Client) GetMerchantOrder(ctx context.Context, id string) (domain.MerchantOrder, error) {
	raw, status, err := c.get(ctx, "/merchant_orders/"+url.PathEscape(id))
	if err != nil {
		return domain.MerchantOrder{}, err
	}
	if status != http.StatusOK {
		return domain.MerchantOrder{}, fmt.Errorf("get merchant order %s: unexpected status %d", id, status)
	}

	var body struct {
		ID       json.Number   `json:"id"`
		Payments []paymentBody `json:"payments"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.MerchantOrder{}, fmt.Errorf("decode merchant order %s: %w", id, err)
	}

	mo := domain.MerchantOrder{ID: body.ID.String()}
	for _, p := range body.Payments {
		mo.Payments = append(mo.Payments, p.toDomain())
	}
	return mo, nil
}

// CreatePreference создаёт checkout-преференцию: покупатель оплачивает по
// возвращённому init_point, а уведомления приходят на NotificationURL.
func (c *Client) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	items := make([]map[string]any, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]any{
			"title":       item.Title,
			"quantity":    item.Qty,
			"unit_price":  minorToUnits(item.UnitPriceMinor),
			"currency_id": "BRL",
		})
	}

	payload := map[string]any{
		"items":              items,
		"external_reference": req.ExternalReference,
		"metadata":           req.Metadata,
		"notification_url":   req.NotificationURL,
		"back_urls": map[string]string{
			"success": req.SuccessURL,
			"failure": req.FailureURL,
			"pending": req.PendingURL,
		},
		"auto_return": "approved",
	}

	raw, status, err := c.post(ctx, "/checkout/preferences", payload)
	if err != nil {
		return domain.Preference{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return domain.Preference{}, fmt.Errorf("create preference: unexpected status %d", status)
	}

	var body struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.Preference{}, fmt.Errorf("decode preference: %w", err)
	}

	c.logger.WithField("preference_id", body.ID).Debug("preference created")
	return domain.Preference{ID: body.ID, InitPoint: body.InitPoint}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call provider %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read provider response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// minorToUnits переводит сентаво в денежные единицы API (float с двумя знаками).
func minorToUnits(minor int64) float64 {
	units, _ := strconv.ParseFloat(fmt.Sprintf("%d.%02d", minor/100, minor%100), 64)
	return units
}
