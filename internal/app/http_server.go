package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/checkout"
	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/notify"
	"github.com/vladislavdragonenkov/recon/internal/recon"
)

const (
	readHeaderTimeout = 5 * time.Second
	// Бюджет запроса: webhook внутри может ждать повтора у провайдера.
	requestTimeout = 30 * time.Second
)

// productWriter — запись в каталог товаров (админ-операции).
type productWriter interface {
	Put(product domain.Product) error
}

// HTTPServer собирает публичное HTTP API сервиса.
type HTTPServer struct {
	engine   *recon.Engine
	checkout *checkout.Service
	orders   domain.OrderStore
	products productWriter
	notifier domain.Notifier
	logger   *log.Entry
}

// NewHTTPServer создаёт HTTP-обвязку над сервисами.
func NewHTTPServer(
	engine *recon.Engine,
	checkoutSvc *checkout.Service,
	orders domain.OrderStore,
	products productWriter,
	notifier domain.Notifier,
	logger *log.Entry,
) *HTTPServer {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &HTTPServer{
		engine:   engine,
		checkout: checkoutSvc,
		orders:   orders,
		products: products,
		notifier: notifier,
		logger:   logger,
	}
}

// Router собирает маршруты сервиса.
func (s *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/payment/webhook", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", s.handleCheckout)
		r.Get("/orders/{order_id}", s.handleGetOrder)
		r.Post("/orders/{order_id}/ship", s.handleShipOrder)
		r.Put("/products/{product_id}", s.handlePutProduct)
	})

	return r
}

// handleWebhook принимает уведомление провайдера. Ответ всегда 200:
// провайдер повторяет доставку при любом другом статусе, а повтор
// безопасен благодаря идемпотентной сверке.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.WithError(err).Warn("webhook with malformed body")
		render.JSON(w, r, map[string]string{"status": string(recon.OutcomeUnresolvable)})
		return
	}

	outcome := s.engine.Process(r.Context(), payload)
	render.JSON(w, r, map[string]string{"status": string(outcome)})
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"qty"`
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	PostalCode string `json:"postal_code"`
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
}

type checkoutRequest struct {
	CustomerName  string                `json:"customer_name"`
	CustomerEmail string                `json:"customer_email"`
	Items         []checkoutItemRequest `json:"items"`
	ShippingMinor int64                 `json:"shipping_minor"`
	Address       addressRequest        `json:"address"`
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]checkout.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, checkout.ItemRequest{ProductID: item.ProductID, Qty: item.Qty})
	}

	result, err := s.checkout.CreateOrder(r.Context(), checkout.Request{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
		ShippingMinor: req.ShippingMinor,
		Address: domain.ShippingAddress{
			Recipient:  req.Address.Recipient,
			Phone:      req.Address.Phone,
			PostalCode: req.Address.PostalCode,
			Street:     req.Address.Street,
			Number:     req.Address.Number,
			Complement: req.Address.Complement,
			District:   req.Address.District,
			City:       req.Address.City,
			State:      req.Address.State,
		},
	})
	if err != nil {
		s.renderCheckoutError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"order_id":     result.Order.ID,
		"total_minor":  result.Order.TotalMinor,
		"checkout_url": result.CheckoutURL,
	})
}

func (s *HTTPServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := s.orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.renderError(w, r, http.StatusNotFound, "order not found")
			return
		}
		s.logger.WithError(err).Error("order lookup failed")
		s.renderError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	render.JSON(w, r, orderResponse(order))
}

func (s *HTTPServer) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	var req struct {
		TrackingCode string `json:"tracking_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingCode == "" {
		s.renderError(w, r, http.StatusBadRequest, "tracking_code is required")
		return
	}

	if err := s.orders.MarkShipped(orderID, req.TrackingCode); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			s.renderError(w, r, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrOrderStatusConflict):
			s.renderError(w, r, http.StatusConflict, "order is not paid")
		default:
			s.logger.WithError(err).Error("failed to mark order shipped")
			s.renderError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// Письмо с трек-кодом — best effort, как и остальные уведомления.
	if s.notifier != nil {
		if order, err := s.orders.FindByID(orderID); err == nil && order.CustomerEmail != "" {
			subject, body := notify.CustomerOrderShipped(order)
			if err := s.notifier.Send(order.CustomerEmail, subject, body); err != nil {
				s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to send shipped notification")
			}
		}
	}

	render.JSON(w, r, map[string]string{"status": "shipped"})
}

func (s *HTTPServer) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	var req struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		PriceMinor  int64    `json:"price_minor"`
		Stock       int32    `json:"stock"`
		Category    string   `json:"category"`
		Images      []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.PriceMinor < 0 {
		s.renderError(w, r, http.StatusBadRequest, "name is required and price must be non-negative")
		return
	}

	err := s.products.Put(domain.Product{
		ID:          productID,
		Name:        req.Name,
		Description: req.Description,
		PriceMinor:  req.PriceMinor,
		Stock:       req.Stock,
		Category:    req.Category,
		Images:      req.Images,
	})
	if err != nil {
		s.logger.WithError(err).Error("failed to upsert product")
		s.renderError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *HTTPServer) renderCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrCustomerEmailRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrAmountNegative),
		errors.Is(err, domain.ErrAmountMismatch):
		s.renderError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		s.renderError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.WithError(err).Error("checkout failed")
		s.renderError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}

type orderItemView struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Qty            int32  `json:"qty"`
}

type orderView struct {
	ID            string          `json:"id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	PaymentStatus string          `json:"payment_status"`
	OrderStatus   string          `json:"order_status"`
	Items         []orderItemView `json:"items"`
	SubtotalMinor int64           `json:"subtotal_minor"`
	ShippingMinor int64           `json:"shipping_minor"`
	TotalMinor    int64           `json:"total_minor"`
	TrackingCode  string          `json:"tracking_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func orderResponse(order domain.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceMinor: item.UnitPriceMinor,
			Qty:            item.Qty,
		})
	}
	return orderView{
		ID:            order.ID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.OrderStatus),
		Items:         items,
		SubtotalMinor: order.SubtotalMinor,
		ShippingMinor: order.ShippingMinor,
		TotalMinor:    order.TotalMinor,
		TrackingCode:  order.TrackingCode,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
