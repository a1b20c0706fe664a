package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/backend"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type CartStore interface {
	Items() []models.CartItem
	Subtotal() decimal.Decimal
	Count() int
	Add(product models.Product)
	UpdateQuantity(itemID string, quantity int)
	Remove(itemID string)
	Clear()
}

type Catalog interface {
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	CreateMarket(ctx context.Context, req backend.CreateMarketRequest) (models.Market, error)
	AnalyticsOverview(ctx context.Context) (models.AnalyticsOverview, error)
}

type OrderController interface {
	Replace(orders []models.Order)
	Options(orderID string) ([]models.OrderStatus, error)
	Transition(ctx context.Context, orderID string, target models.OrderStatus) (models.Order, error)
}

type Checkout interface {
	Submit(ctx context.Context, req checkout.Request) (models.Order, error)
}

type Handler struct {
	Cart     CartStore
	Catalog  Catalog
	Orders   OrderController
	Checkout Checkout
	Log      *zap.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Post("/items", h.addItem)
		r.Patch("/items/{id}", h.updateItem)
		r.Delete("/items/{id}", h.removeItem)
	})
	r.Post("/checkout", h.submitCheckout)

	r.Get("/markets", h.listMarkets)
	r.Post("/markets", h.createMarket)
	r.Get("/products", h.listProducts)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}/transitions", h.orderTransitions)
	r.Patch("/orders/{id}/status", h.updateOrderStatus)

	r.Get("/analytics/overview", h.analyticsOverview)
}

type cartView struct {
	Items    []models.CartItem `json:"items"`
	Subtotal string            `json:"subtotal"`
	Count    int               `json:"count"`
}

func (h *Handler) cartView() cartView {
	return cartView{
		Items:    h.Cart.Items(),
		Subtotal: h.Cart.Subtotal().StringFixed(2),
		Count:    h.Cart.Count(),
	}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var product models.Product
	if !decodeBody(w, r, &product) {
		return
	}
	if strings.TrimSpace(product.ID) == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}

	h.Cart.Add(product)
	writeJSON(w, http.StatusOK, h.cartView())
}

type updateQuantityReq struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	h.Cart.UpdateQuantity(chi.URLParam(r, "id"), *req.Quantity)
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	h.Cart.Remove(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.Cart.Clear()
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.Checkout.Submit(r.Context(), req)
	if errors.Is(err, checkout.ErrEmptyCart) {
		writeError(w, http.StatusBadRequest, "Your cart is empty.")
		return
	}
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.Catalog.ListMarkets(r.Context())
	if err != nil {
		h.Log.Warn("list markets", zap.Error(err))
		markets = []models.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		h.Log.Warn("list products", zap.Error(err))
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) createMarket(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Region = strings.TrimSpace(req.Region)
	if req.Name == "" || req.Region == "" {
		writeError(w, http.StatusBadRequest, "name and region are required")
		return
	}

	market, err := h.Catalog.CreateMarket(r.Context(), req)
	if err != nil {
		h.Log.Warn("create market", zap.Error(err))
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// listOrders refreshes the controller from the backend. A failed refresh
// keeps the previous views and shows an empty list.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.ListOrders(r.Context())
	if err != nil {
		h.Log.Warn("list orders", zap.Error(err))
		writeJSON(w, http.StatusOK, []models.Order{})
		return
	}

	h.Orders.Replace(list)
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) orderTransitions(w http.ResponseWriter, r *http.Request) {
	options, err := h.Orders.Options(chi.URLParam(r, "id"))
	if errors.Is(err, orders.ErrOrderNotTracked) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if options == nil {
		options = []models.OrderStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": options})
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if !decodeBody(w, r, &req) {
		return
	}

	target, ok := models.ParseOrderStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown order status")
		return
	}

	order, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "id"), target)
	var transitionErr *orders.TransitionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, order)
	case errors.Is(err, orders.ErrOrderNotTracked):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	default:
		writeBackendError(w, err)
	}
}

func (h *Handler) analyticsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Catalog.AnalyticsOverview(r.Context())
	if err != nil {
		h.Log.Warn("analytics overview", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// writeBackendError passes backend 4xx answers through with their reason and
// reports everything else as a bad gateway.
func writeBackendError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.IsClientError() {
		writeError(w, apiErr.StatusCode, backend.UserMessage(err))
		return
	}
	writeError(w, http.StatusBadGateway, backend.UserMessage(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
