// Package backend is the REST client for the storefront API. The backend is
// authoritative for products, markets and orders.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxResponseBytes = 4 << 20

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	reads   singleflight.Group
	log     *zap.Logger
}

func New(cfg config.BackendConfig, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: logger,
	}

	maxFailures := uint32(cfg.BreakerMaxFailures)
	if maxFailures == 0 {
		maxFailures = 5
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "storefront-backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.IsClientError()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

func (c *Client) ListMarkets(ctx context.Context) ([]models.Market, error) {
	body, err := c.read(ctx, "/markets")
	if err != nil {
		return nil, err
	}
	return decodeList[models.Market](body, "markets")
}

func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	body, err := c.read(ctx, "/products")
	if err != nil {
		return nil, err
	}
	return decodeList[models.Product](body, "products")
}

func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	body, err := c.read(ctx, "/orders")
	if err != nil {
		return nil, err
	}
	return decodeList[models.Order](body, "orders")
}

func (c *Client) AnalyticsOverview(ctx context.Context) (models.AnalyticsOverview, error) {
	var overview models.AnalyticsOverview

	body, err := c.read(ctx, "/analytics/overview")
	if err != nil {
		return overview, err
	}
	if err := decodeEntity(body, "overview", &overview); err != nil {
		return overview, err
	}
	return overview, nil
}

type CreateMarketRequest struct {
	Name        string `json:"name"`
	Region      string `json:"region"`
	Description string `json:"description"`
}

func (c *Client) CreateMarket(ctx context.Context, req CreateMarketRequest) (models.Market, error) {
	var market models.Market

	body, err := c.do(ctx, http.MethodPost, "/markets", req)
	if err != nil {
		return market, err
	}
	if err := decodeEntity(body, "market", &market); err != nil {
		return market, err
	}
	return market, nil
}

// UpdateOrderStatus returns nil when the backend acknowledged the change
// without sending the order back.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	path := "/orders/" + url.PathEscape(orderID) + "/status"

	body, err := c.do(ctx, http.MethodPatch, path, map[string]string{"status": status.String()})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

type OrderLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items           []OrderLine     `json:"items"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	DeliveryAddress string          `json:"deliveryAddress,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (models.Order, error) {
	body, err := c.do(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		return models.Order{}, err
	}

	order, err := decodeOrder(body)
	if err != nil {
		return models.Order{}, err
	}
	if order == nil {
		return models.Order{}, errors.New("create order: backend returned no order")
	}
	return *order, nil
}

// read collapses concurrent GETs of the same path into one request.
// read collapses concurrent GETs of one path into a single request. The shared
// request runs detached from any one caller's cancellation; each caller still
// stops waiting when its own ctx is done.
func (c *Client) read(ctx context.Context, path string) ([]byte, error) {
	ch := c.reads.DoChan(path, func() (interface{}, error) {
		return c.do(context.WithoutCancel(ctx), http.MethodGet, path, nil)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug("shared backend read", zap.String("path", path))
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	return c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.log.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}
