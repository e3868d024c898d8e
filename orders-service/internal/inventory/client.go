package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fjod/go_fulfillment/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrStockRejected   = errors.New("stock change rejected")
	ErrUnavailable     = errors.New("inventory service unavailable")
)

type ProductInfo struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

// Gateway is the synchronous view of the product service used by the order workflow.
type Gateway interface {
	CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error)
	GetProductInfo(ctx context.Context, productID int64) (*ProductInfo, error)
	ReserveStock(ctx context.Context, productID int64, quantity int) error
	RestoreStock(ctx context.Context, productID int64, quantity int) error
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	sfg     singleflight.Group // collapses concurrent lookups of one product
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.Breaker) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: timeout,
		breaker: breaker,
	}
}

func (c *Client) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	q := url.Values{"quantity": {strconv.Itoa(quantity)}}
	var resp availabilityResponse
	if err := c.do(ctx, http.MethodGet, c.productURL(productID, "/availability", q), &resp); err != nil {
		return false, fmt.Errorf("check availability of product %d: %w", productID, err)
	}
	return resp.Available, nil
}

// GetProductInfo shares one lookup between concurrent callers of the same
// product. The shared call is not tied to any caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (c *Client) GetProductInfo(ctx context.Context, productID int64) (*ProductInfo, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.sfg.DoChan(strconv.FormatInt(productID, 10), func() (interface{}, error) {
		var info ProductInfo
		if err := c.do(shared, http.MethodGet, c.productURL(productID, "", nil), &info); err != nil {
			return nil, err
		}
		return &info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("get product %d: %w", productID, res.Err)
		}
		info := *res.Val.(*ProductInfo)
		return &info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("get product %d: %w: %w", productID, ErrUnavailable, ctx.Err())
	}
}

func (c *Client) ReserveStock(ctx context.Context, productID int64, quantity int) error {
	return c.changeStock(ctx, productID, quantity)
}

// RestoreStock hands stock back. The product service models this as a
// negative stock decrement.
func (c *Client) RestoreStock(ctx context.Context, productID int64, quantity int) error {
	return c.changeStock(ctx, productID, -quantity)
}

func (c *Client) changeStock(ctx context.Context, productID int64, delta int) error {
	q := url.Values{"quantity": {strconv.Itoa(delta)}}
	if err := c.do(ctx, http.MethodPut, c.productURL(productID, "/stock", q), nil); err != nil {
		return fmt.Errorf("decrement stock of product %d by %d: %w", productID, delta, err)
	}
	return nil
}

func (c *Client) productURL(productID int64, suffix string, q url.Values) string {
	u := fmt.Sprintf("%s/api/products/%d%s", c.baseURL, productID, suffix)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, target string, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.breaker.Execute(func() error {
		return c.roundTrip(callCtx, method, target, out)
	}, isClientError)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrProductNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrStockRejected, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

// isClientError keeps answers from a healthy service, and calls the caller
// abandoned, out of the breaker counts. Timeouts still count.
func isClientError(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrStockRejected) || errors.Is(err, context.Canceled)
}
