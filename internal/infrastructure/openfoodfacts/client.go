package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/macrolens/foodfacts/internal/domain"
)

const (
	maxRetries   = 3
	maxBodyBytes = 10 << 20 // 10MB
)

// Config configures the Open Food Facts client
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client handles communication with the Open Food Facts API
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	rateLimiter *rate.Limiter
	backoff     func(attempt int) time.Duration
	logger      zerolog.Logger
}

var _ domain.ProductAPI = (*Client)(nil)

// NewClient creates a new Open Food Facts API client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		rateLimiter: rate.NewLimiter(limit, 10), // burst of 10 requests
		backoff:     exponentialBackoff,
		logger:      logger.With().Str("component", "openfoodfacts").Logger(),
	}
}

// exponentialBackoff returns 500ms, 1s, 2s, ...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500*(1<<(attempt-1))) * time.Millisecond
}

// productResponse is the envelope of /api/v2/product/{code}.json
type productResponse struct {
	Code    string      `json:"code"`
	Status  int         `json:"status"`
	Product *offProduct `json:"product"`
}

// searchResponse is the envelope of /cgi/search.pl
type searchResponse struct {
	Count    flexInt      `json:"count"`
	Page     flexInt      `json:"page"`
	PageSize flexInt      `json:"page_size"`
	Products []offProduct `json:"products"`
}

// FetchByCode retrieves a single product by barcode
func (c *Client) FetchByCode(ctx context.Context, code string) (*domain.Product, error) {
	reqURL := fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, url.PathEscape(code))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode product response: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.Status != 1 || resp.Product == nil {
		return nil, domain.ErrProductNotFound
	}

	product := mapProduct(*resp.Product)
	if product.Code == "" {
		product.Code = code
	}
	return &product, nil
}

// Search runs a full-text product search, optionally restricted to a country code
func (c *Client) Search(ctx context.Context, query, region string, page, pageSize int) (*domain.UpstreamSearchResult, error) {
	params := url.Values{}
	params.Set("search_terms", query)
	params.Set("search_simple", "1")
	params.Set("action", "process")
	params.Set("json", "1")
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	if region != "" {
		params.Set("cc", region)
	}
	reqURL := fmt.Sprintf("%s/cgi/search.pl?%s", c.baseURL, params.Encode())

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode search response: %v", domain.ErrUpstreamUnavailable, err)
	}

	products := make([]domain.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		product := mapProduct(p)
		if product.Code == "" {
			continue
		}
		products = append(products, product)
	}

	c.logger.Debug().
		Str("query", query).
		Str("region", region).
		Int("results", len(products)).
		Int("total", int(resp.Count)).
		Msg("upstream search completed")

	return &domain.UpstreamSearchResult{
		Products:   products,
		TotalCount: int(resp.Count),
		Page:       int(resp.Page),
		PageSize:   int(resp.PageSize),
	}, nil
}

// get executes a GET request, retrying transient failures (network errors, 429, 5xx)
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}

		body, status, err := c.doRequest(ctx, reqURL)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			return body, nil
		case status == http.StatusNotFound:
			return nil, domain.ErrProductNotFound
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, status)
		default:
			return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, status)
		}

		c.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("url", reqURL).Msg("upstream request failed")
		if ctx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(c.backoff(attempt)):
			}
		}
	}

	return nil, lastErr
}

// doRequest executes an HTTP GET request with proper headers and a bounded body read
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: failed to read body: %v", domain.ErrUpstreamUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

func readLimitedBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}
