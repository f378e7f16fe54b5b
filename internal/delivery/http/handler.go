package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/macrolens/foodfacts/internal/domain"
)

// ProductService is the product lookup, search and ingest surface
type ProductService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
	LookupByCode(ctx context.Context, code string, cacheOnly bool) (*domain.LookupResult, error)
	SyncProducts(ctx context.Context, products []domain.Product) (domain.SyncResult, error)
	ClearStore(ctx context.Context) error
}

// StatsService reports product store diagnostics
type StatsService interface {
	GetStats(ctx context.Context) (*domain.StorageStats, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	products    ProductService
	stats       StatsService
	searchCache domain.SearchResultCache
	logger      zerolog.Logger
}

// NewHandler creates a new HTTP handler. searchCache may be nil when the
// search result cache is disabled.
func NewHandler(products ProductService, stats StatsService, searchCache domain.SearchResultCache, logger zerolog.Logger) *Handler {
	return &Handler{
		products:    products,
		stats:       stats,
		searchCache: searchCache,
		logger:      logger,
	}
}

// SyncRequest is the body of POST /api/v1/products/sync
type SyncRequest struct {
	Products []domain.Product `json:"products"`
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "foodfacts",
		"version": "1.0.0",
	})
}

// GetProduct handles GET /api/v1/products/:code
func (h *Handler) GetProduct(c *gin.Context) {
	cacheOnly, err := parseBoolQuery(c, "cacheOnly")
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.products.LookupByCode(c.Request.Context(), c.Param("code"), cacheOnly)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchProducts handles GET /api/v1/search
func (h *Handler) SearchProducts(c *gin.Context) {
	req, err := parseSearchRequest(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.products.Search(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SyncProducts handles POST /api/v1/products/sync
func (h *Handler) SyncProducts(c *gin.Context) {
	var body SyncRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := h.products.SyncProducts(c.Request.Context(), body.Products)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ClearProducts handles DELETE /api/v1/products
func (h *Handler) ClearProducts(c *gin.Context) {
	if err := h.products.ClearStore(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStats handles GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSearchCacheStats handles GET /api/v1/search-cache/stats
func (h *Handler) GetSearchCacheStats(c *gin.Context) {
	if h.searchCache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": true,
		"stats":   h.searchCache.Stats(c.Request.Context()),
	})
}

// ClearSearchCache handles DELETE /api/v1/search-cache
func (h *Handler) ClearSearchCache(c *gin.Context) {
	if h.searchCache != nil {
		h.searchCache.Clear(c.Request.Context())
	}
	c.Status(http.StatusNoContent)
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func parseSearchRequest(c *gin.Context) (domain.SearchRequest, error) {
	req := domain.SearchRequest{
		Query:  c.Query("q"),
		Region: c.Query("region"),
	}

	var err error
	if req.Page, err = parseIntQuery(c, "page"); err != nil {
		return req, err
	}
	if req.PageSize, err = parseIntQuery(c, "pageSize"); err != nil {
		return req, err
	}
	if req.CacheOnly, err = parseBoolQuery(c, "cacheOnly"); err != nil {
		return req, err
	}

	req.Filters.NutritionGrades = parseListQuery(c, "nutritionGrades")
	req.Filters.ExcludeAllergens = parseListQuery(c, "excludeAllergens")
	req.Filters.ExcludeAdditives = parseListQuery(c, "excludeAdditives")
	for _, v := range parseListQuery(c, "novaGroups") {
		group, err := strconv.Atoi(v)
		if err != nil || group < 1 || group > 4 {
			return req, invalidParam("novaGroups", v)
		}
		req.Filters.NovaGroups = append(req.Filters.NovaGroups, group)
	}

	return req, nil
}

func parseIntQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, invalidParam(name, raw)
	}
	return v, nil
}

func parseBoolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidParam(name, raw)
	}
	return v, nil
}

// parseListQuery accepts both ?k=a,b and ?k=a&k=b
func parseListQuery(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func invalidParam(name, value string) error {
	return &paramError{name: name, value: value}
}

type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid value for " + e.name + ": " + strconv.Quote(e.value)
}

func (e *paramError) Unwrap() error {
	return domain.ErrInvalidRequest
}
