package openfoodfacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrolens/foodfacts/internal/domain"
)

func newTestClient(serverURL string) *Client {
	client := NewClient(Config{
		BaseURL:   serverURL,
		UserAgent: "foodfacts-test/1.0",
		Timeout:   5 * time.Second,
	}, zerolog.Nop())
	client.backoff = func(int) time.Duration { return time.Millisecond }
	return client
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://world.openfoodfacts.org", RequestsPerMinute: 60}, zerolog.Nop())

	assert.Equal(t, "https://world.openfoodfacts.org", client.baseURL)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.NotNil(t, client.rateLimiter)
	assert.InDelta(t, 1.0, float64(client.rateLimiter.Limit()), 0.0001)
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1000 * time.Millisecond},
		{3, 2000 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestFetchByCode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/product/7894900011517.json", r.URL.Path)
		assert.Equal(t, "foodfacts-test/1.0", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"code": "7894900011517",
			"status": 1,
			"product": {
				"code": "7894900011517",
				"product_name": "Coca-Cola Original",
				"brands": "Coca-Cola",
				"nutriments": {"energy-kcal_100g": 42, "sugars_100g": "10.6"},
				"nutrition_grades": "E",
				"nova_group": "4",
				"countries_tags": ["en:brazil"]
			}
		}`))
	}))
	defer server.Close()

	product, err := newTestClient(server.URL).FetchByCode(context.Background(), "7894900011517")
	require.NoError(t, err)

	assert.Equal(t, "7894900011517", product.Code)
	assert.Equal(t, "Coca-Cola Original", product.Name)
	assert.Equal(t, "Coca-Cola", product.Brand)
	assert.Equal(t, "e", product.NutritionGrade)
	assert.Equal(t, 4, product.NovaGroup)
	assert.Equal(t, 42.0, product.NutrientsPer100g[domain.NutrientEnergy])
	assert.Equal(t, 10.6, product.NutrientsPer100g[domain.NutrientSugars])
	assert.Equal(t, []string{"en:brazil"}, product.Countries)
}

func TestFetchByCode_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "status 0",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"code":"0000","status":0,"status_verbose":"product not found"}`))
			},
		},
		{
			name: "http 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newTestClient(server.URL).FetchByCode(context.Background(), "0000")
			assert.ErrorIs(t, err, domain.ErrProductNotFound)
		})
	}
}

func TestSearch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi/search.pl", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "coca cola", q.Get("search_terms"))
		assert.Equal(t, "1", q.Get("json"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "50", q.Get("page_size"))
		assert.Equal(t, "br", q.Get("cc"))

		w.Write([]byte(`{
			"count": "1234",
			"page": 2,
			"page_size": 50,
			"products": [
				{"code": "1111", "product_name": "Coca-Cola"},
				{"product_name": "No code, dropped"},
				{"code": "2222", "product_name": "Coca-Cola Zero"}
			]
		}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Search(context.Background(), "coca cola", "br", 2, 50)
	require.NoError(t, err)

	assert.Equal(t, 1234, result.TotalCount)
	assert.Equal(t, 2, result.Page)
	assert.Equal(t, 50, result.PageSize)
	require.Len(t, result.Products, 2)
	assert.Equal(t, "1111", result.Products[0].Code)
	assert.Equal(t, "2222", result.Products[1].Code)
}

func TestSearch_NoRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.URL.Query()["cc"]
		assert.False(t, ok)
		w.Write([]byte(`{"count":0,"products":[]}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Search(context.Background(), "milk", "", 1, 20)
	require.NoError(t, err)
	assert.Empty(t, result.Products)
}

func TestSearch_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"count":1,"products":[{"code":"1111"}]}`))
		}
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Search(context.Background(), "milk", "", 1, 20)
	require.NoError(t, err)
	assert.Len(t, result.Products, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSearch_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), "milk", "", 1, 20)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&calls))
}

func TestSearch_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), "milk", "", 1, 20)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearch_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"products": [`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Search(context.Background(), "milk", "", 1, 20)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSearch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL).Search(ctx, "milk", "", 1, 20)
	assert.Error(t, err)
}

func TestReadLimitedBody(t *testing.T) {
	body, err := readLimitedBody(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = readLimitedBody(strings.NewReader(strings.Repeat("x", maxBodyBytes+1)))
	assert.Error(t, err)
}
