package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/macrolens/foodfacts/internal/domain"
)

// MockProductRepository is an in-memory implementation of domain.ProductRepository
type MockProductRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
	order    []string

	searchError error
	putError    error
	stats       *domain.StoreStats
	statsError  error

	// putManyFailures makes the next N PutMany calls fail every item
	putManyFailures int
	putManyCalls    int
	putCalls        int
}

func NewMockProductRepository(products ...domain.Product) *MockProductRepository {
	m := &MockProductRepository{products: make(map[string]domain.Product)}
	for _, p := range products {
		m.store(p)
	}
	return m
}

func (m *MockProductRepository) store(p domain.Product) {
	if _, ok := m.products[p.Code]; !ok {
		m.order = append(m.order, p.Code)
	}
	m.products[p.Code] = p
}

func (m *MockProductRepository) Get(ctx context.Context, code string) (*domain.StoredProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[code]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &domain.StoredProduct{Product: p}, nil
}

func (m *MockProductRepository) Search(ctx context.Context, query, region string, limit int) ([]domain.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchError != nil {
		return nil, 0, m.searchError
	}

	q := strings.ToLower(query)
	var matches []domain.Product
	for _, code := range m.order {
		p := m.products[code]
		if strings.Contains(strings.ToLower(p.Name), q) {
			matches = append(matches, p)
		}
	}
	total := len(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, total, nil
}

func (m *MockProductRepository) Put(ctx context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putError != nil {
		return m.putError
	}
	m.store(product)
	return nil
}

func (m *MockProductRepository) PutMany(ctx context.Context, products []domain.Product) domain.SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putManyCalls++

	var result domain.SyncResult
	if m.putManyFailures > 0 {
		m.putManyFailures--
		result.Failed = len(products)
		return result
	}
	for _, p := range products {
		if p.Code == "" {
			result.Failed++
			continue
		}
		m.store(p)
		result.Saved++
	}
	return result
}

func (m *MockProductRepository) Stats(ctx context.Context) (*domain.StoreStats, error) {
	if m.statsError != nil {
		return nil, m.statsError
	}
	return m.stats, nil
}

func (m *MockProductRepository) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = make(map[string]domain.Product)
	m.order = nil
	return nil
}

func (m *MockProductRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

func (m *MockProductRepository) PutManyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putManyCalls
}

// MockProductAPI is a call-counting implementation of domain.ProductAPI
type MockProductAPI struct {
	searchResult *domain.UpstreamSearchResult
	searchError  error
	product      *domain.Product
	fetchError   error
	delay        time.Duration

	searchCalls int32
	fetchCalls  int32
	lastPage    int32
	lastSize    int32
}

func (m *MockProductAPI) FetchByCode(ctx context.Context, code string) (*domain.Product, error) {
	atomic.AddInt32(&m.fetchCalls, 1)
	if m.fetchError != nil {
		return nil, m.fetchError
	}
	if m.product == nil {
		return nil, domain.ErrProductNotFound
	}
	p := m.product.Clone()
	return &p, nil
}

func (m *MockProductAPI) Search(ctx context.Context, query, region string, page, pageSize int) (*domain.UpstreamSearchResult, error) {
	atomic.AddInt32(&m.searchCalls, 1)
	atomic.StoreInt32(&m.lastPage, int32(page))
	atomic.StoreInt32(&m.lastSize, int32(pageSize))
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.searchError != nil {
		return nil, m.searchError
	}
	if m.searchResult == nil {
		return &domain.UpstreamSearchResult{}, nil
	}
	result := *m.searchResult
	result.Products = make([]domain.Product, len(m.searchResult.Products))
	for i, p := range m.searchResult.Products {
		result.Products[i] = p.Clone()
	}
	return &result, nil
}

func (m *MockProductAPI) SearchCalls() int {
	return int(atomic.LoadInt32(&m.searchCalls))
}

func (m *MockProductAPI) FetchCalls() int {
	return int(atomic.LoadInt32(&m.fetchCalls))
}
