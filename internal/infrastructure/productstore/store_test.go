package productstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrolens/foodfacts/internal/domain"
)

const testPath = "/data/products.json"

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, fs afero.Fs, opts ...Option) *Store {
	t.Helper()
	return New(NewFileBackend(fs, testPath), zerolog.Nop(), opts...)
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs())

	err := store.Put(ctx, domain.Product{Code: "3017620422003", Name: "Nutella", Brand: "Ferrero"})
	require.NoError(t, err)

	got, err := store.Get(ctx, "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, "3017620422003", got.Code)
	assert.Equal(t, "Nutella", got.Name)
	assert.Equal(t, 1, got.Meta.UpdateCount)
	assert.Equal(t, got.Meta.FirstSeen, got.Meta.LastUpdated)
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t, afero.NewMemMapFs())

	got, err := store.Get(context.Background(), "missing")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStore_Put_RejectsEmptyCode(t *testing.T) {
	store := newTestStore(t, afero.NewMemMapFs())

	err := store.Put(context.Background(), domain.Product{Name: "No code"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestStore_Put_IdenticalInputIncrementsCount(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, afero.NewMemMapFs(), WithClock(clock.Now))

	p := domain.Product{
		Code:             "123",
		Name:             "Milk",
		NutrientsPer100g: map[string]float64{domain.NutrientFat: 3.5},
		Countries:        []string{"en:france"},
	}

	require.NoError(t, store.Put(ctx, p))
	first, err := store.Get(ctx, "123")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, store.Put(ctx, p))
	second, err := store.Get(ctx, "123")
	require.NoError(t, err)

	assert.Equal(t, first.Meta.UpdateCount+1, second.Meta.UpdateCount)
	assert.Equal(t, first.Product, second.Product)
	assert.Equal(t, first.Meta.FirstSeen, second.Meta.FirstSeen)
	assert.True(t, second.Meta.LastUpdated.After(first.Meta.LastUpdated))
}

func TestStore_Put_MergePreservesUnsetFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs())

	require.NoError(t, store.Put(ctx, domain.Product{
		Code:         "123",
		Name:         "Old Name",
		Brand:        "X",
		NovaGroup:    4,
		AllergenTags: []string{"en:milk"},
	}))
	require.NoError(t, store.Put(ctx, domain.Product{Code: "123", Name: "Y"}))

	got, err := store.Get(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "Y", got.Name)
	assert.Equal(t, "X", got.Brand)
	assert.Equal(t, 4, got.NovaGroup)
	assert.Equal(t, []string{"en:milk"}, got.AllergenTags)
	assert.Equal(t, 2, got.Meta.UpdateCount)
}

func TestStore_Get_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs())

	require.NoError(t, store.Put(ctx, domain.Product{Code: "1", Countries: []string{"en:spain"}}))

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	got.Countries[0] = "en:mutated"

	again, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"en:spain"}, again.Countries)
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, afero.NewMemMapFs(), WithClock(clock.Now))

	products := []domain.Product{
		{Code: "1", Name: "Almond Milk Drink", Countries: []string{"en:brazil"}},
		{Code: "2", Name: "Gouda", Categories: "Milk products", Countries: []string{"en:france"}},
		{Code: "3", Name: "Milk", Countries: []string{"en:brazil", "en:france"}},
		{Code: "4", Name: "Orange Juice", Countries: []string{"en:brazil"}},
		{Code: "5", Name: "Bread", Brand: "Milkbakers", Countries: []string{"BR"}},
	}
	for _, p := range products {
		require.NoError(t, store.Put(ctx, p))
		clock.Advance(time.Second)
	}

	t.Run("ranks by relevance", func(t *testing.T) {
		got, total, err := store.Search(ctx, "milk", "", 10)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, got, 4)
		assert.Equal(t, "3", got[0].Code)
		assert.Equal(t, "1", got[1].Code)
		// ties keep insertion order
		assert.Equal(t, "2", got[2].Code)
		assert.Equal(t, "5", got[3].Code)
	})

	t.Run("filters by region substring and tag", func(t *testing.T) {
		got, total, err := store.Search(ctx, "MILK", "br", 10)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		codes := []string{}
		for _, p := range got {
			codes = append(codes, p.Code)
		}
		assert.Equal(t, []string{"3", "1", "5"}, codes)
	})

	t.Run("truncates to limit but reports total", func(t *testing.T) {
		got, total, err := store.Search(ctx, "milk", "", 2)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, got, 2)
	})

	t.Run("no matches", func(t *testing.T) {
		got, total, err := store.Search(ctx, "chocolate", "", 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, got)
	})
}

func TestStore_PutMany(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs())

	result := store.PutMany(ctx, []domain.Product{
		{Code: "1", Name: "A"},
		{Name: "missing code"},
		{Code: "2", Name: "B"},
	})

	assert.Equal(t, domain.SyncResult{Saved: 2, Failed: 1}, result)

	_, err := store.Get(ctx, "2")
	assert.NoError(t, err)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	store := newTestStore(t, fs)
	require.NoError(t, store.Put(ctx, domain.Product{Code: "1", Name: "Milk", Brand: "Farm"}))
	require.NoError(t, store.Put(ctx, domain.Product{Code: "1", Name: "Whole Milk"}))

	exists, err := afero.Exists(fs, testPath)
	require.NoError(t, err)
	assert.True(t, exists)

	reopened := newTestStore(t, fs)
	got, err := reopened.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Whole Milk", got.Name)
	assert.Equal(t, "Farm", got.Brand)
	assert.Equal(t, 2, got.Meta.UpdateCount)
}

func TestStore_MalformedSnapshotLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte("{not json"), 0o644))

	store := newTestStore(t, fs)

	_, total, err := store.Search(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	// The store stays usable and overwrites the bad document
	require.NoError(t, store.Put(ctx, domain.Product{Code: "1", Name: "Fresh"}))
	reopened := newTestStore(t, fs)
	_, err = reopened.Get(ctx, "1")
	assert.NoError(t, err)
}

func TestStore_IncompatibleVersionLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	doc := `{"products":{"1":{"code":"1","name":"Old"}},"lastUpdated":"2020-01-01T00:00:00Z","version":"2.0.0"}`
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(doc), 0o644))

	store := newTestStore(t, fs)

	_, err := store.Get(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStore_LegacyDocumentWithoutVersion(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	doc := `{"products":{"1":{"code":"1","name":"Legacy","_meta":{"updateCount":3}}}}`
	require.NoError(t, afero.WriteFile(fs, testPath, []byte(doc), 0o644))

	store := newTestStore(t, fs)

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Legacy", got.Name)
	assert.Equal(t, 3, got.Meta.UpdateCount)
}

func TestStore_FlushFailureKeepsMemoryAhead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))

	err := store.Put(ctx, domain.Product{Code: "1", Name: "Unsaved"})
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Unsaved", got.Name)

	result := store.PutMany(ctx, []domain.Product{{Code: "2"}, {Code: "3"}})
	assert.Equal(t, domain.SyncResult{Saved: 0, Failed: 2}, result)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, afero.NewMemMapFs(), WithClock(clock.Now))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalProducts)
	assert.Zero(t, stats.AverageRecordSizeBytes)

	require.NoError(t, store.Put(ctx, domain.Product{Code: "1", Name: "A"}))
	clock.Advance(time.Hour)
	require.NoError(t, store.Put(ctx, domain.Product{Code: "2", Name: "B"}))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProducts)
	assert.Positive(t, stats.StorageSizeBytes)
	assert.Equal(t, stats.StorageSizeBytes/2, stats.AverageRecordSizeBytes)
	assert.Equal(t, clock.Now(), stats.LastUpdated)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	require.NoError(t, store.Put(ctx, domain.Product{Code: "1"}))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Get(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	reopened := newTestStore(t, fs)
	_, err = reopened.Get(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestStore_ConcurrentPutsAreSerialized(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch := []domain.Product{
				{Code: fmt.Sprintf("a-%d", i)},
				{Code: fmt.Sprintf("b-%d", i)},
			}
			store.PutMany(ctx, batch)
		}(i)
	}
	wg.Wait()

	reopened := newTestStore(t, fs)
	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, stats.TotalProducts)
}
