package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macrolens/foodfacts/internal/domain"
)

// SyncWorkerConfig holds configuration for background persistence
type SyncWorkerConfig struct {
	MaxRetries int           // total attempts per job
	BaseDelay  time.Duration // delay before the first retry, doubled each time
	MaxDelay   time.Duration
}

// SyncJob is the handle of one background write
type SyncJob struct {
	done   chan struct{}
	result domain.SyncResult
	err    error
}

// Done is closed when the job has finished, successfully or not
func (j *SyncJob) Done() <-chan struct{} {
	return j.done
}

// Result is valid once Done is closed
func (j *SyncJob) Result() domain.SyncResult {
	<-j.done
	return j.result
}

// Err is non-nil when items were still failing after the last attempt
func (j *SyncJob) Err() error {
	<-j.done
	return j.err
}

// SyncWorker persists products in the background with bounded retries.
// Failures are logged and reported on the job, never to the search caller.
type SyncWorker struct {
	store  domain.ProductRepository
	config SyncWorkerConfig
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncWorker creates a new background sync worker
func NewSyncWorker(store domain.ProductRepository, config SyncWorkerConfig, logger zerolog.Logger) *SyncWorker {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncWorker{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "sync_worker").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules products for persistence and returns immediately
func (w *SyncWorker) Submit(products []domain.Product) *SyncJob {
	job := &SyncJob{done: make(chan struct{})}

	batch := make([]domain.Product, len(products))
	for i, p := range products {
		batch[i] = p.Clone()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(job.done)
		job.result, job.err = w.run(batch)
	}()

	return job
}

// Wait blocks until every submitted job has finished
func (w *SyncWorker) Wait() {
	w.wg.Wait()
}

// Shutdown waits for running jobs until ctx expires, then abandons pending retries
func (w *SyncWorker) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-finished
		return ctx.Err()
	}
}

func (w *SyncWorker) run(products []domain.Product) (domain.SyncResult, error) {
	var result domain.SyncResult

	// Items without a code can never succeed, so they are not retried
	pending := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if strings.TrimSpace(p.Code) == "" {
			result.Failed++
			continue
		}
		pending = append(pending, p)
	}
	if len(pending) == 0 {
		return result, nil
	}

	delay := w.config.BaseDelay
	var attemptResult domain.SyncResult
	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		attemptResult = w.store.PutMany(w.ctx, pending)
		if attemptResult.Failed == 0 {
			result.Saved += attemptResult.Saved
			w.logger.Debug().Int("saved", result.Saved).Int("attempt", attempt).Msg("background sync completed")
			return result, nil
		}

		w.logger.Warn().
			Int("failed", attemptResult.Failed).
			Int("attempt", attempt).
			Int("max_attempts", w.config.MaxRetries).
			Msg("background sync attempt failed")

		if attempt == w.config.MaxRetries {
			break
		}
		select {
		case <-w.ctx.Done():
			result.Saved += attemptResult.Saved
			result.Failed += attemptResult.Failed
			return result, w.ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.config.MaxDelay {
			delay = w.config.MaxDelay
		}
	}

	result.Saved += attemptResult.Saved
	result.Failed += attemptResult.Failed
	w.logger.Error().Int("failed", attemptResult.Failed).Msg("background sync gave up")
	return result, domain.ErrPersistenceFailure
}
