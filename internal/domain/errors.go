package domain

import "errors"

var (
	// ErrProductNotFound is returned when a product cannot be found in the store or upstream
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrUpstreamUnavailable is returned when the upstream product API request fails
	ErrUpstreamUnavailable = errors.New("upstream product API unavailable")

	// ErrRateLimited is returned when rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPersistenceFailure is returned when the durable store could not be read or written
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrCapacityExceeded is returned when a cache entry does not fit its budget
	ErrCapacityExceeded = errors.New("cache capacity exceeded")

	// ErrQuotaExceeded is returned when key-value storage is full
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
