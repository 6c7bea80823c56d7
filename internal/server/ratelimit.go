package server

import (
	"sync"
	"time"
)

// rateLimiter applies per-client token bucket rate limiting
type rateLimiter struct {
	requestsPerMinute int
	buckets           map[string]*tokenBucket
	mu                sync.RWMutex
	stop              chan struct{}
	stopOnce          sync.Once
}

// tokenBucket represents a token bucket for one client
type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// newRateLimiter creates a rate limiter allowing requestsPerMinute per client
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		requestsPerMinute: requestsPerMinute,
		buckets:           make(map[string]*tokenBucket),
		stop:              make(chan struct{}),
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *rateLimiter) Allow(clientIP string) bool {
	bucket := r.getBucket(clientIP)
	return bucket.consume(1)
}

// getBucket gets or creates a token bucket for a client IP
func (r *rateLimiter) getBucket(clientIP string) *tokenBucket {
	r.mu.RLock()
	bucket, exists := r.buckets[clientIP]
	r.mu.RUnlock()

	if exists {
		return bucket
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists := r.buckets[clientIP]; exists {
		return bucket
	}

	bucket = &tokenBucket{
		tokens:     float64(r.requestsPerMinute),
		capacity:   float64(r.requestsPerMinute),
		refillRate: float64(r.requestsPerMinute) / 60.0, // per second
		lastRefill: time.Now(),
	}

	r.buckets[clientIP] = bucket
	return bucket
}

// consume attempts to consume tokens from the bucket
func (b *tokenBucket) consume(tokens float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()

	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= tokens {
		b.tokens -= tokens
		return true
	}

	return false
}

// cleanupOldBuckets drops buckets idle for more than an hour
func (r *rateLimiter) cleanupOldBuckets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)

	for ip, bucket := range r.buckets {
		bucket.mu.Lock()
		if bucket.lastRefill.Before(cutoff) {
			delete(r.buckets, ip)
		}
		bucket.mu.Unlock()
	}
}

// startCleanup runs periodic bucket cleanup until stopCleanup is called
func (r *rateLimiter) startCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.cleanupOldBuckets()
			}
		}
	}()
}

// stopCleanup stops the cleanup routine
func (r *rateLimiter) stopCleanup() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}
