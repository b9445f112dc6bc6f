package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiterEntry tracks a rate limiter and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using token bucket algorithm
// with LRU eviction to prevent unbounded memory growth.
type RateLimiter struct {
	limiters        map[string]*list.Element // identifier -> list element
	lruList         *list.List               // LRU list of *rateLimiterEntry
	mu              sync.RWMutex
	rate            int
	burst           int
	maxEntries      int
	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}

	totalEvictions int64
}

// NewRateLimiter creates a new rate limiter with automatic cleanup and LRU
// eviction. maxEntries bounds the number of unique identifiers tracked
// simultaneously; when the limit is reached the least recently used entry is
// evicted. Set maxEntries to 0 for unlimited (not recommended in production).
func NewRateLimiter(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = 10000
		logger.Warn("Invalid maxEntries, using default", "maxEntries", maxEntries)
	}

	rl := &RateLimiter{
		limiters:        make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      maxEntries,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, exists := rl.limiters[identifier]; exists {
		rl.lruList.MoveToFront(elem)
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		rl.evictLRU()
	}

	entry := &rateLimiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: now,
	}

	elem := rl.lruList.PushFront(entry)
	rl.limiters[identifier] = elem

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry.
// Must be called with mutex locked.
func (rl *RateLimiter) evictLRU() {
	elem := rl.lruList.Back()
	if elem == nil {
		return
	}

	entry := elem.Value.(*rateLimiterEntry)
	delete(rl.limiters, entry.identifier)
	rl.lruList.Remove(elem)
	rl.totalEvictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"identifier", entry.identifier,
		"total_evictions", rl.totalEvictions,
		"current_entries", len(rl.limiters))
}

// cleanupLoop periodically removes inactive rate limiters to prevent memory leaks
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(30 * time.Minute)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup removes limiters that haven't been accessed for the given duration.
func (rl *RateLimiter) Cleanup(maxIdleTime time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*rateLimiterEntry)

		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(rl.limiters, entry.identifier)
			rl.lruList.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Size returns the number of identifiers currently tracked.
func (rl *RateLimiter) Size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// Stop gracefully stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}
