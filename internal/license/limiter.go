package license

import (
	"sync"
	"time"
)

// AttemptLimiter blocks an identifier (machine fingerprint, client IP) after
// too many failed activation attempts inside a rolling window.
type AttemptLimiter struct {
	attemptCounts map[string]int
	lastAttempts  map[string]time.Time
	blocked       map[string]time.Time

	mutex           sync.RWMutex
	maxAttempts     int
	blockDuration   time.Duration
	windowDuration  time.Duration
	cleanupInterval time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// NewAttemptLimiter creates a limiter that blocks after maxAttempts failures
// within windowDuration, for blockDuration.
func NewAttemptLimiter(maxAttempts int, blockDuration, windowDuration time.Duration) *AttemptLimiter {
	l := &AttemptLimiter{
		attemptCounts:   make(map[string]int),
		lastAttempts:    make(map[string]time.Time),
		blocked:         make(map[string]time.Time),
		maxAttempts:     maxAttempts,
		blockDuration:   blockDuration,
		windowDuration:  windowDuration,
		cleanupInterval: 5 * time.Minute,
		stopChan:        make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// IsBlocked checks if an identifier is currently blocked
func (l *AttemptLimiter) IsBlocked(identifier string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if blockTime, exists := l.blocked[identifier]; exists {
		if time.Since(blockTime) < l.blockDuration {
			return true
		}
		delete(l.blocked, identifier)
	}
	return false
}

// RecordAttempt records an activation attempt. It returns false when the
// failure pushed the identifier over the limit and it is now blocked.
func (l *AttemptLimiter) RecordAttempt(identifier string, success bool) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()

	if success {
		delete(l.attemptCounts, identifier)
		delete(l.lastAttempts, identifier)
		return true
	}

	if lastAttempt, exists := l.lastAttempts[identifier]; exists && now.Sub(lastAttempt) <= l.windowDuration {
		l.attemptCounts[identifier]++
	} else {
		l.attemptCounts[identifier] = 1
	}

	l.lastAttempts[identifier] = now

	if l.attemptCounts[identifier] >= l.maxAttempts {
		l.blocked[identifier] = now
		return false
	}

	return true
}

// Stats returns limiter statistics for the status surface.
func (l *AttemptLimiter) Stats() map[string]any {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return map[string]any{
		"active_attempts": len(l.attemptCounts),
		"blocked":         len(l.blocked),
		"max_attempts":    l.maxAttempts,
		"block_duration":  l.blockDuration.String(),
		"window_duration": l.windowDuration.String(),
	}
}

// Stop gracefully stops the cleanup goroutine.
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *AttemptLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mutex.Lock()
			now := time.Now()

			for identifier, lastAttempt := range l.lastAttempts {
				if now.Sub(lastAttempt) > l.windowDuration {
					delete(l.attemptCounts, identifier)
					delete(l.lastAttempts, identifier)
				}
			}

			for identifier, blockTime := range l.blocked {
				if now.Sub(blockTime) > l.blockDuration {
					delete(l.blocked, identifier)
				}
			}

			l.mutex.Unlock()
		case <-l.stopChan:
			return
		}
	}
}
