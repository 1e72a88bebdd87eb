package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptLimiterBlocksAfterMaxFailures(t *testing.T) {
	l := NewAttemptLimiter(3, time.Minute, time.Minute)
	defer l.Stop()

	const id = "fingerprint-a"

	assert.True(t, l.RecordAttempt(id, false))
	assert.True(t, l.RecordAttempt(id, false))
	assert.False(t, l.IsBlocked(id))

	// Third failure crosses the limit.
	assert.False(t, l.RecordAttempt(id, false))
	assert.True(t, l.IsBlocked(id))
}

func TestAttemptLimiterSuccessResetsCount(t *testing.T) {
	l := NewAttemptLimiter(3, time.Minute, time.Minute)
	defer l.Stop()

	const id = "fingerprint-b"

	l.RecordAttempt(id, false)
	l.RecordAttempt(id, false)
	l.RecordAttempt(id, true)

	// Count restarts; two more failures stay under the limit.
	assert.True(t, l.RecordAttempt(id, false))
	assert.True(t, l.RecordAttempt(id, false))
	assert.False(t, l.IsBlocked(id))
}

func TestAttemptLimiterBlockExpires(t *testing.T) {
	l := NewAttemptLimiter(1, 10*time.Millisecond, time.Minute)
	defer l.Stop()

	const id = "fingerprint-c"

	l.RecordAttempt(id, false)
	assert.True(t, l.IsBlocked(id))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, l.IsBlocked(id))
}

func TestAttemptLimiterIdentifiersAreIndependent(t *testing.T) {
	l := NewAttemptLimiter(1, time.Minute, time.Minute)
	defer l.Stop()

	l.RecordAttempt("fingerprint-d", false)
	assert.True(t, l.IsBlocked("fingerprint-d"))
	assert.False(t, l.IsBlocked("fingerprint-e"))
}

func TestAttemptLimiterStats(t *testing.T) {
	l := NewAttemptLimiter(2, time.Minute, time.Minute)
	defer l.Stop()

	l.RecordAttempt("x", false)
	l.RecordAttempt("y", false)
	l.RecordAttempt("y", false)

	stats := l.Stats()
	assert.Equal(t, 2, stats["active_attempts"])
	assert.Equal(t, 1, stats["blocked"])
	assert.Equal(t, 2, stats["max_attempts"])
}
