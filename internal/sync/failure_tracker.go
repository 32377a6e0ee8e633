package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/journal-sync/internal/day"
)

// Drain failure accounting defaults.
const (
	defaultFailureThreshold = 3
	failureCooldown         = 30 * time.Minute // forget failures older than this
)

// failureRecord tracks drain failures for a single document.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker counts consecutive drain failures per document. When a
// document reaches the threshold within the cooldown, the failure is
// escalated to the caller once; the record stays queued and keeps being
// retried. Success clears the record.
type failureTracker struct {
	mu        sync.Mutex
	records   map[day.Key]*failureRecord
	threshold int
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing
}

func newFailureTracker(threshold int, logger *slog.Logger) *failureTracker {
	if threshold < 1 {
		threshold = defaultFailureThreshold
	}

	return &failureTracker{
		records:   make(map[day.Key]*failureRecord),
		threshold: threshold,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// recordFailure increments the failure counter for k and reports whether
// this failure is the one that reaches the threshold.
func (ft *failureTracker) recordFailure(k day.Key, errMsg string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[k]
	if !ok {
		rec = &failureRecord{}
		ft.records[k] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == ft.threshold {
		ft.logger.Error("pending write keeps failing",
			slog.String("key", k.String()),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
		)

		return true
	}

	return false
}

// failures returns the current consecutive failure count for k.
func (ft *failureTracker) failures(k day.Key) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if rec, ok := ft.records[k]; ok {
		return rec.count
	}

	return 0
}

// recordSuccess clears the failure record for k.
func (ft *failureTracker) recordSuccess(k day.Key) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, k)
}
