package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/media"
)

// Drain replays the pending write queue against the remote store, oldest
// date first. A record whose remote copy is strictly newer is discarded;
// otherwise it is written. Failures leave the record queued and do not stop
// later dates. Only one drain runs at a time.
func (c *Coordinator) Drain(ctx context.Context) DrainReport {
	if c.remote == nil {
		return DrainReport{Skipped: true}
	}

	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	start := c.nowFunc()
	user := c.session.UserID

	var report DrainReport

	dates, err := c.queue.Dates(ctx, user)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}

	if len(dates) == 0 {
		return report
	}

	c.logger.Info("draining pending writes", slog.Int("count", len(dates)))

	for _, d := range dates {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			break
		}

		c.drainOne(ctx, day.NewKey(user, d), &report)
	}

	report.Duration = c.nowFunc().Sub(start)

	c.logger.Info("drain complete",
		slog.Int("written", report.Written),
		slog.Int("discarded", report.Discarded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)

	return report
}

func (c *Coordinator) drainOne(ctx context.Context, k day.Key, report *DrainReport) {
	rec, ok, err := c.queue.Get(ctx, k.UserID, k.Date)
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, err)

		return
	}

	if !ok {
		return
	}

	outcome, entry, err := c.binder.Reconcile(ctx, k, rec)
	if err != nil {
		c.drainFailed(ctx, k, err, report)
		return
	}

	if _, err := c.queue.Settle(ctx, k.UserID, rec); err != nil {
		c.logger.Warn("clearing drained write failed", slog.String("date", k.Date.String()), slog.String("error", err.Error()))
	}

	c.failures.recordSuccess(k)

	switch outcome {
	case outcomeServerWins:
		report.Discarded++

		c.logger.Info("remote copy is newer, discarding pending write",
			slog.String("date", k.Date.String()),
			slog.Time("pending", rec.LastModified),
			slog.Time("remote", entry.UpdatedAt),
		)
	default:
		report.Written++

		c.logger.Debug("pending write confirmed",
			slog.String("date", k.Date.String()),
			slog.String("identity", entry.ID),
		)
	}

	c.mu.Lock()

	c.markOnlineLocked()

	ds := c.docLocked(ctx, k.Date)
	prev := ds.remoteMedia
	ds.remoteMedia = entry.Media

	adopted := false
	if reason := c.supersededLocked(ctx, k, rec.LastModified); reason == "" {
		c.adoptLocked(ctx, k, entry)
		adopted = true
	} else {
		c.logger.Debug("keeping newer local state over drained copy",
			slog.String("date", k.Date.String()),
			slog.String("reason", reason),
		)

		if ds.Identity != entry.ID {
			ds.Identity = entry.ID
			c.cache.Write(ctx, k, ds.Document)
		}
	}

	var doc Document
	notify := adopted && c.onDocument != nil && c.session.Active == k.Date
	if notify {
		doc = c.docs[k.Date].Document
	}

	c.mu.Unlock()

	if notify {
		c.onDocument(doc)
	}

	if outcome == outcomeWritten {
		c.cleanup(ctx, k.Date, media.Orphaned(prev, entry.Media))
	}
}

// supersededLocked returns a non-empty reason when local state for k is
// newer than the drained record, so the drained result must not replace it.
func (c *Coordinator) supersededLocked(ctx context.Context, k day.Key, drained time.Time) string {
	if db := c.debouncers[k.Date]; db != nil && db.dirty() {
		return "unsaved edit"
	}

	if ds := c.docLocked(ctx, k.Date); ds.known && ds.LastModified.After(drained) && ds.State != StateSynced {
		return "newer local state"
	}

	return ""
}

// drainFailed accounts for one failed record. Identity inconsistency is
// escalated at once; other failures mark the remote unreachable and are
// escalated when they repeat past the failure limit.
func (c *Coordinator) drainFailed(ctx context.Context, k day.Key, err error, report *DrainReport) {
	report.Failed++
	report.Errors = append(report.Errors, err)

	// An interrupted drain says nothing about the record or the remote.
	if ctx.Err() != nil {
		c.logger.Debug("drain interrupted", slog.String("date", k.Date.String()), slog.String("error", err.Error()))
		return
	}

	var escalate error

	switch {
	case errors.Is(err, ErrIdentityInconsistent):
		escalate = err
	case c.failures.recordFailure(k, err.Error()):
		escalate = fmt.Errorf("%w: %s: %w", ErrDrainExhausted, k.Date, err)
	}

	c.mu.Lock()

	if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrIdentityInconsistent) {
		c.markOfflineLocked(err)
	}

	if escalate != nil {
		ds := c.docLocked(ctx, k.Date)
		if db := c.debouncers[k.Date]; db == nil || !db.dirty() {
			ds.State = StateFailed
			c.cache.Write(ctx, k, ds.Document)
		}
	}

	c.mu.Unlock()

	c.logger.Warn("pending write failed",
		slog.String("date", k.Date.String()),
		slog.Int("failures", c.failures.failures(k)),
		slog.String("error", err.Error()),
	)

	if escalate != nil && c.onFailure != nil {
		c.onFailure(k.Date, escalate)
	}
}
