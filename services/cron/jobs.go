package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ReconcileOrphanedEntities deletes institute, university and vocational
// rows that no file references any more
func (m *CronManager) ReconcileOrphanedEntities(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	entry := m.logJobStart(JobReconcileOrphans)

	purged, err := m.opts.Orphans.PurgeOrphanedEntities(ctx)
	if err != nil {
		m.logJobError(entry, fmt.Errorf("purged %d before failing: %w", purged, err))
		return
	}
	if purged == 0 {
		m.logJobComplete(entry, "No orphaned entities found")
		return
	}
	m.logJobComplete(entry, fmt.Sprintf("Purged %d orphaned entities", purged))
}

// WatchStaleBatches force-completes batches that have been pending longer
// than the stale window so their sync signal is still published
func (m *CronManager) WatchStaleBatches(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	entry := m.logJobStart(JobBatchWatchdog)

	cutoff := m.now().Add(-m.opts.StaleAfter)
	ids, err := m.opts.Batches.Pending(ctx, cutoff)
	if err != nil {
		m.logJobError(entry, fmt.Errorf("failed to list pending batches: %w", err))
		return
	}
	if len(ids) == 0 {
		m.logJobComplete(entry, "No stale batches")
		return
	}

	expired := 0
	var errs []error
	for _, id := range ids {
		fired, err := m.opts.Expirer.BatchExpired(ctx, id)
		if err != nil {
			log.Warnf("[CRON] Failed to expire batch %s: %v", id, err)
			errs = append(errs, fmt.Errorf("batch %s: %w", id, err))
			continue
		}
		if fired {
			expired++
		}
	}

	if len(errs) > 0 {
		m.logJobError(entry, fmt.Errorf("expired %d of %d stale batches: %w", expired, len(ids), errors.Join(errs...)))
		return
	}
	m.logJobComplete(entry, fmt.Sprintf("Expired %d of %d stale batches", expired, len(ids)))
}
