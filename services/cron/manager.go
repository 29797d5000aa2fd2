package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	// JobReconcileOrphans purges metadata rows no file references
	JobReconcileOrphans = "reconcile_orphaned_entities"
	// JobBatchWatchdog force-completes batches that stopped making progress
	JobBatchWatchdog = "batch_watchdog"
)

// OrphanPurger removes metadata entities with no referencing file
type OrphanPurger interface {
	PurgeOrphanedEntities(ctx context.Context) (int, error)
}

// StaleBatches lists batches still pending that were opened before cutoff
type StaleBatches interface {
	Pending(ctx context.Context, cutoff time.Time) ([]string, error)
}

// BatchExpirer force-completes one batch and publishes the sync signal
type BatchExpirer interface {
	BatchExpired(ctx context.Context, batchID string) (bool, error)
}

// Options configures the scheduled maintenance jobs
type Options struct {
	Orphans    OrphanPurger
	Batches    StaleBatches
	Expirer    BatchExpirer
	StaleAfter time.Duration
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron *cron.Cron
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, opts Options) *CronManager {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Hour
	}
	return &CronManager{
		cron: cron.New(cron.WithSeconds()),
		db:   db,
		opts: opts,
		now:  time.Now,
	}
}

// Start registers the jobs and starts the scheduler
func (m *CronManager) Start() error {
	log.Info("[CRON] Starting cron jobs...")
	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()
	log.Info("[CRON] Cron jobs started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (m *CronManager) Stop() {
	log.Info("[CRON] Stopping cron jobs...")
	<-m.cron.Stop().Done()
	log.Info("[CRON] Cron jobs stopped")
}

func (m *CronManager) registerJobs() error {
	if m.opts.Orphans != nil {
		// Every 10 minutes
		if _, err := m.cron.AddFunc("0 */10 * * * *", func() {
			m.ReconcileOrphanedEntities(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to register %s: %w", JobReconcileOrphans, err)
		}
	}

	if m.opts.Batches != nil && m.opts.Expirer != nil {
		// Every 5 minutes
		if _, err := m.cron.AddFunc("0 */5 * * * *", func() {
			m.WatchStaleBatches(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to register %s: %w", JobBatchWatchdog, err)
		}
	}

	log.Info("[CRON] All cron jobs registered successfully")
	return nil
}

// logJobStart records a running row and returns it for completion
func (m *CronManager) logJobStart(jobName string) *model.CronJobLog {
	started := m.now()
	log.Infof("[CRON] Starting job: %s at %s", jobName, started.Format(time.RFC3339))

	entry := &model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: started,
		Metadata:  []byte("{}"),
	}
	if err := m.db.Create(entry).Error; err != nil {
		log.Warnf("[CRON] Could not record start of %s: %v", jobName, err)
	}
	return entry
}

func (m *CronManager) logJobComplete(entry *model.CronJobLog, message string) {
	log.Infof("[CRON] Completed job: %s - %s", entry.JobName, message)
	m.finish(entry, map[string]interface{}{
		"status":  "completed",
		"message": message,
	})
}

func (m *CronManager) logJobError(entry *model.CronJobLog, err error) {
	log.Errorf("[CRON] Error in job: %s - %v", entry.JobName, err)
	m.finish(entry, map[string]interface{}{
		"status":    "failed",
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finish(entry *model.CronJobLog, fields map[string]interface{}) {
	if entry.ID == 0 {
		return
	}
	done := m.now()
	fields["completed_at"] = done
	fields["duration_ms"] = done.Sub(entry.StartedAt).Milliseconds()
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", entry.ID).Updates(fields).Error; err != nil {
		log.Warnf("[CRON] Could not record end of %s: %v", entry.JobName, err)
	}
}
