package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/config"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/cache"
	"gorm.io/gorm"
)

func main() {
	batchID := flag.String("batch", "", "show progress of one upload batch (needs REDIS_URL)")
	reconcile := flag.Bool("reconcile", false, "purge metadata rows no file references")
	cronRuns := flag.Int("cron", 10, "number of recent cron runs to show")
	flag.Parse()

	if err := config.LoadENV(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	env, err := config.Get()
	if err != nil {
		log.Fatalf("Failed to read configuration: %v", err)
	}

	store, err := database.StartGORM()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	db := store.GetDB().(*gorm.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	separator := strings.Repeat("=", 60)
	fmt.Println(separator)
	fmt.Println("Review Report Pipeline - Status")
	fmt.Println(separator)

	printFileStatuses(db)
	printEntityCounts(ctx, store)
	printOrphans(ctx, store)
	printCronRuns(db, *cronRuns)

	if *batchID != "" {
		printBatch(ctx, env.REDIS_URL, *batchID)
	}

	if *reconcile {
		purged, err := store.PurgeOrphanedEntities(ctx)
		if err != nil {
			log.Fatalf("Reconcile failed after %d purges: %v", purged, err)
		}
		fmt.Printf("\nPurged %d orphaned entities\n", purged)
	}
}

func printFileStatuses(db *gorm.DB) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&model.FileRecord{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		log.Printf("Failed to count files: %v", err)
		return
	}
	fmt.Println("\nFiles by status:")
	if len(rows) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range rows {
		fmt.Printf("  %-12s %d\n", r.Status, r.Count)
	}

	var failed []model.FileRecord
	db.Where("status = ?", model.FileStatusFailed).Order("updated_at DESC").Limit(10).Find(&failed)
	for _, f := range failed {
		fmt.Printf("  failed: %s (batch %s, %s)\n", f.FileKey, f.BatchID, f.UpdatedAt.Format(time.RFC3339))
	}
}

func printEntityCounts(ctx context.Context, store *database.GORMStore) {
	counts, err := store.EntityCounts(ctx)
	if err != nil {
		log.Printf("Failed to count entities: %v", err)
		return
	}
	fmt.Println("\nRows per table:")
	for _, name := range []string{"files", "institutes", "universities", "programs", "vocational_centers"} {
		fmt.Printf("  %-20s %d\n", name, counts[name])
	}
}

func printOrphans(ctx context.Context, store *database.GORMStore) {
	orphans, err := store.ListOrphanedEntities(ctx)
	if err != nil {
		log.Printf("Failed to list orphans: %v", err)
		return
	}
	fmt.Printf("\nOrphaned entities: %d\n", len(orphans))
	for _, o := range orphans {
		fmt.Printf("  %s: %s\n", o.Kind, o.Name)
	}
}

func printCronRuns(db *gorm.DB, limit int) {
	var runs []model.CronJobLog
	if err := db.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		log.Printf("Failed to load cron runs: %v", err)
		return
	}
	fmt.Println("\nRecent cron runs:")
	for _, r := range runs {
		detail := r.Message
		if r.ErrorMsg != "" {
			detail = r.ErrorMsg
		}
		fmt.Printf("  %s %-28s %-9s %6dms %s\n", r.StartedAt.Format(time.RFC3339), r.JobName, r.Status, r.DurationMs, detail)
	}
}

func printBatch(ctx context.Context, redisURL, batchID string) {
	if redisURL == "" {
		log.Println("REDIS_URL not set, batch state lives only inside the worker process")
		return
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		return
	}
	defer redisCache.Close()

	batch, err := services.NewRedisBatchTracker(redisCache).Get(ctx, batchID)
	if err != nil {
		log.Printf("Failed to load batch %s: %v", batchID, err)
		return
	}
	fmt.Printf("\nBatch %s: %s, %d/%d completed, %d failed, opened %s\n",
		batch.ID, batch.Status, batch.Completed, batch.Expected, batch.Failed, batch.CreatedAt.Format(time.RFC3339))
	for _, key := range batch.FailedFiles {
		fmt.Printf("  failed: %s\n", key)
	}
}
