package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/api"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/handlers"
	file_handlers "github.com/bahrain-bp/bqa-insight-ai-sub000/handlers/files"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/router"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/cron"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func SetupAndRunServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	db, ok := p.store.GetDB().(*gorm.DB)
	if !ok {
		return fmt.Errorf("failed to get GORM DB instance")
	}

	// Initialize Cron Manager (only if enabled via environment variable)
	if p.env.CRON_ENABLED {
		opts := cron.Options{Orphans: p.store, StaleAfter: p.env.BATCH_STALE_AFTER}
		if detector := p.completion(nil); detector != nil {
			opts.Batches = p.batches
			opts.Expirer = detector
		}
		cronManager := cron.NewCronManager(db, opts)
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warnf("Failed to start cron jobs: %v", err)
		} else {
			defer cronManager.Stop()
		}
	}

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", p.env.PORT))

	var cachePinger handlers.CachePinger
	if p.redis != nil {
		cachePinger = p.redis
	}
	router.SetupRoutes(server.GetEngine(), router.Handlers{
		Health: handlers.NewHealthHandler(p.store, cachePinger),
		Files: file_handlers.NewFileHandler(
			services.NewUploadService(p.objects, p.store, p.batches),
			services.NewDeletionService(p.objects, p.store, p.indexRemover()).WithParallel(p.env.DELETE_CONCURRENCY),
			p.store,
		),
	})

	if !p.env.EMBED_WORKERS {
		return server.Run(ctx)
	}

	// Single-process mode shares the in-memory batch tracker with the workers
	consumers, err := buildConsumers(p)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return services.RunConsumers(gctx, consumers...) })
	return g.Wait()
}
