package router

import (
	"github.com/bahrain-bp/bqa-insight-ai-sub000/handlers"
	file_handlers "github.com/bahrain-bp/bqa-insight-ai-sub000/handlers/files"
	"github.com/gofiber/fiber/v2"
)

// Handlers bundles everything SetupRoutes mounts
type Handlers struct {
	Health *handlers.HealthHandler
	Files  *file_handlers.FileHandler
}

func SetupRoutes(app *fiber.App, h Handlers) {
	// Health check endpoint (public)
	app.Get("/health", h.Health.Check)

	// API v1 group
	api := app.Group("/api/v1")

	files := api.Group("/files")
	files.Post("/upload-urls", h.Files.CreateUploadURLs) // Presigned PUT URLs for a new batch
	files.Post("/delete", h.Files.DeleteFiles)           // Delete files and unreferenced metadata
	files.Get("/", h.Files.ListFiles)                    // List file records with filters
	files.Get("/:fileKey", h.Files.GetFile)              // File record by key

	batches := api.Group("/batches")
	batches.Get("/:id", h.Files.GetBatch) // Batch progress
}
