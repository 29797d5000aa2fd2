package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

func NewAPIServer(listenAddress string) *APIServer {
	app := fiber.New(fiber.Config{
		AppName:      "bqa-insight-ingest",
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	return &APIServer{
		app:           app,
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *APIServer) Run(ctx context.Context) error {
	log.Info("Starting API Server")
	log.Infof("Listening on %s", s.listenAddress)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(s.listenAddress) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("Shutting down API Server")
		return s.app.ShutdownWithTimeout(10 * time.Second)
	}
}
