// migrate_gorm.go - Run this file to apply the pipeline migrations
// Usage: go run migrate_gorm.go

//go:build ignore

package main

import (
	"context"
	"log"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/config"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
)

func main() {
	log.Println("=== GORM Migration ===")

	if err := config.LoadENV(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	store, err := database.StartGORM()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatal("Migration failed:", err)
	}

	counts, err := store.EntityCounts(context.Background())
	if err != nil {
		log.Fatal("Failed to read tables:", err)
	}
	for name, n := range counts {
		log.Printf("  %-20s %d rows", name, n)
	}
	log.Println("=== Migration complete ===")
}
