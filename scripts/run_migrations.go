package main

import (
	"context"
	"log"
	"os"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(context.Background(), &cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	applied, err := database.RunMigrations(db, cfg.Storage.MigrationsDir, direction)
	if err != nil {
		log.Fatalf("Run migrations: %v", err)
	}

	for _, filename := range applied {
		log.Printf("Ran migration: %s", filename)
	}
	log.Printf("Successfully ran %d migration(s) %s", len(applied), direction)
}
