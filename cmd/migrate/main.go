package main

// Apply the runs table migrations:
//   DATABASE_URL=postgres://... go run ./cmd/migrate

import (
	"context"
	"log"

	"runlog-backend/internal/shared/config"
	"runlog-backend/internal/shared/storage/db"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	ctx := context.Background()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	log.Print("migrations applied")
}
