package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/runs"
	"runlog-backend/internal/schema"
	"runlog-backend/internal/shared/config"
	"runlog-backend/internal/shared/server"
	"runlog-backend/internal/shared/storage/db"
	"runlog-backend/internal/shared/storage/sheets"
	"runlog-backend/internal/web"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Schema schema.Schema

	RunRepo    runs.Repo
	RunService *runs.Service
	RunHandler *runs.Handler
	WebHandler *web.Handler
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.RunStore) == "" {
		cfg.RunStore = "csv"
	}
	ctx := context.Background()

	formSchema, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("load form schema: %w", err)
	}

	app := &App{Config: cfg, Schema: formSchema}

	repo, sqlDB, err := buildRepo(ctx, cfg, formSchema)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	app.RunRepo = repo

	app.RunService = runs.NewService(repo, formSchema)
	app.RunHandler = runs.NewHandler(app.RunService)
	app.WebHandler = web.NewHandler(app.RunService)

	router, err := server.NewRouter(server.RouterDeps{
		Config:     cfg,
		RunHandler: app.RunHandler,
		WebHandler: app.WebHandler,
	})
	if err != nil {
		return nil, err
	}
	app.Router = router

	return app, nil
}

func buildRepo(ctx context.Context, cfg config.Config, formSchema schema.Schema) (runs.Repo, *sql.DB, error) {
	columns := formSchema.Columns()

	switch cfg.RunStore {
	case "memory":
		return runs.NewMemoryRepo(columns), nil, nil

	case "csv":
		return runs.NewCSVRepo(cfg.CSVPath, columns), nil, nil

	case "sheets":
		client, err := sheets.New(ctx, sheets.Config{
			CredentialsFile: cfg.GoogleCredentialsFile,
			SpreadsheetID:   cfg.SheetsSpreadsheetID,
			WorksheetTitle:  cfg.SheetsWorksheet,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect google sheets: %w", err)
		}
		return runs.NewSheetsRepo(client, columns), nil, nil

	case "postgres":
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: database unavailable, falling back to memory: %v", err)
				return runs.NewMemoryRepo(columns), nil, nil
			}
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return runs.NewPGRepo(sqlDB, columns), sqlDB, nil

	default:
		return nil, nil, fmt.Errorf("unknown RUN_STORE %q", cfg.RunStore)
	}
}

func isDevLike(env string) bool {
	switch env {
	case "dev", "local":
		return true
	}
	return false
}
