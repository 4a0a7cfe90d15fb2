package config

import (
	"log"
	"os"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	// SchemaFile is the declarative form schema (groups/variables).
	SchemaFile string

	// RunStore selects the persistence backend: csv, sheets, postgres
	// or memory.
	RunStore string
	CSVPath  string

	DatabaseURL string

	GoogleCredentialsFile string
	SheetsSpreadsheetID   string
	SheetsWorksheet       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	store := normalizeStoreType(getEnv("RUN_STORE", "csv"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   env,
		CORSAllowOrigin:       splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		SchemaFile:            getEnv("SCHEMA_FILE", "config/schema.yaml"),
		RunStore:              store,
		CSVPath:               getEnv("CSV_PATH", "./data/experiment_log.csv"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		SheetsSpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetsWorksheet:       getEnv("SHEETS_WORKSHEET", "Log"),
	}

	if store == "postgres" && cfg.DatabaseURL == "" {
		log.Printf("RUN_STORE=postgres requires DATABASE_URL")
	}
	if store == "sheets" && cfg.SheetsSpreadsheetID == "" {
		log.Printf("RUN_STORE=sheets requires SHEETS_SPREADSHEET_ID")
	}

	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sheets", "spreadsheet":
		return "sheets"
	case "postgres", "pg":
		return "postgres"
	case "memory":
		return "memory"
	default:
		return "csv"
	}
}
