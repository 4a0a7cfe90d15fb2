package main

import (
	"log"

	"runlog-backend/internal/bootstrap"
	"runlog-backend/internal/shared/config"
	"runlog-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	addr := server.Addr(cfg.Port)
	log.Printf("Starting experiment logger on %s (store=%s)", addr, cfg.RunStore)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
