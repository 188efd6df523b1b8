package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"entropic/internal/api"
	"entropic/internal/db"
	"entropic/internal/logger"
)

var version = "dev"

func main() {
	port := flag.Int("port", 13380, "HTTP server port")
	noDB := flag.Bool("no-db", false, "run without persistence (disables history)")
	flag.Parse()

	logger.Banner(version)

	var database *db.DB
	if !*noDB {
		var err error
		database, err = db.Open()
		if err != nil {
			logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
			os.Exit(1)
		}
		defer database.Close()
	} else {
		logger.Warn("DB", "Persistence disabled; history endpoints unavailable")
	}

	cfg := database.LoadConfig()

	srv := api.NewServer(cfg, database)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	logger.Server(addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
