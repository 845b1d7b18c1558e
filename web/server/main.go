package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/Bucknalla/all2gpx/config"
	"github.com/Bucknalla/all2gpx/store"
)

func main() {
	var (
		configPath string
		listen     string
		dataDir    string
		dbPath     string
		staticDir  string
	)
	flag.StringVar(&configPath, "config", "", "YAML configuration file")
	flag.StringVar(&listen, "listen", "", "Address to listen on (default from config, :8080)")
	flag.StringVar(&dataDir, "data", "", "Directory holding .all survey files")
	flag.StringVar(&dbPath, "db", "", "SQLite catalog of saved runs")
	flag.StringVar(&staticDir, "static", "static", "Directory of static web assets")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if listen != "" {
		cfg.Web.Listen = listen
	}
	if dataDir != "" {
		cfg.Web.DataDir = dataDir
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}

	var db *store.Store
	if cfg.Database != "" {
		var err error
		if db, err = store.Open(cfg.Database); err != nil {
			log.Fatalf("Failed to open catalog %s: %v", cfg.Database, err)
		}
		defer db.Close()
	}
	if _, err := os.Stat(staticDir); err != nil {
		staticDir = ""
	}

	webServer := NewWebServer(cfg, db, log.Default())

	log.Printf("Serving tracks from %s", cfg.Web.DataDir)
	log.Printf("Starting all2gpx web server on %s", cfg.Web.Listen)

	server := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer.Routes(staticDir),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
