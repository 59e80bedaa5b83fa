package main

import (
	"log"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"

	"steprun/api"
	"steprun/config"
	"steprun/db"
	"steprun/platform/shutdown"
	"steprun/web"
)

func main() {
	config.Initialize()
	cfg := config.Get()

	// Local cache is best-effort; the orchestrator runs without it
	database, err := db.GetDB()
	if err != nil {
		logger.LogErr(err, "local cache unavailable, continuing without it")
		database = nil
	}

	backend := api.NewClient(cfg.BackendURL, cfg.APIToken, cfg.RequestTimeout)
	app := web.NewApp(backend, database)

	s := rweb.NewServer(rweb.ServerOptions{
		Address: cfg.ListenAddress,
		Verbose: true,
	})

	// Add middleware for request logging
	s.Use(rweb.RequestInfo)

	web.SetupRoutes(s, app)

	done := make(chan struct{})
	shutdown.InitShutdownService(done)
	shutdown.RegisterHook(func(time.Duration) error {
		app.Close()
		return nil
	})
	if database != nil {
		shutdown.RegisterHook(func(time.Duration) error {
			return database.Close()
		})
	}

	go func() {
		<-done
		logger.Info("Shutdown complete")
	}()

	log.Printf("Starting steprun orchestrator on %s", cfg.ListenAddress)
	log.Fatal(s.Run())
}
