package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/presbrey/ircstate/api"
	"github.com/presbrey/ircstate/config"
	"github.com/presbrey/ircstate/core"
)

func main() {
	// Define command-line flags
	configSource := flag.String("config", "", "Configuration file or URL (yaml, toml, or json)")
	flag.Parse()

	cfg, err := config.Load(*configSource)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Log startup configuration
	log.Printf("Starting %s with the following configuration:", cfg.Server.Name)
	log.Printf("Store: %s (%s)", cfg.Store.Driver, cfg.Store.DSN)
	log.Printf("API enabled: %v", cfg.API.Enabled)
	log.Printf("Catch-up batch limit: %d", cfg.CatchUp.BatchLimit)

	db, err := core.OpenStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	c := core.New(db, core.Options{
		CatchUpBatchLimit: cfg.CatchUp.BatchLimit,
		RetryAttempts:     cfg.Retry.Attempts,
		RetryBackoff:      cfg.RetryBackoff(),
	})

	// Bootstrap the configured server operators. A nick that has not
	// registered yet is skipped, not fatal.
	for _, nick := range cfg.Server.Operators {
		if err := c.EnsureOperator(nick); err != nil {
			log.Printf("Warning: could not bootstrap operator %s: %v", nick, err)
		}
	}

	var server *api.API
	if cfg.API.Enabled {
		server = api.New(c, cfg)
		go func() {
			log.Printf("API listening on %s", cfg.GetAPIListenAddress())
			if err := server.Start(); err != nil {
				log.Printf("API server stopped: %v", err)
			}
		}()
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("Server is running. Press Ctrl+C to stop.")
	<-sigChan
	log.Println("Shutdown signal received, stopping server...")

	if server != nil {
		if err := server.Stop(); err != nil {
			log.Printf("Error stopping API: %v", err)
		}
	}

	log.Println("Server stopped. Goodbye!")
}
