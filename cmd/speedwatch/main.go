package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/version"
)

var (
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	configFile  = flag.String("config", "", "Path to a JSON service config file")
	backend     = flag.String("backend", "", "State backend: memory, redis or sqlite (overrides config)")
	sqlitePath  = flag.String("sqlite", "", "SQLite database path (overrides config)")
	replayFile  = flag.String("replay", "", "Replay frames from a JSON-lines file instead of the ingress stream")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads the config file if given, then applies environment and
// flag overrides in that order.
func loadConfig(lookup func(string) (string, bool)) (*config.ServiceConfig, error) {
	cfg := &config.ServiceConfig{}
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *backend != "" {
		cfg.StateBackend = backend
	}
	if *sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s (%s, built %s)\n", version.Service, version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		if err := db.RunMigrateCommand(args[1:], cfg.GetSQLitePath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *configFile, *replayFile)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()

	log.Printf("%s %s starting: backend=%s listen=%s", version.Service, version.Version, cfg.GetStateBackend(), cfg.GetListenAddr())

	var wg sync.WaitGroup

	// frame ingestion
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.worker.Run(ctx); err != nil {
			log.Printf("stream worker stopped: %v", err)
		}
		log.Printf("stream worker routine terminated: %+v", a.worker.Stats())
	}()

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: a.handler(),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
