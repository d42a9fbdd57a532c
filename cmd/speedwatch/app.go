package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/speedwatch/internal/api"
	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/sink"
	"github.com/banshee-data/speedwatch/internal/speed"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/stream"
)

// app holds the wired service components.
type app struct {
	cfg          *config.ServiceConfig
	engine       *speed.Engine
	calibrations *calibration.Static
	worker       *stream.Worker

	rdb    *redis.Client
	sqlite *db.DB
	replay *stream.FileSource
}

// newApp wires the state backend, calibration sources, sink and frame
// source described by cfg. A non-empty replayPath reads frames from a
// JSON-lines file instead of the ingress stream.
func newApp(ctx context.Context, cfg *config.ServiceConfig, configPath, replayPath string) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	backend := cfg.GetStateBackend()
	if backend == config.BackendRedis || replayPath == "" {
		if a.rdb, err = connectRedis(ctx, cfg.GetRedisURL()); err != nil {
			return nil, err
		}
	}

	var store state.Store
	var pruner state.Pruner
	sources := calibration.Chain{}
	switch backend {
	case config.BackendMemory:
		mem := state.NewMemoryStore(nil, cfg.GetStateTTL())
		store, pruner = mem, mem
	case config.BackendRedis:
		store = state.NewRedisStore(a.rdb, cfg.GetStateTTL())
	case config.BackendSQLite:
		if a.sqlite, err = db.NewDB(cfg.GetSQLitePath(), db.WithStateTTL(cfg.GetStateTTL())); err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store, pruner = a.sqlite, a.sqlite
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}

	a.calibrations = calibration.NewStatic(cfg.GetCalibrations(), calibrationLoader(configPath))
	sources = append(sources, a.calibrations)
	if a.sqlite != nil {
		sources = append(sources, a.sqlite)
	}
	if a.rdb != nil {
		sources = append(sources, state.NewRedisStore(a.rdb, cfg.GetStateTTL()))
	}

	a.engine = speed.NewEngine(store, sources, speed.Options{
		ModelID:          cfg.GetModelID(),
		DebounceInterval: cfg.GetViolationDebounce(),
		DedupTTL:         cfg.GetDedupTTL(),
	})

	var sinks sink.Multi
	if a.rdb != nil && replayPath == "" {
		sinks = append(sinks, sink.NewRedisStream(a.rdb, cfg.GetEgressStream()))
	}
	if a.sqlite != nil {
		sinks = append(sinks, a.sqlite)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.Log{})
	}

	var src stream.Source
	if replayPath != "" {
		if a.replay, err = stream.OpenFile(replayPath, stream.DefaultBatchSize); err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		src = a.replay
	} else {
		rs := stream.NewRedisSource(a.rdb, stream.RedisConfig{
			Stream:    cfg.GetIngressStream(),
			DLQStream: cfg.GetDLQStream(),
			Group:     cfg.GetConsumerGroup(),
			Consumer:  cfg.GetConsumerName(),
		})
		if err := rs.EnsureGroup(ctx); err != nil {
			return nil, err
		}
		src = rs
	}

	a.worker = &stream.Worker{
		Source:        src,
		Engine:        a.engine,
		Sink:          sinks,
		Pruner:        pruner,
		PruneInterval: cfg.GetPruneInterval(),
	}
	return a, nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// calibrationLoader re-reads the calibrations from the config file, or
// yields none when the service runs without one.
func calibrationLoader(path string) calibration.Loader {
	return func() (map[string]frame.Calibration, error) {
		if path == "" {
			return map[string]frame.Calibration{}, nil
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return cfg.GetCalibrations(), nil
	}
}

// handler returns the HTTP surface: the API, the admin routes and request
// logging.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()

	if a.sqlite != nil {
		a.sqlite.AttachAdminRoutes(mux)
	}
	api.AttachAdminRoutes(mux, func() interface{} { return a.worker.Stats() })

	srv := api.NewServer(a.engine, a.calibrations, a.cfg.GetTestModeSharedState())
	mux.Handle(api.Prefix+"/", srv.ServeMux())

	return api.LoggingMiddleware(mux)
}

// Close releases the backing connections.
func (a *app) Close() {
	if a.replay != nil {
		a.replay.Close()
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
