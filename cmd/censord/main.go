package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"censord/internal/adapter/repo"
	"censord/internal/assets"
	"censord/internal/engine"
	httpapi "censord/internal/http"
	"censord/internal/http/handlers"
	"censord/internal/infra"
	"censord/internal/notify"
	"censord/internal/queue"
	"censord/internal/worker"
	"censord/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Completion history is optional; without DATABASE_URL the stage simply
	// does not record.
	var recorder notify.Recorder
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		recorder = repo.NewCompletionHistory(dbpool)
	}

	eng, err := engine.NewHTTPEngine(engine.Options{BaseURL: cfg.EngineURL})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid engine configuration")
	}

	store, err := assets.NewDirStore(cfg.AssetDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.AssetDir).Msg("asset store disabled")
		store = nil
	}

	q := queue.New(cfg.QueueMaxPending, logger)
	router := notify.NewRouter(logger)

	pool := worker.NewPool(worker.Options{
		Queue:      q,
		Engine:     eng,
		Count:      cfg.WorkerCount,
		OnProgress: router.Progress,
		Logger:     logger,
	})
	pool.Start(ctx)

	stage := notify.NewStage(router, recorder, q.Release, logger)
	go stage.Run(ctx, pool.Completions())

	hub := ws.NewHub(ws.Options{
		Queue:           q,
		Router:          router,
		Heartbeat:       cfg.HeartbeatInterval,
		IdleTimeout:     cfg.IdleTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
		EphemeralLinger: time.Duration(cfg.EphemeralLingerMS) * time.Millisecond,
		Logger:          logger,
	})

	var assetStore assets.Store
	if store != nil {
		assetStore = store
	}
	app := handlers.NewApp(q, router, assetStore, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, hub, cfg, logger))

	go func() {
		logger.Info().Msgf("censord listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Drain: stop admitting, let claimed jobs finish, then flush the stage.
	pool.Stop()
	stage.Wait()
	logger.Info().Msg("server stopped")
}
