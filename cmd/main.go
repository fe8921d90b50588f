package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"

	"racesync/cmd/buildCFG"
	"racesync/internal/api/api"
	"racesync/internal/broadcast"
	rabbitReader "racesync/internal/consumerWorker"
	"racesync/internal/journal"
	"racesync/internal/rabbit"
	"racesync/internal/reconcile"
	"racesync/internal/repo"
	"racesync/internal/service"
	"racesync/internal/startlist"
	"racesync/internal/storage"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "RACESYNC"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	storageCfg, err := buildCFG.BuildStorageConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build storage config")
	}
	checklistCfg := buildCFG.BuildChecklistConfig(cfg, &log)
	hubCfg := buildCFG.BuildHubConfig(cfg)
	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}

	ctx := context.Background()
	shared, err := storage.OpenShared(ctx, storageCfg.SharedDB, storageCfg.MaxOpenConns, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open shared store")
	}
	defer shared.Close()

	repository, err := repo.NewRepository(shared, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	router := storage.NewRouter(storageCfg.Config, &log)
	defer router.Close()
	log.Info().Msg("Storage ready")

	events := repo.NewEventRepository(router, &log)
	changes := journal.New(router, &log)
	hub := broadcast.NewHub(hubCfg.Buffer, &log)
	importer := startlist.NewImporter(router, repository, startlist.Options{}, &log)
	reconciler := reconcile.New(router, changes, hub, events, reconcile.Config{CheckLead: checklistCfg.CheckLead}, &log)

	var reader *rabbitReader.Reader
	if rabbitCfg.Enabled {
		rmq, err := rabbit.NewRabbit(rabbitCfg.Config)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rmq.Close()
		reconciler.SetMirror(rmq)

		if rabbitCfg.InboundQueue != "" {
			reader = rabbitReader.NewReader(rmq, rabbitCfg.InboundQueue, repository, reconciler)
		}
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	if reader != nil {
		reader.Start(workerCtx)
	}

	serviceInstance := service.NewService(service.Deps{
		Repo:          repository,
		Events:        events,
		Journal:       changes,
		Importer:      importer,
		Reconciler:    reconciler,
		Hub:           hub,
		Shared:        shared,
		RabbitEnabled: rabbitCfg.Enabled,
	}, &log)
	app := api.NewRouters(&api.Routers{Service: serviceInstance})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	cancelWorkers()
	if reader != nil {
		reader.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}
	log.Info().Msg("Shutdown complete")
}
