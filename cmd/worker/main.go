package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"kepler-linecount-go/internal/api"
	"kepler-linecount-go/internal/config"
	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/services"
)

func main() {
	cfg := config.Load()

	var extra []io.Writer
	if cfg.LogdyEnabled {
		w, _, err := logging.StartLogdy(cfg)
		if err != nil {
			logging.Setup(cfg)
			log.Warn().Err(err).Msg("Logdy disabled")
		} else {
			extra = append(extra, w)
		}
	}
	logging.Setup(cfg, extra...)

	cameras, err := config.LoadCameras(cfg.CamerasFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load camera table")
	}
	cfg.Cameras = cameras
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("cameras", len(cfg.Cameras)).
		Int("batch_size", cfg.BatchSize).
		Str("detector", cfg.DetectorEndpoint).
		Bool("nats_enabled", cfg.NatsEnabled).
		Bool("store_enabled", cfg.StoreEnabled).
		Msg("Starting Kepler line counting worker")

	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}

	deps := api.Dependencies{
		Cameras:  container.CameraManager,
		Counters: container.Counting,
		Pipeline: container,
		Checks:   container.HealthChecks(),
	}
	if container.Store != nil {
		deps.History = container.Store
	}
	if container.MJPEG != nil {
		deps.MJPEG = container.MJPEG
	}
	server := api.NewServer(cfg, deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := container.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pipeline")
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// API and pipeline each get the full shutdown timeout
	serverCtx, cancelServer := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelServer()
	if err := server.Shutdown(serverCtx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}

	pipelineCtx, cancelPipeline := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelPipeline()
	if err := container.Shutdown(pipelineCtx); err != nil {
		log.Error().Err(err).Msg("Pipeline shutdown incomplete")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}
