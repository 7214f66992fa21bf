package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kepler-linecount-go/internal/api/handlers"
	"kepler-linecount-go/internal/api/middleware"
	"kepler-linecount-go/internal/config"
)

// Dependencies are the services the API reads from. History, MJPEG and
// Checks are optional.
type Dependencies struct {
	Cameras interface {
		handlers.CameraSource
		handlers.CameraStates
	}
	Counters handlers.CounterSource
	Pipeline handlers.PipelineSource
	History  handlers.CrossingHistory
	MJPEG    handlers.MJPEGStreamer
	Checks   map[string]handlers.HealthCheck
}

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler  *handlers.HealthHandler
	cameraHandler  *handlers.CameraHandler
	counterHandler *handlers.CounterHandler
	systemHandler  *handlers.SystemHandler
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:         cfg,
		router:         gin.New(),
		healthHandler:  handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, deps.Cameras, deps.Checks),
		cameraHandler:  handlers.NewCameraHandler(deps.Cameras, deps.MJPEG),
		counterHandler: handlers.NewCounterHandler(deps.Counters, deps.History),
		systemHandler:  handlers.NewSystemHandler(cfg.WorkerID, deps.Pipeline),
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
	}
	// streams never finish on their own; end them when Shutdown starts
	if sd, ok := deps.MJPEG.(interface{ Shutdown() }); ok {
		s.server.RegisterOnShutdown(sd.Shutdown)
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

// Start listens on the configured address and serves until Shutdown is called
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	log.Info().Str("addr", l.Addr().String()).Msg("Starting line counting API")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Stopping line counting API")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}
