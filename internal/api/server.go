// Package api exposes the worker's HTTP surface: health and status, live
// camera frames and MJPEG streams, and the notification history with its
// saved detection images.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"sentry-worker-go/internal/api/handlers"
	"sentry-worker-go/internal/config"
	"sentry-worker-go/internal/services/liveview"
	"sentry-worker-go/internal/store"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler *handlers.HealthHandler
	cameraHandler *handlers.CameraHandler
	alertsHandler *handlers.AlertsHandler
}

func NewServer(cfg *config.Config, status handlers.StatusProvider, live *liveview.Publisher, st *store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	return &Server{
		config:        cfg,
		router:        gin.New(),
		healthHandler: handlers.NewHealthHandler(cfg.WorkerID),
		cameraHandler: handlers.NewCameraHandler(status, live),
		alertsHandler: handlers.NewAlertsHandler(st),
	}
}

func (s *Server) Setup() {
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
