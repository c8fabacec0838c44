package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/metrics"
	"brokenLinkAnalyzerGO/internal/middleware"
	"brokenLinkAnalyzerGO/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	service    *service.BrokenLinkService
	auth       *middleware.Auth
	logger     *slog.Logger
	config     *config.Config
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, svc *service.BrokenLinkService, logger *slog.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Metrics(),
		middleware.Recovery(logger),
	)

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: !allowsAnyOrigin(cfg.Server.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		service: svc,
		auth:    middleware.NewAuth(cfg.Auth, logger),
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all the routes for the server
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	tools := s.router.Group("/api/tools/broken-links")
	tools.GET("/health", s.healthHandler)

	protected := tools.Group("")
	protected.Use(s.auth.Authenticate())
	{
		protected.POST("/analyze", s.analyzeHandler)
		protected.GET("/analyze/:id", s.statusHandler)
		protected.DELETE("/analyze/:id", s.cancelHandler)
		protected.GET("/results/:id", s.resultsHandler)
		protected.GET("/export/:id", s.exportHandler)
		protected.GET("/history", s.historyHandler)
	}
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
