package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/oke-autoscaler/api/handlers"
	"github.com/OldStager01/oke-autoscaler/api/middleware"
	"github.com/OldStager01/oke-autoscaler/api/websocket"
	"github.com/OldStager01/oke-autoscaler/internal/auth"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
)

const maxRequestBody = 1 << 20

// Dependencies are the collaborators the API serves. History and Database
// may be nil when results are not persisted.
type Dependencies struct {
	Pools    handlers.PoolManager
	History  handlers.ResultHistory
	Database handlers.HealthChecker
	Metrics  *metrics.Metrics
}

type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      *config.Config
	deps        Dependencies
	authService *auth.Service
	wsHub       *websocket.Hub
	wsBridge    *websocket.EventBridge
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.App.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.Get()
	}

	s := &Server{
		router: gin.New(),
		config: cfg,
		deps:   deps,
		wsHub:  websocket.NewHub(&cfg.WebSocket),
	}
	if cfg.API.JWTSecret != "" {
		s.authService = auth.NewService(cfg.API.JWTSecret, cfg.API.JWTIssuer, 24*time.Hour)
	}

	s.setupMiddleware()
	s.setupRoutes()

	go s.wsHub.Run()

	if deps.Pools != nil {
		s.wsBridge = websocket.NewEventBridge(s.wsHub, deps.Pools.SubscribeAllEvents())
		s.wsBridge.Start()
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.TraceID())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.RequestSizeLimit(maxRequestBody))

	if s.config.API.RateLimit > 0 {
		s.router.Use(middleware.RateLimit(middleware.NewRateLimiter(s.config.API.RateLimit, time.Minute)))
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"database": s.deps.Database,
	})

	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/health/ready", healthHandler.Ready)
	s.router.GET("/health/live", healthHandler.Live)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.Path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.router.GET("/ws", websocket.ServeWebSocket(s.wsHub, nil))

	if s.deps.Pools == nil {
		return
	}

	resultsHandler := handlers.NewResultsHandler(s.deps.Pools, s.deps.History, handlers.ResultsConfig{
		DefaultPool:  s.config.Pool.NodePoolID,
		DefaultLimit: s.config.API.DefaultLimit,
		MaxLimit:     s.config.API.MaxLimit,
	})

	// Evaluation ticks call the cloud control plane, so they get a tighter
	// budget than reads.
	evaluateLimiter := middleware.NewEndpointRateLimiter()
	evaluateLimiter.AddEndpoint("/api/v1/evaluate", 6, time.Minute)

	v1 := s.router.Group("/api/v1")
	if s.authService != nil {
		v1.Use(middleware.JWTAuth(s.authService))
	}
	v1.Use(evaluateLimiter.Middleware())
	{
		v1.POST("/evaluate", resultsHandler.Evaluate)
		v1.GET("/pools", resultsHandler.Pools)
		v1.GET("/results", resultsHandler.List)
		v1.GET("/results/latest", resultsHandler.Latest)
		v1.GET("/results/summary", resultsHandler.Summary)
	}
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.API.Port),
		Handler:           s.router,
		ReadTimeout:       s.config.API.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.API.WriteTimeout,
		IdleTimeout:       s.config.API.IdleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.wsBridge != nil {
		s.wsBridge.Stop()
	}
	s.wsHub.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) WebSocketHub() *websocket.Hub {
	return s.wsHub
}

// AuthService is nil when the API runs without a JWT secret.
func (s *Server) AuthService() *auth.Service {
	return s.authService
}
