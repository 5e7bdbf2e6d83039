package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-inbox/config"
	"marketplace-inbox/internal/handler"
	"marketplace-inbox/internal/middleware"
	inboxredis "marketplace-inbox/internal/redis"
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"
	"marketplace-inbox/internal/websocket"
	"marketplace-inbox/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

const healthTimeout = 2 * time.Second

type Handlers struct {
	Session *handler.SessionHandler
	Inbox   *handler.InboxHandler
	Stream  *websocket.Handler
}

// Deps are the shared components the routes need besides handlers.
type Deps struct {
	Auth    *services.AuthService
	Limiter *inboxredis.RateLimiter
	Redis   *redis.Client
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Deps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if err := inboxredis.Ping(c.Request.Context(), deps.Redis, healthTimeout); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(deps.Auth))
	{
		v1.POST("/session", handlers.Session.Create)
		v1.DELETE("/session", handlers.Session.Delete)
		v1.GET("/ws", handlers.Stream.Connect)
	}

	inbox := v1.Group("/inbox")
	{
		inbox.GET("", handlers.Inbox.Load)
		inbox.GET("/snapshot", handlers.Inbox.Snapshot)
		inbox.POST("/select", handlers.Inbox.Select)
		inbox.POST("/deeplinks", handlers.Inbox.OpenDeepLink)
		inbox.GET("/messages", handlers.Inbox.Messages)
		inbox.POST("/messages", middleware.MessageRateLimitMiddleware(deps.Limiter), handlers.Inbox.Send)
		inbox.GET("/unread", handlers.Inbox.Unread)
	}
}

// Start serves until SIGINT or SIGTERM, then shuts the HTTP server down.
func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
