// Package server assembles the HTTP API from the application modules.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/config"
	"github.com/pshap/abop-app-sub005/internal/events"
	"github.com/pshap/abop-app-sub005/internal/modules/scannermodule"
	"gorm.io/gorm"
)

// Server wires the router, event bus and scanner module together and
// runs the HTTP listener.
type Server struct {
	cfg      *config.Config
	db       *gorm.DB
	eventBus events.EventBus
	logger   hclog.Logger

	scannerModule *scannermodule.Module
	httpServer    *http.Server
}

// New builds a server with all modules initialized but not yet serving
func New(cfg *config.Config, db *gorm.DB, eventBus events.EventBus, logger hclog.Logger) (*Server, error) {
	scannerModule, err := scannermodule.NewModule(db, eventBus, cfg.Scanner, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner module: %w", err)
	}
	if err := scannerModule.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize scanner module: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		db:            db,
		eventBus:      eventBus,
		logger:        logger,
		scannerModule: scannerModule,
	}

	router := s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// setupRouter configures the gin engine and registers module routes
func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	if s.cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	r.GET("/health", s.healthCheck)

	s.scannerModule.RegisterRoutes(r)

	return r
}

// ScannerModule exposes the scanner module, mainly for tests
func (s *Server) ScannerModule() *scannermodule.Module {
	return s.scannerModule
}

// Run serves HTTP until the listener fails or Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains HTTP connections and stops the scanner module
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown error", "error", err)
	}
	return s.scannerModule.Shutdown()
}

func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	busHealth := "ok"
	if err := s.eventBus.Health(); err != nil {
		busHealth = err.Error()
		status = http.StatusServiceUnavailable
	}

	dbHealth := "ok"
	if sqlDB, err := s.db.DB(); err != nil {
		dbHealth = err.Error()
		status = http.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbHealth = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"event_bus": busHealth,
		"database":  dbHealth,
	})
}

// requestLogger logs completed requests through the application logger
func (s *Server) requestLogger() gin.HandlerFunc {
	log := s.logger.Named("http")
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

// corsMiddleware allows cross-origin requests from local frontends
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
