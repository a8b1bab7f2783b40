// Package server exposes daemon health, status and metrics over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opportunist/internal/logger"
	"opportunist/internal/pipeline"
)

const readHeaderTimeout = 10 * time.Second

// Monitor is the read-only view of the pipeline served over HTTP.
type Monitor interface {
	Health(ctx context.Context) *pipeline.HealthReport
	Status(ctx context.Context) (*pipeline.StatusReport, error)
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	log    logger.Logger
}

func New(addr string, monitor Monitor, reg *prometheus.Registry, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		rep := monitor.Health(c.Request.Context())
		code := http.StatusOK
		if rep.Status == pipeline.Unhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, rep)
	})
	engine.GET("/status", func(c *gin.Context) {
		st, err := monitor.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})
	if reg != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	return &Server{
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: readHeaderTimeout},
		log:    log.With(logger.String("component", "server")),
	}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("HTTP server listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", logger.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
