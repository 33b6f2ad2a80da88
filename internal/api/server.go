// Package api exposes the engine over HTTP using gin. Handlers stay
// thin: parse, call the gate, map errors to status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paymnee/paygate/internal/gate"
)

// Server is the HTTP front end.
type Server struct {
	gate *gate.Gate
	log  *slog.Logger
	http *http.Server
}

// NewServer builds the router and wires all routes.
func NewServer(g *gate.Gate, port int, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	registerValidators()

	s := &Server{gate: g, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/payments", s.submitPayment)
		apiGroup.GET("/payments/access", s.checkAccess)
		apiGroup.GET("/payments/history", s.paymentHistory)
		apiGroup.GET("/payments/:txHash", s.getPayment)

		apiGroup.POST("/scan", s.scanRecipient)
		apiGroup.GET("/scan/failed", s.listFailedChunks)
		apiGroup.POST("/scan/failed/:id/retry", s.retryFailedChunk)

		apiGroup.POST("/pages", s.createPage)
		apiGroup.GET("/pages", s.listPages)
		apiGroup.GET("/pages/:id", s.getPage)
		apiGroup.GET("/pages/:id/items", s.listItems)

		apiGroup.POST("/items", s.createItem)
		apiGroup.GET("/items/:id", s.getItem)
		apiGroup.PUT("/items/:id", s.updateItem)
		apiGroup.GET("/items/:id/stats", s.itemStats)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
