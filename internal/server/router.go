// Package server exposes health, pool status and prometheus metrics over
// HTTP while the controller runs.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"genepool/internal/metrics"
	"genepool/internal/model"
	"genepool/internal/pool"
)

const shutdownTimeout = 5 * time.Second

type StatusFunc func(ctx context.Context) (pool.Status, error)

func NewRouter(status StatusFunc, collector *metrics.Collector) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "genepoolctl"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if _, err := status(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/status", func(c *gin.Context) {
		s, err := status(c.Request.Context())
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, model.ErrTransport) {
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, gin.H{"error": err.Error(), "kind": model.ErrorKind(err)})
			return
		}
		c.JSON(http.StatusOK, s)
	})
	if collector != nil {
		r.GET("/metrics", gin.WrapH(collector.Handler()))
	}
	return r
}

// Serve runs handler on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("serving http", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
