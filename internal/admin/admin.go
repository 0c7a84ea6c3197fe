// Package admin serves the optional HTTP admin endpoint: health, counters
// and the live configuration.
// Author: momentics <momentics@gmail.com>
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/control"
	"github.com/momentics/iocp-ws/server"
)

const shutdownTimeout = 5 * time.Second

// Source is the part of *server.Server the endpoint reports on.
type Source interface {
	Info() api.ServiceInfo
	Connections() int
	Metrics() *control.MetricsRegistry
	Config() server.Config
}

// Router returns the admin routes.
func Router(src Source) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": src.Connections(),
		})
	})
	r.GET("/info", func(c *gin.Context) {
		info := src.Info()
		c.JSON(http.StatusOK, gin.H{
			"name":       info.Name,
			"version":    info.Version,
			"started_at": info.StartedAt,
			"uptime":     time.Since(info.StartedAt).Round(time.Second).String(),
		})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Metrics().GetSnapshot())
	})
	r.GET("/stats/:name", func(c *gin.Context) {
		v, ok := src.Metrics().GetSnapshot()[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown metric"})
			return
		}
		c.JSON(http.StatusOK, gin.H{c.Param("name"): v})
	})
	r.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Config())
	})
	return r
}

// Serve runs the endpoint on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, src Source, log zerolog.Logger) error {
	srv := &http.Server{
		Handler:           Router(src),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin endpoint listening")

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ListenAndServe binds addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, src Source, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, src, log)
}
