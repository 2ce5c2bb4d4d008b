// Package http exposes the background removal API with huma on a gin router.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humagin"
	"github.com/gin-gonic/gin"

	"github.com/ekisa-team/clearbg/internal/config"
	"github.com/ekisa-team/clearbg/internal/service"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "background-removal-api"

// ConfigSource returns the live configuration snapshot.
type ConfigSource func() *config.Config

// Server is the HTTP API server.
type Server struct {
	engine *gin.Engine
	api    huma.API
	http   *http.Server
}

// NewServer builds the router and registers every operation.
func NewServer(svc *service.Remover, cfg ConfigSource, version string) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog(), bodyLimit(cfg))

	humaCfg := huma.DefaultConfig("Background Removal API", version)
	humaCfg.Info.Description = "Removes image backgrounds with pluggable models."
	api := humagin.New(engine, humaCfg)

	NewHealthHandler(api, svc)
	NewRemovalHandler(api, svc, cfg)

	return &Server{
		engine: engine,
		api:    api,
		http: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// API returns the huma API, used to export the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// Serve serves HTTP on lis until Shutdown. It returns nil at once if Shutdown already ran.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
