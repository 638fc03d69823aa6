package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratumai/internal/core"
)

const requestIDHeader = "X-Request-ID"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: Master key for authentication
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	// MetricsHandler serves the metrics endpoint. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
	BodySizeLimit  string // echo size notation (default: 10M)
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps)

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	e.Use(RequestIDMiddleware())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	bodySizeLimit := "10M"
	if cfg.BodySizeLimit != "" {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		metrics := cfg.MetricsHandler
		if metrics == nil {
			metrics = promhttp.Handler()
		}
		e.GET(metricsPath, echo.WrapHandler(metrics))
	}

	v1 := e.Group("/v1")
	v1.POST("/chat/completions", handler.ChatCompletion)
	v1.POST("/select", handler.Select)
	v1.GET("/backends", handler.ListBackends)
	v1.POST("/catalog/reload", handler.ReloadCatalog)
	v1.GET("/providers", handler.ListProviders)
	v1.GET("/cache/stats", handler.CacheStats)
	v1.DELETE("/cache", handler.ClearCache)
	v1.GET("/traces", handler.RecentTraces)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// RequestIDMiddleware propagates X-Request-ID, generating a UUID when the
// client sends none, and stores it on the request context.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", core.GetRequestID(c.Request().Context()),
			}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
