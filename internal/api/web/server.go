// Package web отдаёт браузерному клиенту API сессий сканирования.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "pest-scan/internal/application"
)

// Server HTTP-сервер сессий сканирования
type Server struct {
	echo   *echo.Echo
	scans  *app.ScanService
	intake *app.IntakeService
	logger *slog.Logger
}

// NewServer создаёт сервер и регистрирует маршруты
func NewServer(scans *app.ScanService, intake *app.IntakeService, registry *prometheus.Registry, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		scans:  scans,
		intake: intake,
		logger: logger.With("component", "web"),
	}

	e.Use(middleware.Recover())
	e.Use(newRequestLogger(s.logger))
	e.Use(middleware.BodyLimit("50M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/health", s.handleHealth)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/sessions")
	api.POST("", s.handleCreateSession)
	api.GET("/:id", s.handleGetSession)
	api.DELETE("/:id", s.handleDeleteSession)
	api.POST("/:id/image", s.handleSubmitImage)
	api.DELETE("/:id/image", s.handleClearImage)
	api.POST("/:id/analysis", s.handleStartAnalysis)
	api.POST("/:id/new-scan", s.handleNewScan)

	e.GET("/sessions/:id", s.handleResultPage)
	e.GET("/previews/:handle", s.handlePreview)

	return s
}

// Handler нужен тестам и встраиванию в другой сервер
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start слушает addr до Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info("server starting", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func newRequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), slog.LevelDebug, "request", attrs...)
			return nil
		},
	})
}
