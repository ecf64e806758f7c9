package httpapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mw "galleria/internal/middleware"
	httprouters "galleria/internal/transport/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// HealthChecker is a dependency reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	log      *slog.Logger
	e        *echo.Echo
	routers  *httprouters.Routers
	checks   map[string]HealthChecker
	host     string
	port     string
	mediaDir string
}

// New builds the echo server. A non-empty mediaDir is served under /media.
func New(log *slog.Logger, host, port, mediaDir string, routers *httprouters.Routers, checks map[string]HealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	validate := validator.New()
	e.Validator = &CustomValidator{validator: validate}

	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(mw.PrometheusMetrics)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("URI", v.URI),
				slog.Int("status", v.Status),
				slog.String("remote ip", v.RemoteIP),
				slog.Duration("latency", v.Latency),
			)

			return nil
		},
	}))

	return &Server{
		log:      log,
		e:        e,
		routers:  routers,
		checks:   checks,
		host:     host,
		port:     port,
		mediaDir: mediaDir,
	}
}

func (s *Server) MustRun() {
	const op = "http.Server.MustRun"

	s.log.Info(op, slog.String("Start", "server"), slog.String("addr", s.addr()))

	if err := s.Start(); err != nil {
		panic(err)
	}
}

func (s *Server) Start() error {
	const op = "http.Server.Start"

	if err := s.e.Start(s.addr()); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s server stopped: %w", op, err)
	}

	return nil
}

func (s *Server) Stop() error {
	const op = "http.Server.Stop"

	optCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	s.log.Info("stopping", op, "http server")

	if err := s.e.Shutdown(optCtx); err != nil {
		return fmt.Errorf("%s could not shutdown server gracefuly: %w", op, err)
	}

	return nil
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

func (s *Server) addr() string {
	return fmt.Sprintf("%s:%s", s.host, s.port)
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		s.log.Warn("health check failed", slog.Any("failed", failed))
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) BuildRouters() {
	s.e.GET("/health", s.health)
	s.e.GET("/metrics", echoprometheus.NewHandler())

	if s.mediaDir != "" {
		s.e.Static("/media", s.mediaDir)
	}

	api := s.e.Group("/api/v1")
	{
		galleries := api.Group("/galleries")
		{
			galleries.POST("", s.routers.CreateGallery)
			galleries.GET("", s.routers.ListGalleries)
			galleries.GET("/search", s.routers.SearchGalleries)
			galleries.GET("/slug/:slug", s.routers.GetGalleryBySlug)
			galleries.GET("/:id", s.routers.GetGallery)
			galleries.PATCH("/:id", s.routers.UpdateGallery)
			galleries.DELETE("/:id", s.routers.RemoveGallery)
			galleries.GET("/:id/previews", s.routers.GalleryPreviews)
			galleries.POST("/:id/ratings", s.routers.RateGallery)
			galleries.POST("/:id/images", s.routers.UploadImage)
			galleries.GET("/:id/images", s.routers.ListImages)
		}

		api.POST("/images/:id/thumbnail", s.routers.RegenerateThumbnail)

		updates := api.Group("/updates")
		{
			updates.POST("", s.routers.EnqueueUpdate)
			updates.POST("/dispatch", s.routers.DispatchPending)
		}
	}
}
