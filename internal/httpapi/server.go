package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatrelay/internal/config"
	"chatrelay/internal/crypto"
	"chatrelay/internal/guard"
	"chatrelay/internal/metrics"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/storage"
)

// Server is the HTTP surface: channel CRUD, the webhook ingress, health and
// metrics endpoints.
type Server struct {
	echo    *echo.Echo
	addr    string
	cfg     config.ServerConfig
	store   *storage.Store
	pipe    *pipeline.Pipeline
	notify  pipeline.ChannelNotifier
	crypto  *crypto.Manager
	limiter *guard.RateLimiter
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	Server   config.ServerConfig
	Store    *storage.Store
	Pipeline *pipeline.Pipeline
	Notifier pipeline.ChannelNotifier
	Crypto   *crypto.Manager
	Limiter  *guard.RateLimiter
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}

	s := &Server{
		addr:    cfg.Server.ListenAddr,
		cfg:     cfg.Server,
		store:   cfg.Store,
		pipe:    cfg.Pipeline,
		notify:  cfg.Notifier,
		crypto:  cfg.Crypto,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
		metrics: m,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(cfg.Logger))

	e.GET(cfg.Server.HealthPath, s.health)
	e.GET(cfg.Server.MetricsPath, echo.WrapHandler(promhttp.Handler()))

	e.POST("/channels", s.createChannel)
	e.GET("/channels", s.listChannels)
	e.GET("/channels/:id", s.getChannel)
	e.PUT("/channels/:id", s.updateChannel)
	e.DELETE("/channels/:id", s.deleteChannel)
	e.GET("/channels/:id/dialogue", s.getChannelDialogue)

	wh := e.Group("/webhook")
	wh.POST("/new_message", s.newMessage, bearerAuth(cfg.Server.WebhookAuthHeader))
	wh.POST("/send_message", s.sendMessage, bearerAuth(cfg.Server.ChannelAuthHeader))

	s.echo = e
	return s
}

// Start blocks until the listener stops.
func (s *Server) Start() error {
	err := s.echo.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = logger.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("http request")
			return nil
		},
	})
}
