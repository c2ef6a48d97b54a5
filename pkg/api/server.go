// Package api serves linkdex reports over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/storacha/linkdex/pkg/pipeline"
	"github.com/storacha/linkdex/pkg/reporter"
)

var log = logging.Logger("pkg/api")

// ErrRequestTimeout is the cause of a request context ending at its deadline.
var ErrRequestTimeout = errors.New("request timed out")

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultCacheSize      = 1024
)

type Server struct {
	echo      *echo.Echo
	reporters []reporter.Reporter
	siblings  *reporter.Siblings
	pipeline  *pipeline.Pipeline
	cache     *lru.Cache[string, reporter.Report]
	timeout   time.Duration
	cacheSize int
}

type Option func(*Server)

// WithReporters sets the reporters consulted, in order, for CID lookups.
func WithReporters(rs ...reporter.Reporter) Option {
	return func(s *Server) {
		s.reporters = rs
	}
}

// WithSiblings enables lookups by archive key.
func WithSiblings(sib *reporter.Siblings) Option {
	return func(s *Server) {
		s.siblings = sib
	}
}

// WithPipeline enables the archive notification endpoint.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(s *Server) {
		s.pipeline = p
	}
}

// WithRequestTimeout bounds how long any request may run.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCacheSize sets how many Complete reports are cached. Zero disables
// the cache.
func WithCacheSize(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.cacheSize = n
		}
	}
}

func New(opts ...Option) (*Server, error) {
	s := &Server{timeout: DefaultRequestTimeout, cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, reporter.Report](s.cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "linkdex-api")
	}))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(log))
	e.Use(middleware.Recover())
	e.Use(deadline(s.timeout))

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/cid/:cid", s.getReport)
	e.GET("/cid/:cid/structure", s.getStructure)
	e.GET("/", s.getReportForKey)
	e.POST("/events", s.postEvents)

	s.echo = e
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// deadline runs each request under a context that expires after d.
func deadline(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeoutCause(c.Request().Context(), d, ErrRequestTimeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func requestLogger(l *logging.ZapEventLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				l.Warnw("request failed", append(kv, "error", v.Error)...)
				return nil
			}
			l.Infow("request", kv...)
			return nil
		},
	})
}
