// Package api exposes the quote layout service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piwi3910/SlabQuote/internal/logging"
	"github.com/piwi3910/SlabQuote/internal/model"
	"github.com/piwi3910/SlabQuote/internal/scheduler"
)

// Quotes is the scheduler surface the handlers need.
type Quotes interface {
	Schedule(quoteID string, snap model.Snapshot) error
	Optimise(ctx context.Context, quoteID string, snap model.Snapshot) (model.OptimizationResult, error)
	Latest(ctx context.Context, quoteID string) (model.OptimizationResult, error)
	Status(ctx context.Context, quoteID string) (scheduler.Status, error)
}

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "slabquote",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status code.",
}, []string{"method", "route", "status"})

// Server wires the handlers into an echo instance.
type Server struct {
	echo     *echo.Echo
	quotes   Quotes
	defaults model.Defaults
	validate *validator.Validate
	logger   *log.Logger
}

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return model.WrapError(model.CodeInput, err, "invalid request")
	}
	return nil
}

// NewServer builds the HTTP surface. Change requests that omit run
// settings fall back to defaults.
func NewServer(quotes Quotes, defaults model.Defaults, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		echo:     echo.New(),
		quotes:   quotes,
		defaults: defaults,
		validate: validator.New(),
		logger:   logger.WithPrefix("api"),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: s.validate}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.requestLogger)

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api/v1/quotes/:id")
	g.POST("/optimise", s.optimise)
	g.POST("/schedule", s.schedule)
	g.GET("/layout", s.layout)
	g.GET("/layout.xlsx", s.layoutReport)
	g.GET("/status", s.status)

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		l := s.logger.With("request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(logging.WithLogger(req.Context(), l)))

		if err := next(c); err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		httpRequests.WithLabelValues(req.Method, c.Path(), strconv.Itoa(status)).Inc()
		l.Debug("request", "method", req.Method, "path", req.URL.Path, "status", status,
			"duration", time.Since(start).Round(time.Millisecond))
		return nil
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error code onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, scheduler.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch model.CodeOf(err) {
	case model.CodeInput:
		return http.StatusBadRequest
	case model.CodeTimeout:
		return http.StatusGatewayTimeout
	case model.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	body := errorBody{Code: "INTERNAL", Message: err.Error()}
	var me *model.Error
	if errors.As(err, &me) {
		body.Code = string(me.Code)
		body.Message = me.Message
		if me.Cause != nil && status == http.StatusBadRequest {
			body.Message += ": " + me.Cause.Error()
		}
	} else if status == http.StatusServiceUnavailable {
		body.Code = "UNAVAILABLE"
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request failed", "path", c.Request().URL.Path, "err", err)
	}
	return c.JSON(status, body)
}
