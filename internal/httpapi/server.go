// Package httpapi is the intake server connectors push candidate batches to.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/auth"
	"horse.fit/dronewatch/internal/globaltime"
	"horse.fit/dronewatch/internal/metrics"
	"horse.fit/dronewatch/internal/pipeline"
)

const (
	defaultBodyLimit  = "8M"
	maxBatchSize      = 1000
	healthPingTimeout = 2 * time.Second
	serviceName       = "dronewatch"
)

// Ingester runs one batch of raw candidate payloads.
type Ingester interface {
	RunJSON(ctx context.Context, payloads []json.RawMessage) (pipeline.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type CacheStatus interface {
	Degraded() bool
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TokenHash is the bcrypt hash of the intake token. Empty disables auth.
	TokenHash string
}

type Deps struct {
	Ingester Ingester
	Database Pinger
	Cache    CacheStatus
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Server{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "httpapi").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			TokenHash:       strings.TrimSpace(opts.TokenHash),
		},
	}
}

// Handler returns the router without a listener.
func (s *Server) Handler() http.Handler {
	return s.router()
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(defaultBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/candidates", s.handleCandidates, s.requireToken)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Ingester == nil {
		return fmt.Errorf("server is not initialized")
	}
	if s.opts.TokenHash == "" {
		s.logger.Warn().Msg("INTAKE_TOKEN_HASH is empty, candidate intake is unauthenticated")
	}

	e := s.router()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("dronewatch intake server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("dronewatch intake server stopped")
	return nil
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.TokenHash == "" {
			return next(c)
		}
		token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok || !auth.VerifyToken(token, s.opts.TokenHash) {
			return failUnauthorized(c)
		}
		return next(c)
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service":  serviceName,
		"time":     globaltime.UTC(),
		"database": "ok",
		"cache":    "ok",
	}
	if s.deps.Cache != nil && s.deps.Cache.Degraded() {
		data["cache"] = "degraded"
	}

	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.deps.Database.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health database ping failed")
			data["database"] = "unavailable"
			return fail(c, http.StatusServiceUnavailable, "Database unavailable", data)
		}
	}
	return success(c, data)
}

func (s *Server) handleCandidates(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	payloads, err := decodeBatch(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	result, err := s.deps.Ingester.RunJSON(c.Request().Context(), payloads)
	if err != nil {
		s.logger.Error().Err(err).Int("payloads", len(payloads)).Msg("candidate batch failed")
		return internalError(c, "Failed to process candidate batch")
	}
	return success(c, result)
}

// decodeBatch accepts a JSON array of candidates or a single candidate object.
func decodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("request body is empty")
	}

	switch trimmed[0] {
	case '[':
		var payloads []json.RawMessage
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		if len(payloads) == 0 {
			return nil, errors.New("batch is empty")
		}
		if len(payloads) > maxBatchSize {
			return nil, fmt.Errorf("batch of %d exceeds the limit of %d", len(payloads), maxBatchSize)
		}
		return payloads, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, errors.New("invalid JSON object")
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, errors.New("expected a JSON array or object")
	}
}
