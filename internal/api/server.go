package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/config"
	"github.com/JakeFAU/fedisync/internal/metrics"
	"github.com/JakeFAU/fedisync/internal/notify"
	"github.com/JakeFAU/fedisync/internal/publisher/memory"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/status"
)

const (
	requestTimeout = 30 * time.Second
	storeTimeout   = 3 * time.Second
)

// StatusSource exposes the round state and the cancellation controls.
type StatusSource interface {
	Round() status.Round
	Scans() []status.Scan
	StopRound()
	StopScan(originURL string) bool
}

// NotificationFeed is the operator notification feed.
type NotificationFeed interface {
	List(ctx context.Context) []notify.Notification
	Delete(ctx context.Context, localID, externalID int64)
	DeleteAll(ctx context.Context)
	Subscribe(ctx context.Context, fn func(notify.Notification))
}

// EventSource lists recently published batch events, newest first.
type EventSource interface {
	Recent() []memory.PublishedMessage
}

// Option customizes a Server.
type Option func(*Server)

// WithReadiness installs a check consulted by /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) {
		s.ready = check
	}
}

// WithEvents serves /v1/events from source.
func WithEvents(source EventSource) Option {
	return func(s *Server) {
		s.events = source
	}
}

// Server wires HTTP handlers to the registry, notification feed and
// settings store.
type Server struct {
	router        chi.Router
	status        StatusSource
	notifications NotificationFeed
	events        EventSource
	settings      settings.Store
	ready         func(context.Context) error
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	statusSource StatusSource,
	notifications NotificationFeed,
	store settings.Store,
	auth config.AuthConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status:        statusSource,
		notifications: notifications,
		settings:      store,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Get("/notifications/stream", s.streamNotifications)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/status", s.getStatus)
			r.Post("/round/stop", s.stopRound)
			r.Post("/communities/stop", s.stopCommunity)
			r.Get("/enabled", s.getEnabled)
			r.Put("/enabled", s.putEnabled)
			r.Get("/settings", s.listSettings)
			r.Put("/settings/{name}", s.putSetting)
			r.Get("/notifications", s.listNotifications)
			r.Delete("/notifications", s.deleteNotifications)
			r.Delete("/notifications/{id}", s.deleteNotification)
			if s.events != nil {
				r.Get("/events", s.listEvents)
			}
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		rw.status = http.StatusSwitchingProtocols
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
