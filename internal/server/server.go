// Package server exposes a wms.Service over HTTP.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/auth"
	"github.com/delta10/wms-server/internal/logs"
	"github.com/delta10/wms-server/internal/telemetry"
	"github.com/delta10/wms-server/internal/utils"
	"github.com/delta10/wms-server/internal/wms"
)

const requestIDHeader = "X-Request-Id"

type Options struct {
	// BaseURL is advertised as the online resource. When empty it is derived
	// from each request.
	BaseURL string
	// MaxAge sets Cache-Control on WMS responses when positive.
	MaxAge int
	// Auth guards the WMS routes when set.
	Auth *auth.Authenticator
	// Telemetry adds request metrics and, when it has a handler, the scrape
	// endpoint at MetricsPath.
	Telemetry   *telemetry.Provider
	MetricsPath string
	// AccessLog receives a copy of every access log line when set.
	AccessLog *logs.Shipper
}

type Server struct {
	service *wms.Service
	opts    Options
	logger  *zap.Logger
	router  *mux.Router
}

func New(service *wms.Service, opts Options, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		opts:    opts,
		logger:  logger,
		router:  mux.NewRouter(),
	}

	s.router.Use(s.accessLog)
	if opts.Telemetry != nil {
		mw, err := telemetry.MetricsMiddleware(opts.Telemetry.MeterProvider)
		if err != nil {
			return nil, err
		}
		s.router.Use(mw)

		if opts.Telemetry.Handler != nil {
			path := opts.MetricsPath
			if path == "" {
				path = "/metrics"
			}
			s.router.Handle(path, opts.Telemetry.Handler).Methods(http.MethodGet)
		}
	}

	var wmsHandler http.Handler = http.HandlerFunc(s.serveWMS)
	if opts.Auth != nil {
		wmsHandler = opts.Auth.Middleware(wmsHandler)
	}
	s.router.Handle("/", wmsHandler).Methods(http.MethodGet, http.MethodHead)
	s.router.Handle("/wms", wmsHandler).Methods(http.MethodGet, http.MethodHead)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		auth.WriteError(w, http.StatusMethodNotAllowed, "request method is not allowed")
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		auth.WriteError(w, http.StatusNotFound, "not found")
	})

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps s in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        s,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// serveWMS always answers 200: failures are exception documents.
func (s *Server) serveWMS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if utils.QueryParamsContainMultipleKeys(query) {
		s.logger.Debug("query contains repeated parameters, first value wins", zap.String("query", r.URL.RawQuery))
	}

	resp := s.service.Handle(r.Context(), wms.Call{
		Params:         utils.FirstValues(query),
		UserAgent:      r.UserAgent(),
		OnlineResource: s.onlineResource(r),
	})

	h := w.Header()
	h.Set("Content-Type", resp.ContentType())
	h.Set("Content-Length", strconv.Itoa(resp.Len()))
	if s.opts.MaxAge > 0 {
		h.Set("Cache-Control", "max-age="+strconv.Itoa(s.opts.MaxAge))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := resp.WriteTo(w); err != nil {
		s.logger.Debug("could not write response", zap.Error(err))
	}
}

// onlineResource is the configured base URL or scheme://host/path? of r.
func (s *Server) onlineResource(r *http.Request) string {
	if s.opts.BaseURL != "" {
		return s.opts.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path + "?"
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		m := httpsnoop.CaptureMetrics(next, w, r)

		ip := utils.ReadUserIP(r)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("operation", telemetry.Operation(r)),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("duration", m.Duration),
			zap.String("ip", ip),
			zap.String("user_agent", r.UserAgent()))

		if s.opts.AccessLog != nil {
			s.opts.AccessLog.Send(map[string]string{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"query":      r.URL.RawQuery,
				"status":     strconv.Itoa(m.Code),
				"bytes":      strconv.FormatInt(m.Written, 10),
				"duration":   m.Duration.String(),
				"ip":         ip,
				"user_agent": strings.TrimSpace(r.UserAgent()),
			})
		}
	})
}
