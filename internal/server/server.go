// Package server exposes partitions over HTTP for the serve command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/stackcache/pkg/cache"
	"github.com/Sternrassler/stackcache/pkg/metrics"
	"github.com/Sternrassler/stackcache/pkg/pagination"
	"github.com/Sternrassler/stackcache/pkg/request"
	"github.com/Sternrassler/stackcache/pkg/syncer"
	"github.com/Sternrassler/stackcache/pkg/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Refresher is the part of syncer.Controller the server needs.
type Refresher interface {
	RefreshMode(ctx context.Context, mode syncer.Mode, key string, q request.Query) (syncer.Result, error)
	RefreshAnswers(ctx context.Context, mode syncer.Mode, questionID int, q request.Query) (syncer.Result, error)
	Mode() syncer.Mode
}

// QueryFunc builds the request query for a partition request.
type QueryFunc func(opts ...request.Option) (request.Query, error)

// Config configures a Server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves health, metrics and partition endpoints.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	refresher Refresher
	store     cache.Store
	query     QueryFunc
	logger    zerolog.Logger
}

// New creates a Server. query may be nil, in which case request.NewQuery
// is used.
func New(cfg Config, refresher Refresher, store cache.Store, query QueryFunc, logger zerolog.Logger) *Server {
	if query == nil {
		query = request.NewQuery
	}

	s := &Server{
		router:    chi.NewRouter(),
		refresher: refresher,
		store:     store,
		query:     query,
		logger:    logger.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestID)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Route("/partitions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{key}", s.handleGet)
		r.Delete("/{key}", s.handleDelete)
	})
	s.router.Get("/questions/{id}/answers", s.handleAnswers)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", ww.Header().Get(RequestIDHeader)).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   string(s.refresher.Mode()),
	})
}

// partitionResponse is the JSON body of GET /partitions/{key}.
type partitionResponse struct {
	Key            string            `json:"key"`
	Mode           syncer.Mode       `json:"mode"`
	Outcome        syncer.Outcome    `json:"outcome"`
	SourceWasCache bool              `json:"source_was_cache"`
	Count          int               `json:"count"`
	Pages          int               `json:"pages"`
	FetchError     string            `json:"fetch_error,omitempty"`
	CacheError     string            `json:"cache_error,omitempty"`
	Items          []json.RawMessage `json:"items"`
}

// handleGet refreshes one partition. Query parameters: mode
// (online|offline, default the controller's mode), tagged, pagesize.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	mode, q, ok := s.refreshParams(w, r)
	if !ok {
		return
	}
	res, err := s.refresher.RefreshMode(r.Context(), mode, chi.URLParam(r, "key"), q)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeResult(w, mode, res)
}

// handleAnswers refreshes the answers partition of one question. It takes
// the same query parameters as handleGet.
func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "question id must be an integer")
		return
	}
	mode, q, ok := s.refreshParams(w, r)
	if !ok {
		return
	}
	res, err := s.refresher.RefreshAnswers(r.Context(), mode, id, q)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeResult(w, mode, res)
}

// refreshParams reads mode, tagged and pagesize. It writes the error
// response itself and reports false when they are invalid.
func (s *Server) refreshParams(w http.ResponseWriter, r *http.Request) (syncer.Mode, request.Query, bool) {
	params := r.URL.Query()

	mode := s.refresher.Mode()
	if m := params.Get("mode"); m != "" {
		parsed, err := syncer.ParseMode(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return "", request.Query{}, false
		}
		mode = parsed
	}

	var opts []request.Option
	if tags := params.Get("tagged"); tags != "" {
		opts = append(opts, request.WithTagString(tags))
	}
	if ps := params.Get("pagesize"); ps != "" {
		size, err := strconv.Atoi(ps)
		if err != nil {
			writeError(w, http.StatusBadRequest, "pagesize must be an integer")
			return "", request.Query{}, false
		}
		opts = append(opts, request.WithPageSize(size))
	}
	q, err := s.query(opts...)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return "", request.Query{}, false
	}
	return mode, q, true
}

func writeResult(w http.ResponseWriter, mode syncer.Mode, res syncer.Result) {
	body := partitionResponse{
		Key:            res.Key,
		Mode:           mode,
		Outcome:        res.Outcome,
		SourceWasCache: res.SourceWasCache,
		Count:          len(res.Items),
		Pages:          res.Pages,
		Items:          res.Items,
	}
	if body.Items == nil {
		body.Items = []json.RawMessage{}
	}
	if res.FetchErr != nil {
		body.FetchError = res.FetchErr.Error()
	}
	if res.CacheErr != nil {
		body.CacheError = res.CacheErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.Keys(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if infos == nil {
		infos = []cache.PartitionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := cache.NormalizeKey(chi.URLParam(r, "key"))
	if err := s.store.Delete(r.Context(), key); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrInvalidKey),
		errors.Is(err, request.ErrMissingParameter),
		errors.Is(err, request.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrTransport),
		errors.Is(err, transport.ErrProtocol),
		errors.Is(err, pagination.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
