// Package gateway exposes the order workflow over HTTP: POST /order starts an
// execution, GET /order and GET /invoice read directly from storage.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/petrijr/orderflow/pkg/api"
)

const defaultMaxBodyBytes = 1 << 20

// Engine is the part of the workflow engine the gateway calls.
type Engine interface {
	api.Starter
	api.StatusReader
}

// Config wires the gateway to the engine and the read executors.
type Config struct {
	Engine Engine

	// Definition is started by POST /order.
	Definition string

	ReadItem   api.TaskExecutor
	ReadObject api.TaskExecutor

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	Logger       *slog.Logger
	MaxBodyBytes int64
}

// Server holds the HTTP handlers.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the routed, request-logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /order", s.handlePlaceOrder)
	mux.HandleFunc("GET /order", s.directRead(s.cfg.ReadItem))
	mux.HandleFunc("GET /invoice", s.directRead(s.cfg.ReadObject))
	mux.HandleFunc("GET /executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /executions", s.handleListExecutions)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	return s.logRequests(mux)
}

// handlePlaceOrder: POST /order
//
// The body becomes the initial payload verbatim. The response does not wait
// for the workflow:
//
//	200 OK
//	{"done": true}
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.cfg.Engine.Start(r.Context(), s.cfg.Definition, body)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "start execution failed", slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "could not accept order")
		return
	}

	w.Header().Set("Location", "/executions/"+id)
	writeJSON(w, http.StatusOK, map[string]bool{"done": true})
}

// directRead invokes exec synchronously with the query parameters as a flat
// JSON object and returns its output.
func (s *Server) directRead(exec api.TaskExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if exec == nil {
			writeError(w, http.StatusNotImplemented, "no reader configured")
			return
		}

		params := make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
		payload, err := json.Marshal(params)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid query")
			return
		}

		out, err := exec.Invoke(r.Context(), payload)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.ErrorContext(r.Context(), "direct read failed",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
			}
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.cfg.Engine.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	opts := api.ListOptions{
		DefinitionName: r.URL.Query().Get("definition"),
		Status:         api.Status(r.URL.Query().Get("status")),
	}
	switch opts.Status {
	case "", api.StatusRunning, api.StatusSucceeded, api.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(opts.Status))
		return
	}

	execs, err := s.cfg.Engine.ListExecutions(r.Context(), opts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if execs == nil {
		execs = []*api.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

// statusFor maps read errors to HTTP statuses; anything unexpected is a
// failure of the backing store.
func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugContext(r.Context(), "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
