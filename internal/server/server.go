// Package server exposes the explorer over a read-only JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/sr"

	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/metrics"
)

// Options configures the optional parts of the API.
type Options struct {
	// Addr is the listen address, for example ":9999".
	Addr string
	// SchemaRegistry backs the schema-registry routes. Nil disables them.
	SchemaRegistry SchemaRegistry
	// ConnectURL is the Kafka Connect REST endpoint. Empty disables the
	// kafka-connect routes.
	ConnectURL string
	// Gatherer is served at /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

// Server routes API requests to an explorer.
type Server struct {
	explorer *explorer.Explorer
	registry SchemaRegistry
	metrics  *metrics.Metrics

	router *mux.Router
	http   *http.Server
}

// New builds the router for e.
func New(e *explorer.Explorer, opts Options) (*Server, error) {
	s := &Server{
		explorer: e,
		registry: opts.SchemaRegistry,
		metrics:  opts.Metrics,
		router:   mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Methods(http.MethodGet).Subrouter()
	api.HandleFunc("/topics", s.handleTopics)
	api.HandleFunc("/topic/{topic}", s.handleTopic)
	api.HandleFunc("/topic/{topic}/offsets", s.handleTopicOffsets)
	api.HandleFunc("/topic/{topic}/consumer_groups", s.handleTopicGroups)
	api.HandleFunc("/topic/{topic}/config", s.handleTopicConfig)
	api.HandleFunc("/broker/{broker}/config", s.handleBrokerConfig)
	api.HandleFunc("/cluster", s.handleCluster)
	api.HandleFunc("/groups", s.handleGroups)
	api.HandleFunc("/members/{group}", s.handleMembers)
	api.HandleFunc("/decoders", s.handleDecoders)
	api.HandleFunc("/offset/{topic}/{partition}/{timestamp}", s.handleOffsetForTimestamp)
	api.HandleFunc("/offsets/{topic}/{timestamp}", s.handleOffsetsForTimestamp)
	api.HandleFunc("/messages/{topic}/{partition}", s.handleMessages)

	if s.registry != nil {
		api.HandleFunc("/schema-registry/subjects", s.handleSubjects)
		api.HandleFunc("/schema-registry/versions/{subject}", s.handleSubjectVersions)
		api.HandleFunc("/schema-registry/schema/{subject}/{version}", s.handleSchema)
	}

	if opts.ConnectURL != "" {
		proxy, err := newConnectProxy(opts.ConnectURL)
		if err != nil {
			return nil, err
		}
		api.PathPrefix("/kafka-connect/connectors").Handler(proxy)
	}

	if opts.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
	})
	s.router.Use(s.instrument)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the compressed API handler.
func (s *Server) Handler() http.Handler {
	return gziphandler.GzipHandler(s.router)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("http server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RequestDuration.
				WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
				Observe(elapsed.Seconds())
		}
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err to a status: 404 for unknown resources, 400 for bad
// parameters and 500 for everything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var re *sr.ResponseError
	switch {
	case errors.Is(err, explorer.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, explorer.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.As(err, &re) && re.StatusCode >= 400 && re.StatusCode < 500:
		status = re.StatusCode
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSONError(w, status, err.Error())
}
