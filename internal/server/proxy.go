package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/twmb/franz-go/pkg/sr"
)

// SchemaRegistry is the read-only part of the schema registry client.
type SchemaRegistry interface {
	Subjects(ctx context.Context) ([]string, error)
	SubjectVersions(ctx context.Context, subject string) ([]int, error)
	SchemaByVersion(ctx context.Context, subject string, version int) (sr.SubjectSchema, error)
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.registry.Subjects(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("list subjects: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) handleSubjectVersions(w http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]
	versions, err := s.registry.SubjectVersions(r.Context(), subject)
	if err != nil {
		writeError(w, r, fmt.Errorf("list versions of %s: %w", subject, err))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subject := vars["subject"]

	// "latest" is accepted by the registry as version -1.
	version := -1
	if v := vars["version"]; v != "latest" {
		n, err := parseInt32("version", v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		version = int(n)
	}

	schema, err := s.registry.SchemaByVersion(r.Context(), subject, version)
	if err != nil {
		writeError(w, r, fmt.Errorf("schema %s version %s: %w", subject, vars["version"], err))
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

const connectPrefix = "/api/kafka-connect"

// newConnectProxy forwards /api/kafka-connect/connectors/... to the Kafka
// Connect REST API at rawURL.
func newConnectProxy(rawURL string) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse kafka-connect url %q: %w", rawURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("kafka-connect url %q must include scheme and host", rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + strings.TrimPrefix(pr.In.URL.Path, connectPrefix)
			pr.Out.URL.RawPath = ""
			pr.Out.Header.Del("Accept-Encoding")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("kafka-connect proxy error", "path", r.URL.Path, "error", err)
			writeJSONError(w, http.StatusBadGateway, "kafka-connect: "+err.Error())
		},
	}, nil
}
