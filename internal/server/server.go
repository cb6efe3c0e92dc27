// ABOUTME: Public HTTP API for address search and retrieval
// ABOUTME: Hypermedia responses: discovery links, pagination rels, ETags

// Package server exposes the address API and the observability HTTP
// server. The API is hypermedia-flavored: a discovery document at the
// root, RFC 6570 templates for parameterized operations, pagination link
// relations, and ETag-based conditional reads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/internal/metrics"
	"github.com/nainya/addressd/pkg/breaker"
	"github.com/nainya/addressd/pkg/index"
	"github.com/nainya/addressd/pkg/search"
)

// URI templates for the parameterized operations. Validated at init so a
// bad template is a startup failure, not a runtime surprise.
var (
	tmplAddresses = uritemplate.MustNew("/addresses{?q,p}")
	tmplAddress   = uritemplate.MustNew("/addresses/{pid}")
)

// Config tunes the API server.
type Config struct {
	Port     int
	PageSize int // default page size advertised in pagination links
}

// Server is the public API server.
type Server struct {
	http    *http.Server
	search  *search.Service
	store   index.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	cfg     Config
}

func New(cfg Config, svc *search.Service, store index.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		search:  svc,
		store:   store,
		log:     log.Component("api"),
		metrics: m,
		cfg:     cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.instrument("/", s.handleRoot))
	mux.HandleFunc("GET /addresses", s.instrument("/addresses", s.handleSearch))
	mux.HandleFunc("GET /addresses/{pid}", s.instrument("/addresses/{pid}", s.handleAddress))

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("api server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("api server shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// statusRecorder captures the written status for logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request logging and metrics under a
// stable route label.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.metrics != nil {
			s.metrics.HTTPRequestsInFlight.Inc()
			defer s.metrics.HTTPRequestsInFlight.Dec()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status), elapsed)
		}
		s.log.LogHTTPRequest(r.Method, r.URL.Path, rec.status, elapsed)
	}
}

// link is one hypermedia link relation.
type link struct {
	Href      string `json:"href"`
	Templated bool   `json:"templated,omitempty"`
}

// handleRoot serves the discovery document: direct links for operations
// needing no parameters, URI templates for the rest.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "addressd",
		"links": map[string]link{
			"self":      {Href: "/"},
			"addresses": {Href: tmplAddresses.Raw(), Templated: true},
			"address":   {Href: tmplAddress.Raw(), Templated: true},
		},
	})
}

// suggestion is one search result as served to clients.
type suggestion struct {
	SLA   string          `json:"sla"`
	SSLA  string          `json:"ssla,omitempty"`
	Rank  float64         `json:"rank"`
	Links map[string]link `json:"links"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	page := 1
	if p := r.URL.Query().Get("p"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			page = n
		}
	}

	res, err := s.search.Search(r.Context(), q, page, s.cfg.PageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := make([]suggestion, 0, len(res.Hits))
	for _, h := range res.Hits {
		href, terr := tmplAddress.Expand(uritemplate.Values{
			"pid": uritemplate.String(h.Doc.PID),
		})
		if terr != nil {
			s.writeError(w, terr)
			return
		}
		body = append(body, suggestion{
			SLA:   h.Doc.SLA,
			SSLA:  h.Doc.SSLA,
			Rank:  h.Rank,
			Links: map[string]link{"self": {Href: href}},
		})
	}

	writePaginationLinks(w, res)
	w.Header().Set("X-Total-Count", strconv.FormatUint(res.Total, 10))
	writeJSON(w, http.StatusOK, body)
}

// writePaginationLinks emits RFC 8288 Link headers for the result page.
func writePaginationLinks(w http.ResponseWriter, res *search.Result) {
	last := int((res.Total + uint64(res.PageSize) - 1) / uint64(res.PageSize))
	if last < 1 {
		last = 1
	}

	add := func(rel string, page int) {
		w.Header().Add("Link", fmt.Sprintf("</addresses?q=%s&p=%d>; rel=%q",
			strings.ReplaceAll(res.Query, " ", "+"), page, rel))
	}
	add("self", res.Page)
	add("first", 1)
	if res.Page > 1 {
		add("prev", res.Page-1)
	}
	if res.Page < last {
		add("next", res.Page+1)
	}
	add("last", last)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	doc, err := s.search.Lookup(r.Context(), pid)
	if err != nil {
		s.writeError(w, err)
		return
	}

	etag := `"` + doc.DocumentHash + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Add("Link", fmt.Sprintf("<%s>; rel=%q", "/addresses/"+pid, "self"))
	writeJSON(w, http.StatusOK, doc)
}

// etagMatches implements the weak subset of If-None-Match we serve: a
// comma-separated list of quoted tags, or *.
func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}

// errorDocument is the stable error shape for every failure response.
type errorDocument struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// writeError maps domain errors onto the HTTP status taxonomy. Clients
// always get a well-formed document, never an engine-internal error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var oe *breaker.OpenError

	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		status, msg = http.StatusBadRequest, "query must not be empty"
	case errors.Is(err, index.ErrNotFound):
		status, msg = http.StatusNotFound, "address not found"
	case errors.As(err, &oe):
		status, msg = http.StatusServiceUnavailable, "search temporarily unavailable"
		retry := int(oe.RetryAfter.Seconds() + 0.5)
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		if s.metrics != nil {
			s.metrics.BreakerRejectsTotal.Inc()
		}
	case errors.Is(err, index.ErrNotReady):
		status, msg = http.StatusServiceUnavailable, "index not ready"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "search timed out"
	}

	if status >= 500 {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorDocument{Status: status, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding failures after the status line cannot be reported to the
	// client anymore.
	json.NewEncoder(w).Encode(body)
}
