// Package dashboard serves the browser dashboard: a table selector, a column
// selector and a choropleth map, backed by a small JSON API.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"time"

	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/export"
	"github.com/pfrederiksen/geodash/internal/fetch"
	"github.com/pfrederiksen/geodash/internal/geo"
	"github.com/pfrederiksen/geodash/internal/logger"
	"github.com/pfrederiksen/geodash/internal/projection"
	"github.com/pfrederiksen/geodash/internal/table"
)

//go:embed static/index.html
var staticFS embed.FS

// Service is what the dashboard needs from the application.
type Service interface {
	Catalog(ctx context.Context) (*catalog.Catalog, error)
	Reload(ctx context.Context) (*catalog.Catalog, *catalog.DiffResult, error)
	Table(ctx context.Context, unique string) (*table.Normalized, error)
	Projection(ctx context.Context, unique, column string) (*projection.Dataset, error)
	Geo() (*geo.Collection, error)
}

// Options controls the map view.
type Options struct {
	Title      string
	Center     [2]float64
	Zoom       float64
	ColorScale string
}

// Server is the dashboard HTTP server.
type Server struct {
	svc     Service
	opts    Options
	log     *logger.Logger
	metrics *logger.Metrics
	page    *template.Template
}

// New creates a Server.
func New(svc Service, opts Options, log *logger.Logger, metrics *logger.Metrics) (*Server, error) {
	page, err := template.ParseFS(staticFS, "static/index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard template: %w", err)
	}
	if opts.Title == "" {
		opts.Title = "第六次全国人口普查"
	}
	if opts.ColorScale == "" {
		opts.ColorScale = "Viridis"
	}
	return &Server{
		svc:     svc,
		opts:    opts,
		log:     log.With(logger.Fields{"component": "dashboard"}),
		metrics: metrics,
		page:    page,
	}, nil
}

// Handler returns the dashboard routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /api/table", s.handleTable)
	mux.HandleFunc("GET /api/projection", s.handleProjection)
	mux.HandleFunc("GET /api/geojson", s.handleGeoJSON)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	return s.logRequests(mux)
}

// ListenAndServe serves the dashboard on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Dashboard listening", logger.Fields{"addr": "http://" + addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("Shutting down dashboard", nil)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.IncrCounter("http.requests")
		s.metrics.RecordTiming("http."+path.Base(r.URL.Path), time.Since(start))
		s.log.Debug("HTTP request", logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, s.opts); err != nil {
		s.log.Error("Failed to render dashboard", nil, err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

type catalogResponse struct {
	Entries    []catalog.Entry     `json:"entries"`
	Collisions []catalog.Collision `json:"collisions,omitempty"`
	Changes    *catalog.DiffResult `json:"changes,omitempty"`
}

func newCatalogResponse(cat *catalog.Catalog) catalogResponse {
	return catalogResponse{Entries: cat.Entries(), Collisions: cat.Collisions()}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.svc.Catalog(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCatalogResponse(cat))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cat, diff, err := s.svc.Reload(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("Catalog reloaded", logger.Fields{"entries": cat.Len()})
	resp := newCatalogResponse(cat)
	resp.Changes = diff
	writeJSON(w, http.StatusOK, resp)
}

type tableResponse struct {
	Title          string     `json:"title"`
	Columns        []string   `json:"columns"`
	Rows           [][]string `json:"rows"`
	NumericColumns []string   `json:"numeric_columns"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	key, ok := requireParam(w, r, "key")
	if !ok {
		return
	}
	t, err := s.svc.Table(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for c, col := range t.Columns {
			cells[c] = row.Values[col]
		}
		rows[i] = cells
	}
	writeJSON(w, http.StatusOK, tableResponse{
		Title:          t.Title,
		Columns:        t.Columns,
		Rows:           rows,
		NumericColumns: projection.NumericColumns(t),
	})
}

type projectionResponse struct {
	*projection.Dataset
	FeatureIDKey string   `json:"feature_id_key"`
	Unmatched    []string `json:"unmatched"`
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	key, ok := requireParam(w, r, "key")
	if !ok {
		return
	}
	column, ok := requireParam(w, r, "column")
	if !ok {
		return
	}

	d, err := s.svc.Projection(r.Context(), key, column)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := projectionResponse{Dataset: d, Unmatched: []string{}}
	if c, err := s.svc.Geo(); err != nil {
		s.log.Warn("Boundary geometry unavailable", logger.Fields{"error": err.Error()})
	} else {
		resp.FeatureIDKey = c.FeatureIDPath()
		resp.Unmatched = c.Unmatched(d)
		if len(resp.Unmatched) > 0 {
			s.log.Warn("Locations without geometry", logger.Fields{
				"unique":    key,
				"unmatched": resp.Unmatched,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Geo()
	if err != nil {
		s.log.Error("Failed to load boundary geometry", nil, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "boundary geometry unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	key, ok := requireParam(w, r, "key")
	if !ok {
		return
	}
	t, err := s.svc.Table(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(t, &buf); err != nil {
		s.log.Error("Failed to export table", logger.Fields{"unique": key}, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export failed"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="table.xlsx"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps an application error to the HTTP status reported for it.
func StatusFor(err error) int {
	var (
		ce *projection.CoercionError
		re *fetch.RetrievalError
		pe *table.ParseError
	)
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, projection.ErrColumnNotFound):
		return http.StatusNotFound
	case errors.As(err, &ce), errors.Is(err, projection.ErrNoLocation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &re), errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusBadGateway {
		msg = "no data available: " + msg
	}
	if status >= 500 {
		s.log.Error("Request failed", logger.Fields{"status": status}, err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " is required"})
		return "", false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
