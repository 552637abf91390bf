package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/ais-scope/internal/auth"
	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/dataset"
)

// Options configures a Server.
type Options struct {
	// RowDelay paces row streams; 0 streams as fast as the client reads
	RowDelay time.Duration

	// Auth protects the data endpoints with bearer tokens when set
	Auth *auth.Service

	// AllowedOrigins for CORS (default: any)
	AllowedOrigins []string
}

// Server serves a Catalog over HTTP.
type Server struct {
	catalog  *Catalog
	rowDelay time.Duration
	authSvc  *auth.Service
	router   *chi.Mux
}

// NewServer creates a server for catalog and registers its routes.
func NewServer(catalog *Catalog, opts Options) *Server {
	s := &Server{
		catalog:  catalog,
		rowDelay: opts.RowDelay,
		authSvc:  opts.Auth,
		router:   chi.NewRouter(),
	}
	s.setupRoutes(opts.AllowedOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(origins []string) {
	r := s.router

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.authSvc != nil {
			r.Use(s.authMiddleware)
		}

		r.Get("/files", s.handleFiles)
		r.Get("/rows/stream", s.handleStreamByIndex)
		r.Get("/rows/stream_time", s.handleStreamByTime)
		r.Get("/rows/time_bounds", s.handleTimeBounds)
		r.Get("/heatmap", s.handleHeatmap)
		r.Get("/unique-vessels", s.handleUniqueVessels)
		r.Post("/unique-vessels-multi", s.handleUniqueVesselsMulti)
	})
}

// authMiddleware requires a valid reader token
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := s.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if !auth.HasRole(claims.Role, auth.RoleReader) {
			http.Error(w, "Insufficient role", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.catalog.Files()
	if err != nil {
		log.Printf("Failed to list snapshots: %v", err)
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}
	writeJSON(w, files)
}

// handleStreamByIndex streams rows [start, end), stopping early at the end of
// the snapshot.
func (s *Server) handleStreamByIndex(w http.ResponseWriter, r *http.Request) {
	records, ok := s.records(w, r)
	if !ok {
		return
	}
	start, err1 := intParam(r, "start", 0)
	end, err2 := intParam(r, "end", 100)
	if err := errors.Join(err1, err2); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if start < 0 {
		start = 0
	}

	total := end - start
	var rows []ais.PositionRecord
	if start < end && start < len(records) {
		rows = records[start:min(end, len(records))]
	}
	s.streamRows(w, r, rows, total)
}

func (s *Server) handleStreamByTime(w http.ResponseWriter, r *http.Request) {
	records, ok := s.records(w, r)
	if !ok {
		return
	}
	startTs, endTs, err := windowParams(r, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows := InWindow(records, startTs, endTs)
	s.streamRows(w, r, rows, len(rows))
}

// streamRows writes rows as NDJSON stream messages. Progress is relative to
// total, which may exceed len(rows) for index streams cut short.
func (s *Server) streamRows(w http.ResponseWriter, r *http.Request, rows []ais.PositionRecord, total int) {
	flusher := startStream(w)
	enc := json.NewEncoder(w)
	for i, row := range rows {
		if !s.pace(r.Context()) {
			return
		}
		msg := ais.StreamMessage{Progress: Progress(i+1, total), Row: row}
		if err := enc.Encode(msg); err != nil {
			log.Printf("Stream aborted after %d rows: %v", i, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// pace waits the configured row delay. It returns false once the client is gone.
func (s *Server) pace(ctx context.Context) bool {
	if s.rowDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.rowDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Server) handleTimeBounds(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dataset(w, r)
	if !ok {
		return
	}
	bounds, ok := d.Bounds()
	if !ok {
		http.Error(w, "File has no rows", http.StatusNotFound)
		return
	}
	writeJSON(w, ais.TimeBounds{Min: bounds.Start, Max: bounds.End})
}

// handleHeatmap responds with [lat, lon, count] triples.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	records, ok := s.records(w, r)
	if !ok {
		return
	}
	startTs, endTs, err := windowParams(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cellSize := ais.DefaultCellSize
	if v := r.URL.Query().Get("cell_size"); v != "" {
		cellSize, err = strconv.ParseFloat(v, 64)
		if err != nil || cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
			http.Error(w, "Invalid cell_size", http.StatusBadRequest)
			return
		}
	}

	cells := Heatmap(InWindow(records, startTs, endTs), cellSize)
	triples := make([][3]float64, 0, len(cells))
	for _, c := range cells {
		triples = append(triples, [3]float64{c.Lat, c.Lng, c.Count})
	}
	writeJSON(w, triples)
}

func (s *Server) handleUniqueVessels(w http.ResponseWriter, r *http.Request) {
	records, ok := s.records(w, r)
	if !ok {
		return
	}
	startTs, endTs, err := windowParams(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, ais.VesselCount{
		File:          r.URL.Query().Get("file"),
		UniqueVessels: UniqueVessels(InWindow(records, startTs, endTs)),
	})
}

// handleUniqueVesselsMulti streams one count per requested file, in request
// order. Every file is resolved before the first line is written.
func (s *Server) handleUniqueVesselsMulti(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	counts := make([]int, len(req.Files))
	for i, file := range req.Files {
		d, err := s.catalog.Open(file)
		if err != nil {
			s.openError(w, err)
			return
		}
		counts[i] = UniqueVessels(d.Records())
	}

	flusher := startStream(w)
	enc := json.NewEncoder(w)
	for i, file := range req.Files {
		if !s.pace(r.Context()) {
			return
		}
		vc := ais.VesselCount{File: file, UniqueVessels: counts[i], Progress: Progress(i+1, len(req.Files))}
		if err := enc.Encode(vc); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// dataset resolves the file query parameter, writing the error response itself.
func (s *Server) dataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	file := r.URL.Query().Get("file")
	if file == "" {
		http.Error(w, "Missing file parameter", http.StatusBadRequest)
		return nil, false
	}
	ds, err := s.catalog.Open(file)
	if err != nil {
		s.openError(w, err)
		return nil, false
	}
	return ds, true
}

func (s *Server) records(w http.ResponseWriter, r *http.Request) ([]ais.PositionRecord, bool) {
	d, ok := s.dataset(w, r)
	if !ok {
		return nil, false
	}
	return d.Records(), true
}

func (s *Server) openError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownFile) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("Failed to open snapshot: %v", err)
	http.Error(w, "Failed to read file", http.StatusInternalServerError)
}

// startStream sends the NDJSON response headers immediately so clients see the
// stream open before the first (possibly paced) line.
func startStream(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	return flusher
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// windowParams reads start_ts and end_ts. Optional bounds default to the
// widest window.
func windowParams(r *http.Request, optional bool) (startTs, endTs int64, err error) {
	q := r.URL.Query()
	parse := func(name string, def int64) (int64, error) {
		v := q.Get(name)
		if v == "" {
			if optional {
				return def, nil
			}
			return 0, errors.New("missing " + name)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.New("invalid " + name)
		}
		return n, nil
	}

	if startTs, err = parse("start_ts", math.MinInt64); err != nil {
		return 0, 0, err
	}
	if endTs, err = parse("end_ts", math.MaxInt64); err != nil {
		return 0, 0, err
	}
	return startTs, endTs, nil
}
