package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"adsb_feeds/internal/dump1090"
	"adsb_feeds/internal/models"
	"adsb_feeds/internal/tracker"
)

// FeedManager is the set of feed operations the API exposes.
// *dump1090.Manager satisfies it.
type FeedManager interface {
	GetAllAircraftMerged() []models.Aircraft
	GetAircraftByICAO(icao string) (models.Aircraft, bool)
	GetServerAircraft(serverID string) ([]models.Aircraft, error)
	GetServerAircraftByICAO(serverID, icao string) (models.Aircraft, bool)

	Servers() []models.ServerConfig
	Server(id string) (models.ServerConfig, bool)
	Status(id string) (models.ServerStatus, bool)
	AddServer(cfg models.ServerConfig) error
	UpdateServer(id string, cfg models.ServerConfig) error
	RemoveServer(id string) error
	EnableServer(id string) error
	DisableServer(id string) error

	SetCenter(lat, lon float64)
	Center() (lat, lon float64)
	Subscribe() *tracker.Subscription
}

// HistoryReader reads archived positions
type HistoryReader interface {
	History(serverID, icao string, since time.Time) ([]models.PositionRecord, error)
}

const (
	defaultHistoryWindow = time.Hour
	wsWriteTimeout       = 5 * time.Second
	wsPingInterval       = 30 * time.Second
)

// Server serves the HTTP API
type Server struct {
	router   *chi.Mux
	feeds    FeedManager
	history  HistoryReader
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option customizes a Server
type Option func(*Server)

// WithHistory enables the archived position history endpoint
func WithHistory(h HistoryReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(feeds FeedManager, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		feeds:  feeds,
		logger: slog.New(slog.DiscardHandler),
		upgrader: websocket.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the API's root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP API forced to shutdown: %w", err)
	}
	s.logger.Info("HTTP API stopped")
	return nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Aircraft endpoints
		r.Get("/aircraft", s.handleGetAircraft)
		r.Get("/aircraft/{icao}", s.handleGetAircraftByICAO)
		r.Get("/aircraft/{icao}/history", s.handleGetHistory)

		// Feed server endpoints
		r.Get("/servers", s.handleGetServers)
		r.Post("/servers", s.handleCreateServer)
		r.Get("/servers/{id}", s.handleGetServer)
		r.Put("/servers/{id}", s.handleUpdateServer)
		r.Delete("/servers/{id}", s.handleDeleteServer)
		r.Post("/servers/{id}/enable", s.handleEnableServer)
		r.Post("/servers/{id}/disable", s.handleDisableServer)

		r.Get("/center", s.handleGetCenter)
		r.Put("/center", s.handleSetCenter)

		r.Get("/events", s.handleEvents)
	})
}

// requestLogger logs every request through the structured logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type aircraftResponse struct {
	Now      time.Time         `json:"now"`
	Count    int               `json:"count"`
	Aircraft []models.Aircraft `json:"aircraft"`
}

func (s *Server) handleGetAircraft(w http.ResponseWriter, r *http.Request) {
	var aircraft []models.Aircraft
	if serverID := r.URL.Query().Get("server"); serverID != "" {
		var err error
		aircraft, err = s.feeds.GetServerAircraft(serverID)
		if err != nil {
			s.respondError(w, err)
			return
		}
	} else {
		aircraft = s.feeds.GetAllAircraftMerged()
	}
	if aircraft == nil {
		aircraft = []models.Aircraft{}
	}

	respondJSON(w, http.StatusOK, aircraftResponse{
		Now:      time.Now().UTC(),
		Count:    len(aircraft),
		Aircraft: aircraft,
	})
}

func (s *Server) handleGetAircraftByICAO(w http.ResponseWriter, r *http.Request) {
	icao := chi.URLParam(r, "icao")

	var (
		ac models.Aircraft
		ok bool
	)
	if serverID := r.URL.Query().Get("server"); serverID != "" {
		ac, ok = s.feeds.GetServerAircraftByICAO(serverID, icao)
	} else {
		ac, ok = s.feeds.GetAircraftByICAO(icao)
	}
	if !ok {
		http.Error(w, "Aircraft not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, ac)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "Position archive is disabled", http.StatusNotImplemented)
		return
	}

	window := defaultHistoryWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	records, err := s.history.History(r.URL.Query().Get("server"), chi.URLParam(r, "icao"), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("Failed to read position history", "error", err)
		http.Error(w, "Failed to read position history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.PositionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

type serverResponse struct {
	models.ServerConfig
	Status *models.ServerStatus `json:"status,omitempty"`
}

func (s *Server) serverResponse(cfg models.ServerConfig) serverResponse {
	resp := serverResponse{ServerConfig: cfg}
	if st, ok := s.feeds.Status(cfg.ID); ok {
		resp.Status = &st
	}
	return resp
}

func (s *Server) handleGetServers(w http.ResponseWriter, r *http.Request) {
	servers := s.feeds.Servers()
	out := make([]serverResponse, 0, len(servers))
	for _, cfg := range servers {
		out = append(out, s.serverResponse(cfg))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.feeds.Server(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Server not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, s.serverResponse(cfg))
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req models.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.feeds.AddServer(req); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Feed server added via API", "server_id", req.ID)

	cfg, _ := s.feeds.Server(req.ID)
	respondJSON(w, http.StatusCreated, s.serverResponse(cfg))
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Fields left out of the body keep their current values
	current, ok := s.feeds.Server(id)
	if !ok {
		http.Error(w, "Server not found", http.StatusNotFound)
		return
	}
	req := current
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.feeds.UpdateServer(id, req); err != nil {
		s.respondError(w, err)
		return
	}

	cfg, _ := s.feeds.Server(id)
	respondJSON(w, http.StatusOK, s.serverResponse(cfg))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.feeds.RemoveServer(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableServer(w http.ResponseWriter, r *http.Request) {
	s.toggleServer(w, chi.URLParam(r, "id"), s.feeds.EnableServer)
}

func (s *Server) handleDisableServer(w http.ResponseWriter, r *http.Request) {
	s.toggleServer(w, chi.URLParam(r, "id"), s.feeds.DisableServer)
}

func (s *Server) toggleServer(w http.ResponseWriter, id string, op func(string) error) {
	if err := op(id); err != nil {
		s.respondError(w, err)
		return
	}
	cfg, _ := s.feeds.Server(id)
	respondJSON(w, http.StatusOK, s.serverResponse(cfg))
}

type centerRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type centerResponse struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (s *Server) handleGetCenter(w http.ResponseWriter, r *http.Request) {
	lat, lon := s.feeds.Center()
	respondJSON(w, http.StatusOK, centerResponse{Lat: lat, Lon: lon})
}

func (s *Server) handleSetCenter(w http.ResponseWriter, r *http.Request) {
	var req centerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}
	if !models.ValidLatitude(*req.Lat) || !models.ValidLongitude(*req.Lon) {
		http.Error(w, "Coordinates out of range", http.StatusBadRequest)
		return
	}

	s.feeds.SetCenter(*req.Lat, *req.Lon)
	s.logger.Info("Center moved via API", "lat", *req.Lat, "lon", *req.Lon)
	respondJSON(w, http.StatusOK, centerResponse{Lat: *req.Lat, Lon: *req.Lon})
}

// handleEvents streams tracker events as JSON websocket messages until the client goes away
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Unable to upgrade events websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := s.feeds.Subscribe()
	defer sub.Close()

	// The client never sends anything meaningful; reading detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Events websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dump1090.ErrServerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, dump1090.ErrServerExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, dump1090.ErrManagerClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
