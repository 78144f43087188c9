package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"studyroom/internal/config"
	"studyroom/internal/logging"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the reservation engine over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, h *Handler, logger *zerolog.Logger) *HTTPServer {
	logger = logging.Component(logger, "http")
	srv := &HTTPServer{cfg: cfg, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	h.userHeader = srv.auth.userIDHeader()
	if secret := cfg.Auth.JWTSecret; secret != "" {
		h.jwtSecret = []byte(secret)
	}

	handler := loggingMiddleware(logger)(srv.auth.Wrap(NewRouter(h)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// NewRouter registers every endpoint of the engine.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Availability
	api.HandleFunc("/seats/{id:[0-9]+}/availability", h.SeatAvailability).Methods(http.MethodGet)
	api.HandleFunc("/classrooms/{id:[0-9]+}/seats", h.ClassroomSeats).Methods(http.MethodGet)
	api.HandleFunc("/classrooms/{id:[0-9]+}/available-seats", h.ClassroomAvailableSeats).Methods(http.MethodGet)
	api.HandleFunc("/buildings/{id:[0-9]+}/available-seats", h.BuildingAvailableSeats).Methods(http.MethodGet)

	// Bookings
	api.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings", h.ListBookings).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}", h.GetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}/check-in", h.CheckIn).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/check-out", h.CheckOut).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/cancel", h.CancelBooking).Methods(http.MethodPost)

	// Occupancies
	api.HandleFunc("/occupancies", h.CreateOccupancy).Methods(http.MethodPost)
	api.HandleFunc("/occupancies", h.ListOccupancies).Methods(http.MethodGet)
	api.HandleFunc("/occupancies/{id:[0-9]+}", h.GetOccupancy).Methods(http.MethodGet)
	api.HandleFunc("/occupancies/{id:[0-9]+}", h.UpdateOccupancy).Methods(http.MethodPut)
	api.HandleFunc("/occupancies/{id:[0-9]+}", h.DeleteOccupancy).Methods(http.MethodDelete)
	api.HandleFunc("/occupancies/{id:[0-9]+}/cancel", h.CancelOccupancy).Methods(http.MethodPost)
	api.HandleFunc("/classrooms/{id:[0-9]+}/occupancies", h.ClassroomOccupancies).Methods(http.MethodGet)
	api.HandleFunc("/buildings/{id:[0-9]+}/occupancies", h.BuildingOccupancies).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
