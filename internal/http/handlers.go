package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/lock"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
)

// Deps are the services the API fronts. Ready may be nil.
type Deps struct {
	Matcher   *matcher.Service
	Fleet     *fleet.Service
	Rides     *lifecycle.Service
	Requester *lifecycle.Requester
	WSReg     *dispatch.WSRegistry
	Ready     func(ctx context.Context) error
}

type Server struct {
	Deps
	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{Deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Rider-Id", "X-Request-ID"}),
	)
	s.handler = handlers.ProxyHeaders(cors(s.mux))
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/online", s.driverOp(s.Fleet.GoOnline)).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/offline", s.driverOp(s.Fleet.GoOffline)).Methods("POST")

	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/{ride_id}", s.rideOp(s.Rides.Ride)).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/start-pickup", s.rideOp(s.Rides.StartPickup)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/start", s.rideOp(s.Rides.StartRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.rideOp(s.Rides.CompleteRide)).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/cancel", s.rideOp(s.Rides.CancelRide)).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

type locationUpdate struct {
	DriverID  string  `json:"driver_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var in locationUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.DriverID == "" {
		http.Error(w, "driver_id is required", http.StatusBadRequest)
		return
	}
	loc, err := models.NewLocation(in.Latitude, in.Longitude)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.Fleet.UpdateLocation(r.Context(), in.DriverID, loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerDriverRequest struct {
	Name     string          `json:"name"`
	Location models.Location `json:"location"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var in registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Fleet.Register(r.Context(), in.Name, in.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.Fleet.Driver(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) driverOp(op func(context.Context, string) (models.Driver, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := op(r.Context(), mux.Vars(r)["driver_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

type rideRequest struct {
	Pickup  models.Location `json:"pickup"`
	Dropoff models.Location `json:"dropoff"`
}

type rideRequestResponse struct {
	Ride        models.Ride `json:"ride"`
	MatchQueued bool        `json:"match_queued"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var in rideRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Requester.RequestRide(r.Context(), r.Header.Get("X-Rider-Id"), in.Pickup, in.Dropoff)
	if err != nil && ride.ID == "" {
		s.writeError(w, r, err)
		return
	}
	// a stored ride whose enqueue failed can still be matched via /match
	writeJSON(w, http.StatusAccepted, rideRequestResponse{Ride: ride, MatchQueued: err == nil})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	driverID, err := s.Matcher.MatchDriver(r.Context(), rideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ride_id": rideID, "driver_id": driverID})
}

func (s *Server) rideOp(op func(context.Context, string) (models.Ride, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ride, err := op(r.Context(), mux.Vars(r)["ride_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ride)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

// handleWS registers the driver's connection and holds it until the client
// goes away. Drivers only receive on this socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, matcher.ErrRideNotFound),
		errors.Is(err, lifecycle.ErrRideNotFound),
		errors.Is(err, fleet.ErrDriverNotFound),
		errors.Is(err, lifecycle.ErrDriverNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidRequest),
		errors.Is(err, fleet.ErrInvalidDriver),
		errors.Is(err, models.ErrLatitudeOutOfRange),
		errors.Is(err, models.ErrLongitudeOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, matcher.ErrRideNotRequested),
		errors.Is(err, models.ErrRideNotRequested),
		errors.Is(err, models.ErrRideNotAssigned),
		errors.Is(err, models.ErrRideNotEnRoute),
		errors.Is(err, models.ErrRideNotInProgress),
		errors.Is(err, models.ErrRideAlreadyClosed),
		errors.Is(err, models.ErrDriverOnRide),
		errors.Is(err, models.ErrDriverBusyOnline),
		errors.Is(err, models.ErrDriverNotOnRide),
		errors.Is(err, lock.ErrNotAcquired):
		return http.StatusConflict
	case errors.Is(err, matcher.ErrNoDriversNearby):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code != http.StatusInternalServerError {
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	// faults stay in the log; the caller gets the id to quote
	s.reqLog(r).ErrorContext(r.Context(), "request failed", "route", routeTemplate(r), "error", err)
	writeJSON(w, code, map[string]string{"error": "internal error", "request_id": requestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { return uuid.NewString() }
