package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

// DriverLocationSink receives driver location events for downstream
// consumers; nil disables publishing.
type DriverLocationSink interface {
	PublishDriverLocation(d models.Profile) error
}

type Server struct {
	Engine   *dispatch.Engine
	Updater  *location.Updater
	Registry *registry.Registry
	WSReg    *dispatch.WSRegistry
	Sink     DriverLocationSink

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(engine *dispatch.Engine, updater *location.Updater, reg *registry.Registry, wsreg *dispatch.WSRegistry, sink DriverLocationSink, logger *slog.Logger) *Server {
	s := &Server{
		Engine:   engine,
		Updater:  updater,
		Registry: reg,
		WSReg:    wsreg,
		Sink:     sink,
		mux:      mux.NewRouter(),
		logger:   logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleRequestRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides", s.handleListRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/match", s.handleFindDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/status", s.handleUpdateStatus).Methods("PATCH")
	s.mux.HandleFunc("/api/v1/rides/location", s.handleUpdateLocation).Methods("POST")
	s.mux.HandleFunc("/internal/profiles", s.handleUpsertProfile).Methods("POST")
	s.mux.HandleFunc("/internal/rides/{id}", s.handleArchiveRide).Methods("DELETE")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actingProfile resolves the authenticated caller. Authentication itself
// happens upstream; we only get the resolved profile id.
func (s *Server) actingProfile(r *http.Request) (models.Profile, bool) {
	id := r.Header.Get("X-Profile-ID")
	if id == "" {
		return models.Profile{}, false
	}
	return s.Registry.Get(id)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	acting, ok := s.actingProfile(r)
	if !ok {
		writeError(w, models.E(models.KindPermission, "unknown profile"))
		return
	}
	var req struct {
		Pickup  string `json:"pickup_location"`
		Dropoff string `json:"dropoff_location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindValidation, "malformed request body"))
		return
	}
	ride, err := s.Engine.RequestRide(r.Context(), acting, req.Pickup, req.Dropoff)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	f := storage.RideFilter{
		RiderID:  r.URL.Query().Get("rider_id"),
		DriverID: r.URL.Query().Get("driver_id"),
		Status:   models.RideStatus(r.URL.Query().Get("status")),
	}
	rides, err := s.Engine.ListRides(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Engine.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleFindDriver(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Engine.FindAndAssignDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	acting, ok := s.actingProfile(r)
	if !ok {
		writeError(w, models.E(models.KindPermission, "unknown profile"))
		return
	}
	ride, err := s.Engine.AcceptRide(r.Context(), mux.Vars(r)["id"], acting)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	acting, ok := s.actingProfile(r)
	if !ok {
		writeError(w, models.E(models.KindPermission, "unknown profile"))
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindValidation, "malformed request body"))
		return
	}
	ride, err := s.Engine.UpdateRideStatus(r.Context(), mux.Vars(r)["id"], acting, models.RideStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RideID    string     `json:"ride_id"`
		Latitude  coordValue `json:"latitude"`
		Longitude coordValue `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindValidation, "coordinates must be numeric"))
		return
	}
	if req.RideID == "" {
		writeError(w, models.E(models.KindValidation, "ride_id is required"))
		return
	}
	ride, err := s.Updater.UpdateLocation(r.Context(), req.RideID, float64(req.Latitude), float64(req.Longitude))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, models.E(models.KindValidation, "malformed request body"))
		return
	}
	if p.ID == "" {
		writeError(w, models.E(models.KindValidation, "profile id is required"))
		return
	}
	if p.Role != models.RoleRider && p.Role != models.RoleDriver {
		writeError(w, models.E(models.KindValidation, "role must be Rider or Driver"))
		return
	}
	s.Registry.Upsert(p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveRide(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.ArchiveRide(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID  string     `json:"driver_id"`
		Latitude  coordValue `json:"latitude"`
		Longitude coordValue `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindValidation, "coordinates must be numeric"))
		return
	}
	p, ok := s.Registry.SetLocation(req.DriverID, float64(req.Latitude), float64(req.Longitude))
	if !ok {
		writeError(w, models.E(models.KindNotFound, "driver profile not found"))
		return
	}
	if s.Sink != nil {
		if err := s.Sink.PublishDriverLocation(p); err != nil {
			s.logger.Warn("driver location publish failed", "driver_id", p.ID, "error", err)
		}
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
}

// coordValue accepts both JSON numbers and numeric strings, since location
// clients send either.
type coordValue float64

func (c *coordValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*c = coordValue(f)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]any{
		"error": map[string]string{
			"kind":    string(kind),
			"message": models.MessageOf(err),
		},
	})
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindPermission:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
