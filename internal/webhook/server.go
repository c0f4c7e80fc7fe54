// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/carecompanion/internal/coordinator"
	"github.com/user/carecompanion/internal/emergency"
	"github.com/user/carecompanion/internal/ingest"
	"github.com/user/carecompanion/internal/types"
)

// Server is a lightweight HTTP handler for the monitoring API.
type Server struct {
	queue *ingest.Queue
	coord *coordinator.Coordinator
	em    *emergency.Agent
	mux   *http.ServeMux
}

// NewServer wires the ingest queue and the coordinator behind the
// HTTP surface.
func NewServer(queue *ingest.Queue, coord *coordinator.Coordinator, em *emergency.Agent) *Server {
	s := &Server{
		queue: queue,
		coord: coord,
		em:    em,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
	s.mux.HandleFunc("GET /api/users", s.handleUsers)
	s.mux.HandleFunc("GET /api/users/{id}/status", s.handleUserStatus)
	s.mux.HandleFunc("POST /api/users/{id}/alerts/{alertID}/resolve", s.handleResolveAlert)
	s.mux.HandleFunc("POST /api/users/{id}/emergency/resolve", s.handleResolveEmergency)
	s.mux.HandleFunc("GET /api/system", s.handleSystem)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleIngest accepts one envelope and queues it for processing.
// Acceptance is not processing; malformed payloads surface later as
// soft errors in the user's context.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var env types.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if env.UserID == "" || env.Type == "" {
		http.Error(w, `{"error":"type and user_id are required"}`, http.StatusBadRequest)
		return
	}
	if err := s.queue.Enqueue(env); err != nil {
		slog.Error("enqueue envelope failed", "user", env.UserID, "error", err)
		http.Error(w, `{"error":"queue full"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users := s.coord.Users()
	if users == nil {
		users = []types.UserID{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"users": users})
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(r.PathValue("id"))
	if _, ok := s.coord.Context(user); !ok {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}
	report := s.coord.UserStatus(r.Context(), user)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(r.PathValue("id"))
	alertID := types.AlertID(r.PathValue("alertID"))

	res := s.coord.ResolveAlert(r.Context(), user, alertID)
	w.Header().Set("Content-Type", "application/json")
	if res.Status == types.StatusError {
		w.WriteHeader(http.StatusNotFound)
	}
	json.NewEncoder(w).Encode(res)
}

// resolveEmergencyRequest is the JSON body for emergency resolution.
// An empty emergency_id targets the user's active emergency.
type resolveEmergencyRequest struct {
	EmergencyID string `json:"emergency_id"`
	Resolution  string `json:"resolution"`
}

func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(r.PathValue("id"))

	var req resolveEmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	id := types.EmergencyID(req.EmergencyID)
	if id == "" {
		active := s.em.Active(user)
		if active == nil {
			http.Error(w, `{"error":"no active emergency"}`, http.StatusNotFound)
			return
		}
		id = active.ID
	}

	res := s.em.Resolve(r.Context(), user, id, req.Resolution)
	w.Header().Set("Content-Type", "application/json")
	if res.Status == types.StatusError {
		w.WriteHeader(http.StatusNotFound)
	}
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.coord.SystemStatus())
}
