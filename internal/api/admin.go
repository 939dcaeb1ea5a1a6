package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/ledger"
	"github.com/talgya/mini-colony/internal/world"
)

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no COLONY_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// statusFor maps core errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrCellOccupied), errors.Is(err, engine.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnknownStorage), errors.Is(err, ledger.ErrUnknownNode), errors.Is(err, engine.ErrUnknownWorker):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleAllowedKinds reads or replaces the mineable-kind filter. An empty
// list stops all new claims.
func (s *Server) handleAllowedKinds(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Kinds *world.KindSet `json:"kinds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid kinds: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Kinds == nil {
			http.Error(w, "kinds required", http.StatusBadRequest)
			return
		}
		s.Sim.SetAllowedKinds(*req.Kinds)
		slog.Info("allowed kinds changed", "kinds", req.Kinds.String())
	}
	writeJSON(w, map[string]any{"kinds": s.Sim.AllowedKinds()})
}

// handleDepot builds or tears down a storage.
func (s *Server) handleDepot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Action   string          `json:"action"` // "add" or "remove"
		X        int             `json:"x"`
		Y        int             `json:"y"`
		Capacity int             `json:"capacity,omitempty"`
		ID       world.StorageID `json:"id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "add":
		cell := world.Cell{X: req.X, Y: req.Y}
		id, err := s.Sim.AddDepot(cell, req.Capacity)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		slog.Info("depot added", "id", id, "cell", cell.String())
		writeJSON(w, map[string]any{"success": true, "id": id})
	case "remove":
		if err := s.Sim.RemoveStorage(req.ID); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		slog.Info("depot removed", "id", req.ID)
		writeJSON(w, map[string]any{"success": true, "id": req.ID})
	default:
		http.Error(w, "unknown action (use: add, remove)", http.StatusBadRequest)
	}
}

// handleProduce lists the worker production queue, or on POST orders a
// worker paid for by the given storage.
func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Storage world.StorageID `json:"storage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		order, err := s.Sim.ProduceWorker(req.Storage)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		slog.Info("worker ordered", "storage", req.Storage, "ready_in", order.ReadyIn)
		writeJSON(w, map[string]any{"success": true, "order": order})
		return
	}
	writeJSON(w, map[string]any{"queue": s.Sim.ProductionQueue()})
}

// handleBuilding toggles a plain obstacle on a cell.
func (s *Server) handleBuilding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		X  int  `json:"x"`
		Y  int  `json:"y"`
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cell := world.Cell{X: req.X, Y: req.Y}
	if err := s.Sim.SetBuilding(cell, req.On); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]any{"success": true, "cell": cell, "on": req.On})
}

// handleSave flushes events and a snapshot to the database.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.DB.SaveRunState(s.RunID, s.Sim); err != nil {
		slog.Error("save failed", "error", err)
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.Sim.CurrentTick(),
		"message": "run state saved",
	})
}
