// Package api provides the HTTP API for observing the colony.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/persistence"
	"github.com/talgya/mini-colony/internal/world"
)

const maxStreamConns = 4

// Server serves the colony state over HTTP.
type Server struct {
	Sim           *engine.Simulation
	Eng           *engine.Engine
	DB            *persistence.DB // optional, history and save endpoints need it
	RunID         string
	Port          int
	AdminKey      string // Bearer token for POST endpoints. Empty = POST disabled.
	RatePerMinute int    // admin and snapshot requests per client, 0 = unlimited
	StreamEvery   uint64 // ticks between stream frames, 0 = every tick

	upgrader    websocket.Upgrader
	hub         hub
	streamConns int32
	lastEvent   atomic.Uint64 // Seq of the newest event already streamed
	http        *http.Server
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	limiter := NewRateLimiter(s.RatePerMinute, time.Minute)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/workers", s.handleWorkers)
	mux.HandleFunc("/api/v1/worker/", s.handleWorkerDetail)
	mux.HandleFunc("/api/v1/nodes", s.handleNodes)
	mux.HandleFunc("/api/v1/storages", s.handleStorages)
	mux.HandleFunc("/api/v1/stockpile", s.handleStockpile)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/map", s.handleMap)

	// Transport: websocket frames and compressed export.
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/snapshot", RateLimitMiddleware(limiter, s.handleSnapshot))

	// Admin endpoints (POST, require bearer token).
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(limiter, h))
	}
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/allowed-kinds", s.adminOnly(s.handleAllowedKinds))
	mux.HandleFunc("/api/v1/produce", s.adminOnly(s.handleProduce))
	mux.HandleFunc("/api/v1/depot", admin(s.handleDepot))
	mux.HandleFunc("/api/v1/building", admin(s.handleBuilding))
	mux.HandleFunc("/api/v1/save", admin(s.handleSave))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and closes stream subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS holds a comma-separated list; localhost dev servers are
// always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Stats()
	writeJSON(w, map[string]any{
		"name":      "mini-colony",
		"run_id":    s.RunID,
		"tick":      s.Sim.CurrentTick(),
		"sim_time":  engine.SimTime(s.Sim.Now()),
		"speed":     s.Eng.Speed(),
		"running":   s.Eng.Running(),
		"workers":   st.Workers,
		"by_state":  st.ByState,
		"nodes":     st.Nodes,
		"storages":  st.Storages,
		"allowed":   s.Sim.AllowedKinds(),
		"stockpile": s.Sim.Stockpile().ByName(),
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.Sim.Workers()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := workers[:0]
		for _, ws := range workers {
			if strings.EqualFold(ws.State.String(), state) {
				filtered = append(filtered, ws)
			}
		}
		workers = filtered
	}
	writeJSON(w, workers)
}

func (s *Server) handleWorkerDetail(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/worker/")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}
	snap, ok := s.Sim.Worker(world.WorkerID(id))
	if !ok {
		http.Error(w, "worker not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.Sim.Nodes()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		k, err := world.ParseKind(kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filtered := nodes[:0]
		for _, n := range nodes {
			if n.Kind == k {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}
	writeJSON(w, nodes)
}

func (s *Server) handleStorages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Storages())
}

func (s *Server) handleStockpile(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.Stats()
	writeJSON(w, map[string]any{
		"stored":     s.Sim.Stockpile().ByName(),
		"extracted":  st.Extracted.ByName(),
		"delivered":  st.Delivered.ByName(),
		"remaining":  st.Remaining.ByName(),
		"in_transit": st.InTransit,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Sim.RecentEvents(0)

	// Optional category filter.
	if cat := r.URL.Query().Get("category"); cat != "" {
		var filtered []engine.Event
		for _, e := range events {
			if e.Category == cat {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := events[start:]
	if out == nil {
		out = []engine.Event{}
	}
	writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

// handleHistory returns persisted stock snapshots for one kind of the
// current run.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	kind := world.KindFerrite
	if k := r.URL.Query().Get("kind"); k != "" {
		var err error
		if kind, err = world.ParseKind(k); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	rows, err := s.DB.StockHistory(s.RunID, kind)
	if err != nil {
		slog.Error("stock history query failed", "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []persistence.StockRow{}
	}
	writeJSON(w, rows)
}

// handleMap returns the occupancy grid as one string per row:
// '.' free, '#' building, '*' resource, '^' rock.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	rows := s.Sim.MapRows()
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	writeJSON(w, map[string]any{
		"width":    width,
		"height":   len(rows),
		"rows":     rows,
		"storages": s.Sim.Storages(),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
