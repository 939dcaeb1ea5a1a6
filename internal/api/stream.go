package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/world"
)

// Frame is one websocket message: every worker's position, state and load,
// plus events recorded since the previous frame.
type Frame struct {
	Tick    uint64         `json:"tick"`
	Time    float64        `json:"time"`
	Workers []WorkerFrame  `json:"workers"`
	Events  []engine.Event `json:"events,omitempty"`
}

type WorkerFrame struct {
	ID    world.WorkerID `json:"id"`
	State string         `json:"state"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	Cargo int            `json:"cargo"`
}

// hub fans encoded frames out to stream subscribers. Slow subscribers miss
// frames rather than stall the tick loop.
type hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func (h *hub) subscribe() chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[chan []byte]struct{})
	}
	ch := make(chan []byte, 16)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// OnTick publishes a frame to stream clients. Call it after the simulation
// has stepped; it does nothing while nobody is connected.
func (s *Server) OnTick(tick uint64) {
	if s.StreamEvery > 1 && tick%s.StreamEvery != 0 {
		return
	}
	if s.hub.count() == 0 {
		return
	}
	b, err := json.Marshal(s.buildFrame(tick))
	if err != nil {
		slog.Error("encode stream frame", "error", err)
		return
	}
	s.hub.broadcast(b)
}

func (s *Server) buildFrame(tick uint64) Frame {
	workers := s.Sim.Workers()
	f := Frame{
		Tick:    tick,
		Time:    s.Sim.Now().Seconds(),
		Workers: make([]WorkerFrame, len(workers)),
	}
	for i, w := range workers {
		f.Workers[i] = WorkerFrame{
			ID:    w.ID,
			State: w.State.String(),
			X:     w.Position.X(),
			Y:     w.Position.Y(),
			Cargo: w.CargoTotal,
		}
	}

	// Sequence numbers, not ticks: admin changes land between ticks and
	// carry the tick of a frame that has already gone out.
	f.Events = s.Sim.EventsSince(s.lastEvent.Load())
	if n := len(f.Events); n > 0 {
		s.lastEvent.Store(f.Events[n-1].Seq)
	}
	return f
}

// handleStream upgrades to a websocket and pushes frames until the client
// goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streamConns, 1)
	defer atomic.AddInt32(&s.streamConns, -1)
	if current > maxStreamConns {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)
	slog.Info("stream client connected", "remote", r.RemoteAddr)

	// Reader: drain control frames and notice disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

// handleSnapshot exports the full colony as zstd-compressed JSON.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="colony-%d.json.zst"`, snap.Tick))

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		http.Error(w, "compressor unavailable", http.StatusInternalServerError)
		return
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		slog.Error("snapshot encode failed", "error", err)
	}
	if err := enc.Close(); err != nil {
		slog.Error("snapshot flush failed", "error", err)
	}
}
