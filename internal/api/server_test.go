package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/persistence"
	"github.com/talgya/mini-colony/internal/world"
)

const testKey = "letmein"

type fixture struct {
	srv *Server
	ts  *httptest.Server
	eng *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := engine.NewSimulation(engine.Setup{Width: 8, Height: 3})
	if _, err := sim.AddDepot(world.Cell{X: 0, Y: 1}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.SpawnNode(world.KindAether, world.Cell{X: 6, Y: 1}, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.AddWorker(world.Cell{X: 2, Y: 1}); err != nil {
		t.Fatal(err)
	}

	db, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	eng := engine.NewEngine()
	srv := &Server{Sim: sim, Eng: eng, DB: db, RunID: "test-run", AdminKey: testKey}
	eng.OnTick = func(tick uint64, dt time.Duration) {
		sim.Step(tick, dt)
		srv.OnTick(tick)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, eng: eng}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, key, body string, out any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t)
	f.eng.RunTicks(400) // 20s: the node is drained and delivered

	var status map[string]any
	if code := f.get(t, "/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if status["tick"].(float64) != 400 || status["run_id"] != "test-run" {
		t.Fatalf("status = %v", status)
	}

	var workers []map[string]any
	f.get(t, "/api/v1/workers", &workers)
	if len(workers) != 1 {
		t.Fatalf("workers = %v", workers)
	}
	if code := f.get(t, "/api/v1/worker/1", nil); code != http.StatusOK {
		t.Fatalf("worker detail code %d", code)
	}
	if code := f.get(t, "/api/v1/worker/99", nil); code != http.StatusNotFound {
		t.Fatalf("missing worker code %d", code)
	}
	if code := f.get(t, "/api/v1/worker/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad worker id code %d", code)
	}

	var stock struct {
		Stored    map[string]int `json:"stored"`
		Extracted map[string]int `json:"extracted"`
	}
	f.get(t, "/api/v1/stockpile", &stock)
	if stock.Stored["Aether"] != 20 || stock.Extracted["Aether"] != 20 {
		t.Fatalf("stockpile = %+v", stock)
	}

	var nodes []map[string]any
	f.get(t, "/api/v1/nodes", &nodes)
	if len(nodes) != 0 {
		t.Fatalf("depleted node still listed: %v", nodes)
	}
	if code := f.get(t, "/api/v1/nodes?kind=Gold", nil); code != http.StatusBadRequest {
		t.Fatalf("bad kind code %d", code)
	}

	var events []engine.Event
	f.get(t, "/api/v1/events?category=deposit&limit=5", &events)
	if len(events) == 0 {
		t.Fatalf("expected deposit events")
	}
	for _, e := range events {
		if e.Category != "deposit" {
			t.Fatalf("category filter leaked %q", e.Category)
		}
	}

	var m struct {
		Width  int      `json:"width"`
		Height int      `json:"height"`
		Rows   []string `json:"rows"`
	}
	f.get(t, "/api/v1/map", &m)
	if m.Width != 8 || m.Height != 3 || m.Rows[1][0] != '#' {
		t.Fatalf("map = %+v", m)
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	if code := f.post(t, "/api/v1/speed", "", `{"speed":2}`, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token code %d", code)
	}
	if code := f.post(t, "/api/v1/speed", "wrong", `{"speed":2}`, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token code %d", code)
	}
	var speed map[string]float64
	if code := f.post(t, "/api/v1/speed", testKey, `{"speed":2}`, &speed); code != http.StatusOK || speed["speed"] != 2 {
		t.Fatalf("speed code %d body %v", code, speed)
	}
	if code := f.post(t, "/api/v1/speed", testKey, `{"speed":5000}`, nil); code != http.StatusBadRequest {
		t.Fatalf("out of range speed code %d", code)
	}

	f.srv.AdminKey = ""
	if code := f.post(t, "/api/v1/speed", "anything", `{"speed":1}`, nil); code != http.StatusForbidden {
		t.Fatalf("disabled admin code %d", code)
	}
}

func TestAdminMutations(t *testing.T) {
	f := newFixture(t)

	var kinds struct {
		Kinds []string `json:"kinds"`
	}
	if code := f.post(t, "/api/v1/allowed-kinds", testKey, `{"kinds":["Ferrite"]}`, &kinds); code != http.StatusOK {
		t.Fatalf("allowed kinds code %d", code)
	}
	if len(kinds.Kinds) != 1 || kinds.Kinds[0] != "Ferrite" {
		t.Fatalf("kinds = %v", kinds)
	}
	if code := f.post(t, "/api/v1/allowed-kinds", testKey, `{"kinds":["Gold"]}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown kind code %d", code)
	}

	var added struct {
		ID uint64 `json:"id"`
	}
	if code := f.post(t, "/api/v1/depot", testKey, `{"action":"add","x":3,"y":0,"capacity":50}`, &added); code != http.StatusOK {
		t.Fatalf("add depot code %d", code)
	}
	if code := f.post(t, "/api/v1/depot", testKey, `{"action":"add","x":3,"y":0}`, nil); code != http.StatusConflict {
		t.Fatalf("duplicate depot code %d", code)
	}
	if code := f.post(t, "/api/v1/depot", testKey, `{"action":"add","x":30,"y":0}`, nil); code != http.StatusBadRequest {
		t.Fatalf("out of bounds depot code %d", code)
	}
	body := `{"action":"remove","id":` + jsonNumber(added.ID) + `}`
	if code := f.post(t, "/api/v1/depot", testKey, body, nil); code != http.StatusOK {
		t.Fatalf("remove depot code %d", code)
	}
	if code := f.post(t, "/api/v1/depot", testKey, body, nil); code != http.StatusNotFound {
		t.Fatalf("remove twice code %d", code)
	}

	if code := f.post(t, "/api/v1/building", testKey, `{"x":4,"y":2,"on":true}`, nil); code != http.StatusOK {
		t.Fatalf("building code %d", code)
	}
	if code := f.post(t, "/api/v1/building", testKey, `{"x":6,"y":1,"on":true}`, nil); code != http.StatusConflict {
		t.Fatalf("building on node code %d", code)
	}

	if code := f.post(t, "/api/v1/save", testKey, ``, nil); code != http.StatusOK {
		t.Fatalf("save code %d", code)
	}
	var history []persistence.StockRow
	if code := f.get(t, "/api/v1/history?kind=Aether", &history); code != http.StatusOK || len(history) != 1 {
		t.Fatalf("history code %d rows %v", code, history)
	}
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestSnapshotIsZstdJSON(t *testing.T) {
	f := newFixture(t)
	f.eng.RunTicks(10)

	resp, err := http.Get(f.ts.URL + "/api/v1/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/zstd" {
		t.Fatalf("content type %q", ct)
	}

	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Tick != 10 || len(snap.Workers) != 1 || len(snap.Storages) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStreamDeliversFrames(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the handler to register before ticking.
	deadline := time.Now().Add(2 * time.Second)
	for f.srv.hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.eng.RunTicks(3)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Tick != 1 || len(frame.Workers) != 1 {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Workers[0].State != "Moving" {
		t.Fatalf("worker state = %q", frame.Workers[0].State)
	}
}

func TestFrameIncludesEventsBetweenTicks(t *testing.T) {
	f := newFixture(t)
	f.eng.RunTicks(2)

	first := f.srv.buildFrame(2)
	if len(first.Events) == 0 {
		t.Fatalf("first frame should carry the opening events")
	}

	// Admin changes are recorded with the tick whose frame already went out.
	if code := f.post(t, "/api/v1/depot", testKey, `{"action":"add","x":3,"y":0,"capacity":50}`, nil); code != http.StatusOK {
		t.Fatalf("add depot code %d", code)
	}
	next := f.srv.buildFrame(2)
	found := false
	for _, e := range next.Events {
		if e.Category == "storage" {
			found = true
		}
		if e.Seq <= first.Events[len(first.Events)-1].Seq {
			t.Fatalf("event %d streamed twice", e.Seq)
		}
	}
	if !found {
		t.Fatalf("depot event missing from frame: %+v", next.Events)
	}
	if again := f.srv.buildFrame(2); len(again.Events) != 0 {
		t.Fatalf("events repeated: %+v", again.Events)
	}
}

func TestProduceWorker(t *testing.T) {
	f := newFixture(t)

	if code := f.post(t, "/api/v1/produce", "", `{"storage": 1}`, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated order: %d", code)
	}
	if code := f.post(t, "/api/v1/produce", testKey, `{"storage": 99}`, nil); code != http.StatusNotFound {
		t.Fatalf("unknown storage: %d", code)
	}

	var placed struct {
		Success bool             `json:"success"`
		Order   engine.OrderInfo `json:"order"`
	}
	if code := f.post(t, "/api/v1/produce", testKey, `{"storage": 1}`, &placed); code != http.StatusOK {
		t.Fatalf("order: %d", code)
	}
	if !placed.Success || placed.Order.Storage != 1 || placed.Order.Cell != (world.Cell{X: 0, Y: 1}) {
		t.Fatalf("order = %+v", placed)
	}

	var queue struct {
		Queue []engine.OrderInfo `json:"queue"`
	}
	if code := f.get(t, "/api/v1/produce", &queue); code != http.StatusOK || len(queue.Queue) != 1 {
		t.Fatalf("queue: %d %+v", code, queue)
	}

	// The fixture builds workers for free and instantly.
	f.eng.RunTicks(1)
	if n := len(f.srv.Sim.Workers()); n != 2 {
		t.Fatalf("workers after build = %d", n)
	}
	if len(f.srv.Sim.ProductionQueue()) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		engine.ErrOutOfBounds:       http.StatusBadRequest,
		engine.ErrCellOccupied:      http.StatusConflict,
		engine.ErrInsufficientStock: http.StatusConflict,
		engine.ErrUnknownWorker:     http.StatusNotFound,
		errors.New("disk on fire"):  http.StatusInternalServerError,
	}
	for base, want := range cases {
		if got := statusFor(fmt.Errorf("wrapped: %w", base)); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", base, got, want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatalf("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("other clients are independent")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("RetryAfter = %d", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatalf("window should reset")
	}

	if !NewRateLimiter(0, time.Minute).Allow("x") {
		t.Fatalf("zero rate means unlimited")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(r); got != "1.2.3.4" {
		t.Fatalf("clientIP with XFF = %q", got)
	}
}
