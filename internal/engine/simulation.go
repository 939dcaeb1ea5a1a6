// Simulation ties the grid, ledger, planner, and workers together and runs
// them each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/agents"
	"github.com/talgya/mini-colony/internal/events"
	"github.com/talgya/mini-colony/internal/ledger"
	"github.com/talgya/mini-colony/internal/pathfind"
	"github.com/talgya/mini-colony/internal/world"
)

// MaxEvents bounds the in-memory event log.
const MaxEvents = 1000

var (
	ErrUnknownWorker = errors.New("unknown worker")
	ErrCellOccupied  = errors.New("cell occupied")
	ErrOutOfBounds   = errors.New("cell out of bounds")
)

// Setup holds everything needed to build an empty simulation.
type Setup struct {
	Width         int
	Height        int
	Origin        orb.Point
	CellSize      float64
	Seed          int64
	Tuning        agents.Tuning
	MaxIterations int
	Allowed       world.KindSet
	Production    Production
}

// DefaultSetup returns a 48x32 map with stock worker tuning.
func DefaultSetup() Setup {
	return Setup{
		Width:      48,
		Height:     32,
		CellSize:   1,
		Seed:       42,
		Tuning:     agents.DefaultTuning(),
		Allowed:    world.AllKindSet,
		Production: DefaultProduction(),
	}
}

// Event is a notable occurrence in the colony.
type Event struct {
	Seq         uint64         `json:"seq,omitempty"` // 1-based, increases by one per recorded event
	Tick        uint64         `json:"tick"`
	Time        float64        `json:"time"` // simulated seconds
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Worker      world.WorkerID `json:"worker,omitempty"`
}

// SimStats tracks aggregate colony statistics.
type SimStats struct {
	Workers      int            `json:"workers"`
	ByState      map[string]int `json:"by_state"`
	Nodes        int            `json:"nodes"`
	Storages     int            `json:"storages"`
	Extracted    world.Amounts  `json:"extracted"`
	Delivered    world.Amounts  `json:"delivered"`
	Remaining    world.Amounts  `json:"remaining"`
	InTransit    int            `json:"in_transit"`
	Reservations int            `json:"reservations"`
	StateChanges int            `json:"state_changes"`
	PathFailures int            `json:"path_failures"`
}

// Simulation holds the complete colony state. All exported methods are
// safe to call from other goroutines; the tick loop and API share it.
type Simulation struct {
	mu sync.Mutex

	Grid    world.Grid
	Map     *world.Map
	Bus     *events.Bus
	Ledger  *ledger.Ledger
	Planner *pathfind.Planner
	Spawner *agents.Spawner
	Tuning  agents.Tuning

	workers []*agents.Worker // registration order is update order
	index   map[world.WorkerID]*agents.Worker
	allowed world.KindSet

	production Production
	orders     []*productionOrder

	now          time.Duration
	lastTick     uint64
	reportedTick uint64

	events  []Event
	pending []Event
	seq     uint64
	stats   SimStats
	subs    events.Group
}

// NewSimulation builds an empty colony: no nodes, storages, or workers.
func NewSimulation(setup Setup) *Simulation {
	bus := events.NewBus()
	m := world.NewMap(setup.Width, setup.Height)
	m.OnChange = func(c world.Cell) { bus.CellChanged.Publish(c) }
	grid := world.NewGrid(setup.Origin, setup.CellSize)

	tune := setup.Tuning
	if tune == (agents.Tuning{}) {
		tune = agents.DefaultTuning()
	}
	allowed := setup.Allowed
	if allowed.Empty() {
		allowed = world.AllKindSet
	}

	s := &Simulation{
		Grid:    grid,
		Map:     m,
		Bus:     bus,
		Ledger:  ledger.New(bus, grid, m),
		Planner: pathfind.NewPlanner(grid, m, setup.MaxIterations),
		Spawner: agents.NewSpawner(setup.Seed),
		Tuning:  tune,
		index:   make(map[world.WorkerID]*agents.Worker),
		allowed: allowed,

		production: setup.Production,
	}
	s.subscribe()
	return s
}

// subscribe records outbound telemetry into the event log.
func (s *Simulation) subscribe() {
	b := s.Bus
	s.subs.Add(b.Extracted.Subscribe(func(e events.Extracted) {
		s.record("extract", e.Worker, fmt.Sprintf("worker %d extracted %d %s from node %d (%d left)",
			e.Worker, e.Amount, e.Kind, e.Node, e.Remaining))
	}))
	s.subs.Add(b.Deposited.Subscribe(func(e events.Deposited) {
		s.record("deposit", e.Worker, fmt.Sprintf("worker %d deposited %d %s into storage %d",
			e.Worker, e.Amount, e.Kind, e.Storage))
	}))
	s.subs.Add(b.StateChanged.Subscribe(func(e events.StateChanged) {
		s.stats.StateChanges++
		if e.Reason == agents.ReasonNoPath.String() {
			s.stats.PathFailures++
		}
		s.record("state", e.Worker, fmt.Sprintf("worker %d %s -> %s (%s)", e.Worker, e.From, e.To, e.Reason))
	}))
	s.subs.Add(b.NodeRemoved.Subscribe(func(id world.NodeID) {
		s.record("node", 0, fmt.Sprintf("node %d removed", id))
	}))
	s.subs.Add(b.StorageAdded.Subscribe(func(id world.StorageID) {
		s.record("storage", 0, fmt.Sprintf("storage %d added", id))
	}))
	s.subs.Add(b.StorageRemoved.Subscribe(func(id world.StorageID) {
		s.record("storage", 0, fmt.Sprintf("storage %d removed", id))
	}))
	s.subs.Add(b.AllowedKindsChanged.Subscribe(func(set world.KindSet) {
		s.record("filter", 0, fmt.Sprintf("allowed kinds set to %s", set))
	}))
}

// record appends to the event log. Caller holds mu.
func (s *Simulation) record(category string, worker world.WorkerID, desc string) {
	s.seq++
	e := Event{
		Seq:         s.seq,
		Tick:        s.lastTick,
		Time:        s.now.Seconds(),
		Category:    category,
		Description: desc,
		Worker:      worker,
	}
	s.events = append(s.events, e)
	if len(s.events) > MaxEvents {
		s.events = s.events[len(s.events)-MaxEvents:]
	}
	s.pending = append(s.pending, e)
	if len(s.pending) > MaxEvents {
		s.pending = s.pending[len(s.pending)-MaxEvents:]
	}
}

// Step advances every worker by dt in registration order, then finishes
// any production order that has come due.
func (s *Simulation) Step(tick uint64, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTick = tick
	s.now += dt
	for _, w := range s.workers {
		w.Update(s.now, dt)
	}
	s.advanceProduction()
}

// Now returns elapsed simulated time.
func (s *Simulation) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// CurrentTick returns the most recently processed tick.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// AddWorker spawns a worker at the center of cell.
func (s *Simulation) AddWorker(cell world.Cell) (world.WorkerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Map.InBounds(cell) {
		return 0, fmt.Errorf("add worker at %s: %w", cell, ErrOutOfBounds)
	}
	return s.addWorker(cell), nil
}

func (s *Simulation) addWorker(cell world.Cell) world.WorkerID {
	id, name := s.Spawner.Next()
	env := agents.Env{Ledger: s.Ledger, Planner: s.Planner, Grid: s.Grid, Bus: s.Bus}
	w := agents.NewWorker(id, name, s.Grid.CenterOf(cell), env, s.Tuning, s.allowed)
	s.workers = append(s.workers, w)
	s.index[id] = w
	s.record("spawn", id, fmt.Sprintf("%s joined at %s", name, cell))
	return id
}

// SpawnWorkers places up to n workers on free cells around center and
// returns how many were placed.
func (s *Simulation) SpawnWorkers(n int, center world.Cell, radius int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnWorkers(n, center, radius)
}

func (s *Simulation) spawnWorkers(n int, center world.Cell, radius int) int {
	placed := 0
	taken := make(map[world.Cell]bool)
	free := func(c world.Cell) bool {
		return s.Map.InBounds(c) && !s.Map.IsBlocked(c) && !taken[c]
	}
	for i := 0; i < n; i++ {
		c, ok := s.Spawner.Place(center, radius, free)
		if !ok {
			// Crowded: allow sharing cells, agents do not collide.
			taken = map[world.Cell]bool{}
			if c, ok = s.Spawner.Place(center, radius, free); !ok {
				break
			}
		}
		taken[c] = true
		s.addWorker(c)
		placed++
	}
	return placed
}

// RemoveWorker closes and drops a worker, releasing anything it held.
func (s *Simulation) RemoveWorker(id world.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.index[id]
	if !ok {
		return fmt.Errorf("remove worker %d: %w", id, ErrUnknownWorker)
	}
	w.Close()
	delete(s.index, id)
	for i, x := range s.workers {
		if x == w {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	s.record("despawn", id, fmt.Sprintf("%s left the colony", w.Name()))
	return nil
}

// AddDepot builds a storage on cell.
func (s *Simulation) AddDepot(cell world.Cell, capacity int) (world.StorageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkBuildable(cell); err != nil {
		return 0, fmt.Errorf("add depot: %w", err)
	}
	d, err := s.Ledger.AddDepot(cell, capacity)
	if err != nil {
		return 0, err
	}
	return d.ID(), nil
}

// RemoveStorage tears down a storage.
func (s *Simulation) RemoveStorage(id world.StorageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.RemoveStorage(id)
}

// SpawnNode places a resource node on a free cell.
func (s *Simulation) SpawnNode(kind world.Kind, cell world.Cell, amount int) (world.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkBuildable(cell); err != nil {
		return 0, fmt.Errorf("spawn node: %w", err)
	}
	n, err := s.Ledger.SpawnNode(kind, cell, amount)
	if err != nil {
		return 0, err
	}
	return n.ID(), nil
}

// RemoveNode destroys a node regardless of what is left in it.
func (s *Simulation) RemoveNode(id world.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.RemoveNode(id)
}

// SetBuilding toggles a plain (non-storage) building on cell.
func (s *Simulation) SetBuilding(cell world.Cell, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Map.InBounds(cell) {
		return fmt.Errorf("set building at %s: %w", cell, ErrOutOfBounds)
	}
	if _, ok := s.Ledger.NodeAt(cell); ok {
		return fmt.Errorf("set building at %s: resource node present: %w", cell, ErrCellOccupied)
	}
	for _, st := range s.Ledger.Storages() {
		if st.Cell() == cell {
			return fmt.Errorf("set building at %s: storage %d present: %w", cell, st.ID(), ErrCellOccupied)
		}
	}
	if on {
		s.Map.SetBuilding(cell)
	} else {
		s.Map.ClearBuilding(cell)
	}
	return nil
}

// SetAllowedKinds broadcasts a new mineable-kind filter.
func (s *Simulation) SetAllowedKinds(set world.KindSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = set
	s.Bus.AllowedKindsChanged.Publish(set)
}

// AllowedKinds returns the current filter.
func (s *Simulation) AllowedKinds() world.KindSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed
}

// checkBuildable rejects out-of-bounds or already blocked cells. Caller
// holds mu.
func (s *Simulation) checkBuildable(cell world.Cell) error {
	if !s.Map.InBounds(cell) {
		return fmt.Errorf("%s: %w", cell, ErrOutOfBounds)
	}
	if s.Map.IsBlocked(cell) {
		return fmt.Errorf("%s is %s: %w", cell, world.TileName(s.Map.Tile(cell)), ErrCellOccupied)
	}
	return nil
}

// Workers returns worker snapshots in registration order.
func (s *Simulation) Workers() []agents.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agents.Snapshot, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.Snapshot()
	}
	return out
}

// Worker returns one worker's snapshot.
func (s *Simulation) Worker(id world.WorkerID) (agents.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.index[id]
	if !ok {
		return agents.Snapshot{}, false
	}
	return w.Snapshot(), true
}

// Nodes returns node views in registration order.
func (s *Simulation) Nodes() []ledger.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.Ledger.Nodes()
	out := make([]ledger.NodeInfo, len(ns))
	for i, n := range ns {
		out[i] = n.Info()
	}
	return out
}

// Storages returns storage views in registration order.
func (s *Simulation) Storages() []ledger.StorageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss := s.Ledger.Storages()
	out := make([]ledger.StorageInfo, len(ss))
	for i, st := range ss {
		out[i] = ledger.DescribeStorage(st)
	}
	return out
}

// MapRows renders the occupancy grid.
func (s *Simulation) MapRows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Map.Rows()
}

// Stockpile returns what all storages currently hold.
func (s *Simulation) Stockpile() world.Amounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.Stockpile()
}

// RecentEvents returns up to n of the latest events, oldest first.
func (s *Simulation) RecentEvents(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// EventsSince returns retained events with a sequence number above seq,
// oldest first. Unlike DrainEvents it does not consume anything.
func (s *Simulation) EventsSince(seq uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.events)
	for i > 0 && s.events[i-1].Seq > seq {
		i--
	}
	out := make([]Event, len(s.events)-i)
	copy(out, s.events[i:])
	return out
}

// DrainEvents returns events recorded since the previous drain.
func (s *Simulation) DrainEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Stats recomputes and returns aggregate statistics.
func (s *Simulation) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStats()
	return s.stats
}

// updateStats refreshes derived counters. Caller holds mu.
func (s *Simulation) updateStats() {
	st := &s.stats
	st.Workers = len(s.workers)
	st.ByState = make(map[string]int, 5)
	st.InTransit = 0
	st.Reservations = 0
	for _, w := range s.workers {
		st.ByState[w.State().String()]++
		st.InTransit += w.CargoTotal()
	}
	for _, n := range s.Ledger.Nodes() {
		if n.Owner() != 0 {
			st.Reservations++
		}
	}
	st.Nodes = s.Ledger.NodeCount()
	st.Storages = len(s.Ledger.Storages())
	st.Extracted = s.Ledger.Extracted()
	st.Delivered = s.Ledger.Delivered()
	st.Remaining = s.Ledger.Remaining()
}

// CheckInvariants verifies the cross-agent guarantees: every reservation is
// held by a live worker that targets the node, no worker exceeds its cargo
// capacity, and extraction totals balance against cargo and deliveries.
func (s *Simulation) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make(map[world.NodeID]world.WorkerID)
	for _, w := range s.workers {
		if id := w.TargetNode(); id != 0 {
			if other, dup := targets[id]; dup {
				return fmt.Errorf("node %d targeted by workers %d and %d", id, other, w.ID())
			}
			targets[id] = w.ID()
		}
		if w.CargoTotal() > s.Tuning.CarryCapacity {
			return fmt.Errorf("worker %d carries %d over capacity %d", w.ID(), w.CargoTotal(), s.Tuning.CarryCapacity)
		}
		if w.TargetNode() != 0 && w.TargetStorage() != 0 {
			return fmt.Errorf("worker %d targets both node %d and storage %d", w.ID(), w.TargetNode(), w.TargetStorage())
		}
	}
	for _, n := range s.Ledger.Nodes() {
		if n.Remaining() < 0 {
			return fmt.Errorf("node %d has negative remaining %d", n.ID(), n.Remaining())
		}
		owner := n.Owner()
		if owner == 0 {
			continue
		}
		if _, alive := s.index[owner]; !alive {
			return fmt.Errorf("node %d reserved by dead worker %d", n.ID(), owner)
		}
		if targets[n.ID()] != owner {
			return fmt.Errorf("node %d reserved by worker %d which targets something else", n.ID(), owner)
		}
	}

	var carried world.Amounts
	for _, w := range s.workers {
		c := w.Cargo()
		for k := range carried {
			carried[k] += c[k]
		}
	}
	extracted, delivered := s.Ledger.Extracted(), s.Ledger.Delivered()
	for k := range extracted {
		if extracted[k] < delivered[k]+carried[k] {
			return fmt.Errorf("%s: extracted %d < delivered %d + carried %d",
				world.Kind(k), extracted[k], delivered[k], carried[k])
		}
	}
	return nil
}

// Snapshot is a consistent view of the whole colony at one tick.
type Snapshot struct {
	Tick      uint64               `json:"tick"`
	Time      float64              `json:"time"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Allowed   world.KindSet        `json:"allowed"`
	Workers   []agents.Snapshot    `json:"workers"`
	Nodes     []ledger.NodeInfo    `json:"nodes"`
	Storages  []ledger.StorageInfo `json:"storages"`
	Stockpile map[string]int       `json:"stockpile"`
	Stats     SimStats             `json:"stats"`
}

// Snapshot captures the colony under one lock.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStats()

	snap := Snapshot{
		Tick:      s.lastTick,
		Time:      s.now.Seconds(),
		Width:     s.Map.Width,
		Height:    s.Map.Height,
		Allowed:   s.allowed,
		Workers:   make([]agents.Snapshot, len(s.workers)),
		Stockpile: s.Ledger.Stockpile().ByName(),
		Stats:     s.stats,
	}
	for i, w := range s.workers {
		snap.Workers[i] = w.Snapshot()
	}
	for _, n := range s.Ledger.Nodes() {
		snap.Nodes = append(snap.Nodes, n.Info())
	}
	for _, st := range s.Ledger.Storages() {
		snap.Storages = append(snap.Storages, ledger.DescribeStorage(st))
	}
	return snap
}

// Close detaches every worker and telemetry subscription.
func (s *Simulation) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		w.Close()
	}
	s.subs.Cancel()
	slog.Debug("simulation closed", "workers", len(s.workers))
}
