package agents

import (
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/events"
	"github.com/talgya/mini-colony/internal/ledger"
	"github.com/talgya/mini-colony/internal/pathfind"
	"github.com/talgya/mini-colony/internal/world"
)

const testDT = 50 * time.Millisecond

type harness struct {
	t    *testing.T
	m    *world.Map
	grid world.Grid
	bus  *events.Bus
	l    *ledger.Ledger
	env  Env
	now  time.Duration

	reasons   []string
	extracted []int
}

func newHarness(t *testing.T, width, height int) *harness {
	t.Helper()
	bus := events.NewBus()
	m := world.NewMap(width, height)
	m.OnChange = func(c world.Cell) { bus.CellChanged.Publish(c) }
	grid := world.NewGrid(orb.Point{0, 0}, 1)
	l := ledger.New(bus, grid, m)
	h := &harness{
		t:    t,
		m:    m,
		grid: grid,
		bus:  bus,
		l:    l,
		env:  Env{Ledger: l, Planner: pathfind.NewPlanner(grid, m, 0), Grid: grid, Bus: bus},
	}
	bus.StateChanged.Subscribe(func(e events.StateChanged) { h.reasons = append(h.reasons, e.Reason) })
	bus.Extracted.Subscribe(func(e events.Extracted) { h.extracted = append(h.extracted, e.Amount) })
	return h
}

func (h *harness) worker(id world.WorkerID, at world.Cell, tune Tuning, allowed world.KindSet) *Worker {
	return NewWorker(id, "test", h.grid.CenterOf(at), h.env, tune, allowed)
}

func (h *harness) node(kind world.Kind, at world.Cell, amount int) *ledger.ResourceNode {
	h.t.Helper()
	n, err := h.l.SpawnNode(kind, at, amount)
	if err != nil {
		h.t.Fatalf("spawn node: %v", err)
	}
	return n
}

func (h *harness) depot(at world.Cell, capacity int) *ledger.Depot {
	h.t.Helper()
	d, err := h.l.AddDepot(at, capacity)
	if err != nil {
		h.t.Fatalf("add depot: %v", err)
	}
	return d
}

func (h *harness) run(d time.Duration, ws ...*Worker) {
	for end := h.now + d; h.now < end; {
		h.now += testDT
		for _, w := range ws {
			w.Update(h.now, testDT)
		}
	}
}

func (h *harness) sawReason(r Reason) bool {
	for _, got := range h.reasons {
		if got == r.String() {
			return true
		}
	}
	return false
}

func TestWorker_FullLifecycle(t *testing.T) {
	h := newHarness(t, 12, 5)
	d := h.depot(world.Cell{X: 0, Y: 2}, 0)
	n := h.node(world.KindFerrite, world.Cell{X: 8, Y: 2}, 25)
	w := h.worker(1, world.Cell{X: 2, Y: 2}, DefaultTuning(), world.AllKindSet)

	h.run(testDT, w)
	if w.State() != StateMoving || w.TargetNode() != n.ID() {
		t.Fatalf("expected Moving toward node %d, got %s/%d", n.ID(), w.State(), w.TargetNode())
	}
	if !n.IsReservedBy(w.ID()) {
		t.Fatalf("claimed node should be reserved by the worker")
	}

	h.run(30*time.Second, w)

	if got := h.l.Stockpile()[world.KindFerrite]; got != 25 {
		t.Fatalf("stockpile ferrite = %d, want 25", got)
	}
	if d.Amount(world.KindFerrite) != 25 {
		t.Fatalf("depot holds %d", d.Amount(world.KindFerrite))
	}
	if w.State() != StateIdle || w.CargoTotal() != 0 {
		t.Fatalf("expected empty Idle worker, got %s carrying %d", w.State(), w.CargoTotal())
	}
	if _, ok := h.l.Node(n.ID()); ok {
		t.Fatalf("node should be depleted and gone")
	}
	want := []int{10, 10, 5}
	if len(h.extracted) != len(want) {
		t.Fatalf("extractions = %v, want %v", h.extracted, want)
	}
	for i := range want {
		if h.extracted[i] != want[i] {
			t.Fatalf("extractions = %v, want %v", h.extracted, want)
		}
	}
	for _, r := range []Reason{ReasonNodeClaimed, ReasonArrived, ReasonNodeDepleted, ReasonNoNode, ReasonUnloaded} {
		if !h.sawReason(r) {
			t.Fatalf("missing transition reason %s in %v", r, h.reasons)
		}
	}
}

func TestWorker_CargoCapacityBound(t *testing.T) {
	h := newHarness(t, 6, 1)
	n := h.node(world.KindBiomass, world.Cell{X: 3, Y: 0}, 100)
	tune := DefaultTuning()
	tune.CarryCapacity = 25
	w := h.worker(1, world.Cell{X: 0, Y: 0}, tune, world.AllKindSet)

	h.run(10*time.Second, w)

	if w.CargoTotal() != 25 {
		t.Fatalf("cargo = %d, want 25", w.CargoTotal())
	}
	if len(h.extracted) != 3 || h.extracted[2] != 5 {
		t.Fatalf("extractions = %v, want [10 10 5]", h.extracted)
	}
	if n.Remaining() != 75 {
		t.Fatalf("node remaining = %d, want 75", n.Remaining())
	}
	if w.State() != StateIdle || n.Owner() != 0 {
		t.Fatalf("with no storage the worker should idle and release the node, got %s owner=%d", w.State(), n.Owner())
	}
	if !h.sawReason(ReasonNoStorage) {
		t.Fatalf("expected a no_storage transition, got %v", h.reasons)
	}
}

func TestWorker_StorageRemovedWhileReturning(t *testing.T) {
	h := newHarness(t, 12, 5)
	a := h.depot(world.Cell{X: 0, Y: 2}, 0)
	b := h.depot(world.Cell{X: 11, Y: 2}, 0)
	w := h.worker(1, world.Cell{X: 5, Y: 2}, DefaultTuning(), world.AllKindSet)
	w.cargo.Add(world.KindAether, 30)

	h.run(testDT, w)
	if w.State() != StateReturningToStorage || w.TargetStorage() != a.ID() {
		t.Fatalf("expected to return to depot %d, got %s/%d", a.ID(), w.State(), w.TargetStorage())
	}

	if err := h.l.RemoveStorage(a.ID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if w.State() != StateReturningToStorage || w.TargetStorage() != b.ID() {
		t.Fatalf("expected reselection of depot %d, got %s/%d", b.ID(), w.State(), w.TargetStorage())
	}
	if w.CargoTotal() != 30 {
		t.Fatalf("cargo lost on reselection: %d", w.CargoTotal())
	}

	h.run(10*time.Second, w)
	if b.Amount(world.KindAether) != 30 {
		t.Fatalf("depot b holds %d, want 30", b.Amount(world.KindAether))
	}
}

func TestWorker_LastStorageRemovedKeepsCargo(t *testing.T) {
	h := newHarness(t, 12, 5)
	a := h.depot(world.Cell{X: 0, Y: 2}, 0)
	w := h.worker(1, world.Cell{X: 6, Y: 2}, DefaultTuning(), world.AllKindSet)
	w.cargo.Add(world.KindFerrite, 12)

	h.run(testDT, w)
	h.l.RemoveStorage(a.ID())
	if w.State() != StateIdle || w.CargoTotal() != 12 {
		t.Fatalf("expected Idle with 12 cargo, got %s with %d", w.State(), w.CargoTotal())
	}

	h.run(5*time.Second, w)
	if w.State() != StateIdle {
		t.Fatalf("no storage exists; worker should stay Idle, got %s", w.State())
	}

	c := h.depot(world.Cell{X: 11, Y: 2}, 0)
	h.run(testDT, w)
	if w.State() != StateReturningToStorage || w.TargetStorage() != c.ID() {
		t.Fatalf("new storage should wake the worker, got %s/%d", w.State(), w.TargetStorage())
	}
}

func TestWorker_PartialDepositKeepsLeftover(t *testing.T) {
	h := newHarness(t, 8, 3)
	d := h.depot(world.Cell{X: 0, Y: 1}, 20)
	w := h.worker(1, world.Cell{X: 3, Y: 1}, DefaultTuning(), world.AllKindSet)
	w.cargo.Add(world.KindCryoCrystal, 30)

	h.run(6*time.Second, w)

	if d.Amount(world.KindCryoCrystal) != 20 {
		t.Fatalf("depot took %d, want 20", d.Amount(world.KindCryoCrystal))
	}
	if w.CargoTotal() != 10 || w.State() != StateIdle {
		t.Fatalf("expected Idle with leftover 10, got %s with %d", w.State(), w.CargoTotal())
	}
}

func TestWorker_AllowedKindsChange(t *testing.T) {
	h := newHarness(t, 12, 5)
	aether := h.node(world.KindAether, world.Cell{X: 9, Y: 2}, 40)
	ferrite := h.node(world.KindFerrite, world.Cell{X: 2, Y: 4}, 40)
	w := h.worker(1, world.Cell{X: 5, Y: 2}, DefaultTuning(), world.NewKindSet(world.KindAether))

	h.run(testDT, w)
	if w.TargetNode() != aether.ID() {
		t.Fatalf("filter should steer to aether, got node %d", w.TargetNode())
	}

	h.bus.AllowedKindsChanged.Publish(world.NewKindSet(world.KindFerrite))

	if aether.Owner() != 0 {
		t.Fatalf("disallowed node still reserved by %d", aether.Owner())
	}
	if w.State() != StateMoving || w.TargetNode() != ferrite.ID() {
		t.Fatalf("expected immediate switch to ferrite, got %s/%d", w.State(), w.TargetNode())
	}
	if !h.sawReason(ReasonKindFiltered) {
		t.Fatalf("expected kind_filtered transition, got %v", h.reasons)
	}
}

func TestWorker_TwoWorkersOneNode(t *testing.T) {
	h := newHarness(t, 10, 3)
	n := h.node(world.KindFerrite, world.Cell{X: 8, Y: 1}, 30)
	w1 := h.worker(1, world.Cell{X: 1, Y: 1}, DefaultTuning(), world.AllKindSet)
	w2 := h.worker(2, world.Cell{X: 1, Y: 1}, DefaultTuning(), world.AllKindSet)

	h.run(testDT, w1, w2)

	if w1.State() != StateMoving || w2.State() != StateIdle {
		t.Fatalf("expected w1 Moving and w2 Idle, got %s and %s", w1.State(), w2.State())
	}
	if n.Owner() != w1.ID() {
		t.Fatalf("node owned by %d, want %d", n.Owner(), w1.ID())
	}
}

func TestWorker_UnreachableNodeIsReleased(t *testing.T) {
	h := newHarness(t, 9, 9)
	target := world.Cell{X: 5, Y: 5}
	n := h.node(world.KindFerrite, target, 30)
	for _, c := range target.Neighbors() {
		h.m.SetRock(c)
	}
	w := h.worker(1, world.Cell{X: 0, Y: 0}, DefaultTuning(), world.AllKindSet)

	h.run(3*time.Second, w)

	if w.State() != StateIdle {
		t.Fatalf("expected Idle, got %s", w.State())
	}
	if n.Owner() != 0 {
		t.Fatalf("unreachable node left reserved by %d", n.Owner())
	}
}

func TestWorker_ReplansAroundNewBuilding(t *testing.T) {
	h := newHarness(t, 10, 3)
	n := h.node(world.KindFerrite, world.Cell{X: 9, Y: 1}, 30)
	w := h.worker(1, world.Cell{X: 0, Y: 1}, DefaultTuning(), world.AllKindSet)

	w.Update(0, 0)
	blocked := world.Cell{X: 4, Y: 1}
	if !w.Path().Contains(blocked) {
		t.Fatalf("expected straight path through %v, got %v", blocked, w.Path().Cells())
	}

	h.m.SetBuilding(blocked)

	if w.State() != StateMoving || !n.IsReservedBy(w.ID()) {
		t.Fatalf("replan should keep the target, got %s", w.State())
	}
	if w.Path().Contains(blocked) {
		t.Fatalf("new path still crosses %v", blocked)
	}
}

func TestWorker_ReplanFailureDropsTarget(t *testing.T) {
	h := newHarness(t, 10, 1)
	n := h.node(world.KindFerrite, world.Cell{X: 9, Y: 0}, 30)
	w := h.worker(1, world.Cell{X: 0, Y: 0}, DefaultTuning(), world.AllKindSet)

	w.Update(0, 0)
	if w.State() != StateMoving {
		t.Fatalf("expected Moving, got %s", w.State())
	}

	h.m.SetRock(world.Cell{X: 4, Y: 0})

	if w.State() != StateIdle || n.Owner() != 0 {
		t.Fatalf("expected Idle with node released, got %s owner=%d", w.State(), n.Owner())
	}
	if !h.sawReason(ReasonNoPath) {
		t.Fatalf("expected no_path transition, got %v", h.reasons)
	}
}

func TestWorker_NoPathWaitsForNextPoll(t *testing.T) {
	h := newHarness(t, 30, 1)
	n := h.node(world.KindFerrite, world.Cell{X: 29, Y: 0}, 30)
	w := h.worker(1, world.Cell{X: 0, Y: 0}, DefaultTuning(), world.AllKindSet)

	// Stay away from Idle for longer than the search interval.
	h.run(3*time.Second, w)
	if w.State() != StateMoving {
		t.Fatalf("expected Moving, got %s", w.State())
	}

	rock := world.Cell{X: 25, Y: 0}
	h.m.SetRock(rock)
	if w.State() != StateIdle || n.Owner() != 0 {
		t.Fatalf("expected Idle after no_path, got %s owner=%d", w.State(), n.Owner())
	}
	h.m.ClearRock(rock)

	h.run(testDT, w)
	if w.State() != StateIdle {
		t.Fatalf("failed target retried on the next tick, got %s", w.State())
	}
	h.run(w.tune.SearchInterval, w)
	if w.State() != StateMoving || w.TargetNode() != n.ID() {
		t.Fatalf("expected a new claim after one poll, got %s/%d", w.State(), w.TargetNode())
	}
}

func TestWorker_StorageFilledWhileReturning(t *testing.T) {
	h := newHarness(t, 12, 5)
	a := h.depot(world.Cell{X: 0, Y: 2}, 40)
	b := h.depot(world.Cell{X: 11, Y: 2}, 0)
	w := h.worker(1, world.Cell{X: 5, Y: 2}, DefaultTuning(), world.AllKindSet)
	w.cargo.Add(world.KindAether, 30)

	h.run(testDT, w)
	if w.State() != StateReturningToStorage || w.TargetStorage() != a.ID() {
		t.Fatalf("expected to return to depot %d, got %s/%d", a.ID(), w.State(), w.TargetStorage())
	}

	if got, err := h.l.Deposit(a.ID(), world.KindBiomass, 40); err != nil || got != 40 {
		t.Fatalf("fill depot a: %d, %v", got, err)
	}
	h.run(testDT, w)
	if w.State() != StateReturningToStorage || w.TargetStorage() != b.ID() {
		t.Fatalf("expected reselection of depot %d, got %s/%d", b.ID(), w.State(), w.TargetStorage())
	}
	if !h.sawReason(ReasonStorageLost) {
		t.Fatalf("expected storage_lost transition, got %v", h.reasons)
	}

	h.run(10*time.Second, w)
	if b.Amount(world.KindAether) != 30 || w.CargoTotal() != 0 {
		t.Fatalf("depot b holds %d, worker carries %d", b.Amount(world.KindAether), w.CargoTotal())
	}
}

func TestWorker_OnlyStorageFilledKeepsCargo(t *testing.T) {
	h := newHarness(t, 12, 5)
	a := h.depot(world.Cell{X: 0, Y: 2}, 40)
	w := h.worker(1, world.Cell{X: 6, Y: 2}, DefaultTuning(), world.AllKindSet)
	w.cargo.Add(world.KindFerrite, 12)

	h.run(testDT, w)
	if w.State() != StateReturningToStorage {
		t.Fatalf("expected ReturningToStorage, got %s", w.State())
	}

	h.l.Deposit(a.ID(), world.KindBiomass, 40)
	h.run(testDT, w)
	if w.State() != StateIdle || w.CargoTotal() != 12 || w.TargetStorage() != 0 {
		t.Fatalf("expected Idle with 12 cargo, got %s with %d (storage %d)", w.State(), w.CargoTotal(), w.TargetStorage())
	}
	if !h.sawReason(ReasonNoStorage) {
		t.Fatalf("expected no_storage transition, got %v", h.reasons)
	}

	h.run(5*time.Second, w)
	if w.State() != StateIdle || w.CargoTotal() != 12 {
		t.Fatalf("full storage should leave the worker Idle with its load, got %s with %d", w.State(), w.CargoTotal())
	}
}

func TestWorker_NodeRemovedWhileMoving(t *testing.T) {
	h := newHarness(t, 10, 3)
	n := h.node(world.KindFerrite, world.Cell{X: 9, Y: 1}, 30)
	w := h.worker(1, world.Cell{X: 0, Y: 1}, DefaultTuning(), world.AllKindSet)

	h.run(testDT, w)
	h.l.RemoveNode(n.ID())
	h.run(testDT, w)

	if w.State() != StateIdle || w.TargetNode() != 0 {
		t.Fatalf("expected Idle with no target, got %s/%d", w.State(), w.TargetNode())
	}
	if !h.sawReason(ReasonTargetLost) {
		t.Fatalf("expected target_lost transition, got %v", h.reasons)
	}
}

func TestWorker_CloseReleasesEverything(t *testing.T) {
	h := newHarness(t, 10, 3)
	n := h.node(world.KindFerrite, world.Cell{X: 8, Y: 1}, 30)
	w := h.worker(1, world.Cell{X: 0, Y: 1}, DefaultTuning(), world.AllKindSet)

	h.run(testDT, w)
	if h.bus.CellChanged.Len() != 1 {
		t.Fatalf("expected one CellChanged subscriber, got %d", h.bus.CellChanged.Len())
	}

	w.Close()
	w.Close()

	if n.Owner() != 0 {
		t.Fatalf("closed worker still holds node")
	}
	if h.bus.CellChanged.Len() != 0 || h.bus.AllowedKindsChanged.Len() != 0 {
		t.Fatalf("closed worker left subscriptions behind")
	}
	h.run(time.Second, w)
	if w.State() != StateIdle {
		t.Fatalf("closed worker should stay inert")
	}
}

func TestWorker_MovementSnapsToCellCenter(t *testing.T) {
	h := newHarness(t, 10, 1)
	h.node(world.KindFerrite, world.Cell{X: 9, Y: 0}, 30)
	tune := DefaultTuning()
	tune.MiningRange = 0.5
	w := h.worker(1, world.Cell{X: 0, Y: 0}, tune, world.AllKindSet)

	h.run(3*time.Second, w)

	if w.State() != StateMining {
		t.Fatalf("expected Mining, got %s", w.State())
	}
	if w.Position() != h.grid.CenterOf(world.Cell{X: 8, Y: 0}) {
		t.Fatalf("worker should rest on the approach cell center, got %v", w.Position())
	}
}

func TestCargo_Bounds(t *testing.T) {
	c := NewCargo(10)
	if got := c.Add(world.KindFerrite, 7); got != 7 {
		t.Fatalf("add = %d", got)
	}
	if got := c.Add(world.KindAether, 7); got != 3 {
		t.Fatalf("add past capacity = %d, want 3", got)
	}
	if !c.Full() || c.Total() != 10 {
		t.Fatalf("cargo should be full at 10, total %d", c.Total())
	}
	if got := c.Remove(world.KindFerrite, 100); got != 7 {
		t.Fatalf("remove = %d", got)
	}
	if c.Amount(world.Kind(42)) != 0 || c.Add(world.Kind(42), 1) != 0 {
		t.Fatalf("invalid kind should be ignored")
	}
}

func TestSpawner_PlaceAndNames(t *testing.T) {
	s := NewSpawner(1)
	id1, name1 := s.Next()
	id2, _ := s.Next()
	if id1 != 1 || id2 != 2 || name1 == "" {
		t.Fatalf("unexpected ids %d,%d name %q", id1, id2, name1)
	}

	only := world.Cell{X: 3, Y: 2}
	c, ok := s.Place(world.Cell{X: 2, Y: 2}, 1, func(c world.Cell) bool { return c == only })
	if !ok || c != only {
		t.Fatalf("expected %v, got %v %v", only, c, ok)
	}
	if _, ok := s.Place(world.Cell{}, 2, func(world.Cell) bool { return false }); ok {
		t.Fatalf("no free cell should report false")
	}

	again := NewSpawner(1)
	_, n1 := again.Next()
	if n1 != name1 {
		t.Fatalf("names should be deterministic per seed: %q vs %q", n1, name1)
	}
}

func TestTuning_MiningIntervalFor(t *testing.T) {
	tune := DefaultTuning()
	tune.KindIntervals[world.KindCryoCrystal] = 3 * time.Second

	if got := tune.MiningIntervalFor(world.KindCryoCrystal); got != 3*time.Second {
		t.Fatalf("cryo interval = %v", got)
	}
	if got := tune.MiningIntervalFor(world.KindFerrite); got != tune.MiningInterval {
		t.Fatalf("ferrite interval = %v, want fallback %v", got, tune.MiningInterval)
	}
	if got := tune.MiningIntervalFor(world.Kind(99)); got != tune.MiningInterval {
		t.Fatalf("invalid kind interval = %v", got)
	}
}
