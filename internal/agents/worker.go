package agents

import (
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/mini-colony/internal/events"
	"github.com/talgya/mini-colony/internal/ledger"
	"github.com/talgya/mini-colony/internal/pathfind"
	"github.com/talgya/mini-colony/internal/sched"
	"github.com/talgya/mini-colony/internal/world"
)

// PathPlanner routes a worker to a free cell next to a target.
type PathPlanner interface {
	Approach(start orb.Point, target world.Cell) (*pathfind.Path, error)
}

// Env is the set of collaborators a worker is built with.
type Env struct {
	Ledger  *ledger.Ledger
	Planner PathPlanner
	Grid    world.Grid
	Bus     *events.Bus
}

// Worker is one autonomous gatherer. Exactly one of node and storage is set
// outside Idle.
type Worker struct {
	id   world.WorkerID
	name string
	env  Env
	tune Tuning

	state   State
	pos     orb.Point
	cargo   Cargo
	allowed world.KindSet

	node    world.NodeID
	storage world.StorageID
	path    *pathfind.Path

	search sched.Timer
	mine   sched.Timer
	unload sched.Timer
	wake   bool

	now    time.Duration
	subs   events.Group
	closed bool
}

// NewWorker places a worker at pos and subscribes it to the bus. The first
// Update runs a search.
func NewWorker(id world.WorkerID, name string, pos orb.Point, env Env, tune Tuning, allowed world.KindSet) *Worker {
	w := &Worker{
		id:      id,
		name:    name,
		env:     env,
		tune:    tune,
		pos:     pos,
		cargo:   NewCargo(tune.CarryCapacity),
		allowed: allowed,
		search:  sched.NewTimer(tune.SearchInterval),
		mine:    sched.NewTimer(tune.MiningInterval),
		unload:  sched.NewTimer(tune.UnloadDelay),
		wake:    true,
	}
	bus := env.Bus
	w.subs.Add(bus.CellChanged.Subscribe(w.onCellChanged))
	w.subs.Add(bus.StorageAdded.Subscribe(w.onStorageAdded))
	w.subs.Add(bus.StorageRemoved.Subscribe(w.onStorageRemoved))
	w.subs.Add(bus.AllowedKindsChanged.Subscribe(w.onAllowedKindsChanged))
	return w
}

func (w *Worker) ID() world.WorkerID { return w.id }
func (w *Worker) Name() string { return w.name }
func (w *Worker) State() State { return w.state }
func (w *Worker) Position() orb.Point { return w.pos }
func (w *Worker) Cargo() world.Amounts { return w.cargo.Amounts() }
func (w *Worker) CargoTotal() int { return w.cargo.Total() }
func (w *Worker) Allowed() world.KindSet { return w.allowed }
func (w *Worker) TargetNode() world.NodeID { return w.node }

// TargetStorage returns the storage being delivered to, or 0.
func (w *Worker) TargetStorage() world.StorageID { return w.storage }

// Path returns the route being followed, nil when stationary.
func (w *Worker) Path() *pathfind.Path { return w.path }

// Update runs one decision step and then advances movement by dt.
func (w *Worker) Update(now, dt time.Duration) {
	if w.closed {
		return
	}
	w.now = now

	switch w.state {
	case StateIdle:
		w.updateIdle(now)
	case StateMoving:
		w.updateMoving(now)
	case StateMining:
		w.updateMining(now)
	case StateReturningToStorage:
		w.updateReturning(now)
	case StateUnloading:
		w.updateUnloading(now)
	}

	if w.state == StateMoving || w.state == StateReturningToStorage {
		w.advance(dt)
	}
}

// Close releases any reservation and drops every subscription. The worker
// is inert afterwards.
func (w *Worker) Close() {
	if w.closed {
		return
	}
	w.releaseNode()
	w.storage = 0
	w.path = nil
	w.transition(StateIdle, ReasonClosed)
	w.subs.Cancel()
	w.closed = true
}

// Snapshot returns a read-only view of the worker.
func (w *Worker) Snapshot() Snapshot {
	return Snapshot{
		ID:         w.id,
		Name:       w.name,
		State:      w.state,
		Position:   w.pos,
		Cell:       w.env.Grid.CellOf(w.pos),
		Cargo:      w.cargo.Amounts().ByName(),
		CargoTotal: w.cargo.Total(),
		Capacity:   w.cargo.Capacity(),
		Node:       w.node,
		Storage:    w.storage,
		PathLeft:   w.path.Len(),
	}
}

// advance moves along the path at MoveSpeed, popping waypoints within
// tolerance and snapping onto the last one.
func (w *Worker) advance(dt time.Duration) {
	budget := w.tune.MoveSpeed * dt.Seconds()
	for {
		wp, ok := w.path.Current()
		if !ok {
			return
		}
		d := planar.Distance(w.pos, wp)
		if d <= w.tune.WaypointTolerance {
			if !w.path.Advance() {
				w.pos = w.env.Grid.Snap(wp)
			}
			continue
		}
		if budget <= 0 {
			return
		}
		if budget >= d {
			w.pos = wp
			budget -= d
			continue
		}
		t := budget / d
		w.pos = orb.Point{w.pos[0] + (wp[0]-w.pos[0])*t, w.pos[1] + (wp[1]-w.pos[1])*t}
		return
	}
}

func (w *Worker) transition(to State, reason Reason) {
	from := w.state
	w.state = to
	slog.Debug("worker state", "worker", w.id, "from", from, "to", to, "reason", reason)
	w.env.Bus.StateChanged.Publish(events.StateChanged{
		Worker: w.id,
		From:   from.String(),
		To:     to.String(),
		Reason: reason.String(),
	})
}

func (w *Worker) releaseNode() {
	if w.node != 0 {
		w.env.Ledger.Unreserve(w.node, w.id)
		w.node = 0
	}
}

// goIdle abandons any target synchronously. wake asks for a search on the
// next step; otherwise the search poll restarts from now.
func (w *Worker) goIdle(reason Reason, wake bool) {
	w.releaseNode()
	w.storage = 0
	w.path = nil
	w.mine.Stop()
	w.unload.Stop()
	if wake {
		w.wake = true
	} else {
		w.search.Start(w.now)
	}
	w.transition(StateIdle, reason)
}

func (w *Worker) onCellChanged(c world.Cell) {
	if w.state != StateMoving && w.state != StateReturningToStorage {
		return
	}
	if !w.path.Contains(c) {
		return
	}
	w.replan()
}

func (w *Worker) onStorageAdded(world.StorageID) {
	if w.state == StateIdle && !w.cargo.Empty() {
		w.wake = true
	}
}

func (w *Worker) onStorageRemoved(id world.StorageID) {
	if id != w.storage {
		return
	}
	if w.state == StateReturningToStorage || w.state == StateUnloading {
		w.retargetStorage(id)
	}
}

func (w *Worker) onAllowedKindsChanged(set world.KindSet) {
	w.allowed = set
	if w.state == StateMoving || w.state == StateMining {
		if n, ok := w.env.Ledger.Node(w.node); ok && !set.Has(n.Kind()) {
			w.goIdle(ReasonKindFiltered, true)
		}
	}
	if w.state == StateIdle {
		w.wake = false
		w.search.Start(w.now)
		w.seek()
	}
}
