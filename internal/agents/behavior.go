// Worker decision steps, one per state. Every recoverable failure ends in a
// transition; nothing here returns an error.
package agents

import (
	"log/slog"
	"time"

	"github.com/paulmach/orb/planar"

	"github.com/talgya/mini-colony/internal/events"
	"github.com/talgya/mini-colony/internal/world"
)

func (w *Worker) updateIdle(now time.Duration) {
	if !w.wake && !w.search.Fire(now) {
		return
	}
	w.wake = false
	w.search.Start(now)
	w.seek()
}

// seek picks the next intent from Idle. A full load goes to storage; else a
// node is tried first and a partial load is delivered only when no node can
// be claimed and reached.
func (w *Worker) seek() {
	if w.cargo.Full() {
		if !w.headToStorage(0, ReasonCargoFull) {
			slog.Debug("worker has full load and nowhere to put it", "worker", w.id)
		}
		return
	}
	if w.claimNode() {
		return
	}
	if !w.cargo.Empty() {
		w.headToStorage(0, ReasonNoNode)
	}
}

// claimNode reserves the nearest reachable node. A lost race or a missing
// route releases that node and falls through to the next candidate.
func (w *Worker) claimNode() bool {
	l := w.env.Ledger
	for _, n := range l.Candidates(w.pos, w.id, w.allowed, w.tune.MaxCandidates) {
		if !l.Reserve(n.ID(), w.id) {
			continue
		}
		path, err := w.env.Planner.Approach(w.pos, n.Cell())
		if err != nil {
			l.Unreserve(n.ID(), w.id)
			slog.Debug("node unreachable", "worker", w.id, "node", n.ID(), "err", err)
			continue
		}
		w.node = n.ID()
		w.path = path
		w.transition(StateMoving, ReasonNodeClaimed)
		return true
	}
	return false
}

// headToStorage routes to the nearest reachable storage with room, skipping
// exclude. It reports false and leaves the state alone when none qualifies.
func (w *Worker) headToStorage(exclude world.StorageID, reason Reason) bool {
	tries := 0
	for _, s := range w.env.Ledger.StorageCandidates(w.pos, exclude) {
		if w.tune.MaxCandidates > 0 && tries >= w.tune.MaxCandidates {
			break
		}
		tries++
		path, err := w.env.Planner.Approach(w.pos, s.Cell())
		if err != nil {
			slog.Debug("storage unreachable", "worker", w.id, "storage", s.ID(), "err", err)
			continue
		}
		w.storage = s.ID()
		w.path = path
		w.transition(StateReturningToStorage, reason)
		return true
	}
	return false
}

// retargetStorage replaces an invalidated storage, keeping cargo. With no
// alternative the worker goes Idle still carrying its load.
func (w *Worker) retargetStorage(lost world.StorageID) {
	w.storage = 0
	w.path = nil
	w.unload.Stop()
	if w.headToStorage(lost, ReasonStorageLost) {
		return
	}
	w.goIdle(ReasonNoStorage, false)
}

// liveNode returns the target node while it is still ours to mine.
func (w *Worker) liveNode() (nodeRef, bool) {
	n, ok := w.env.Ledger.Node(w.node)
	if !ok || n.IsDepleted() || !n.IsReservedBy(w.id) || !w.allowed.Has(n.Kind()) {
		return nodeRef{}, false
	}
	return nodeRef{id: n.ID(), kind: n.Kind(), cell: n.Cell(), dist: planar.Distance(w.pos, n.Position())}, true
}

type nodeRef struct {
	id   world.NodeID
	kind world.Kind
	cell world.Cell
	dist float64
}

func (w *Worker) updateMoving(now time.Duration) {
	n, ok := w.liveNode()
	if !ok {
		w.goIdle(ReasonTargetLost, true)
		return
	}
	if n.dist <= w.tune.MiningRange || w.path.Done() {
		w.path = nil
		w.mine.SetInterval(w.tune.MiningIntervalFor(n.kind))
		w.mine.Start(now)
		w.transition(StateMining, ReasonArrived)
	}
}

func (w *Worker) updateMining(now time.Duration) {
	n, ok := w.liveNode()
	if !ok {
		w.goIdle(ReasonNodeDepleted, true)
		return
	}
	if !w.mine.Fire(now) {
		return
	}

	want := min(w.tune.MiningRate, w.cargo.Free())
	taken, _ := w.env.Ledger.TryWithdraw(n.id, n.kind, want)
	if taken > 0 {
		w.cargo.Add(n.kind, taken)
		remaining := 0
		if node, alive := w.env.Ledger.Node(n.id); alive {
			remaining = node.Remaining()
		}
		w.env.Bus.Extracted.Publish(events.Extracted{
			Worker:    w.id,
			Node:      n.id,
			Kind:      n.kind,
			Cell:      n.cell,
			Amount:    taken,
			Remaining: remaining,
		})
	}

	if w.cargo.Full() {
		w.releaseNode()
		w.mine.Stop()
		if !w.headToStorage(0, ReasonCargoFull) {
			w.goIdle(ReasonNoStorage, false)
		}
		return
	}
	if _, alive := w.env.Ledger.Node(n.id); !alive {
		w.goIdle(ReasonNodeDepleted, true)
	}
}

func (w *Worker) updateReturning(now time.Duration) {
	s, ok := w.env.Ledger.Storage(w.storage)
	if !ok || s.RemainingCapacity() <= 0 {
		w.retargetStorage(w.storage)
		return
	}
	if planar.Distance(w.pos, s.Position()) <= w.tune.UnloadRange || w.path.Done() {
		w.path = nil
		w.unload.Start(now)
		w.transition(StateUnloading, ReasonArrived)
	}
}

func (w *Worker) updateUnloading(now time.Duration) {
	if _, ok := w.env.Ledger.Storage(w.storage); !ok {
		w.retargetStorage(w.storage)
		return
	}
	if !w.unload.Fire(now) {
		return
	}
	w.unload.Stop()

	for _, k := range world.AllKinds() {
		amt := w.cargo.Amount(k)
		if amt == 0 {
			continue
		}
		accepted, err := w.env.Ledger.Deposit(w.storage, k, amt)
		if err != nil || accepted == 0 {
			continue
		}
		w.cargo.Remove(k, accepted)
		w.env.Bus.Deposited.Publish(events.Deposited{
			Worker:  w.id,
			Storage: w.storage,
			Kind:    k,
			Amount:  accepted,
		})
	}
	if !w.cargo.Empty() {
		slog.Debug("storage could not take full load", "worker", w.id, "storage", w.storage, "left", w.cargo.Total())
	}
	w.goIdle(ReasonUnloaded, true)
}

// replan routes again to the current target after a cell on the path
// changed. Failure counts as losing the target.
func (w *Worker) replan() {
	var target world.Cell
	switch w.state {
	case StateMoving:
		n, ok := w.env.Ledger.Node(w.node)
		if !ok {
			w.goIdle(ReasonTargetLost, true)
			return
		}
		target = n.Cell()
	case StateReturningToStorage:
		s, ok := w.env.Ledger.Storage(w.storage)
		if !ok {
			w.retargetStorage(w.storage)
			return
		}
		target = s.Cell()
	default:
		return
	}

	path, err := w.env.Planner.Approach(w.pos, target)
	if err != nil {
		slog.Debug("replan failed", "worker", w.id, "target", target, "err", err)
		w.goIdle(ReasonNoPath, false)
		return
	}
	w.path = path
}
