// Package ledger tracks resource nodes, storages, and the reservations
// workers place on nodes.
//
// There is no arbiter: workers pick targets greedily and the ledger only
// enforces the check-and-set on each claim. All methods assume a single
// caller at a time.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/mini-colony/internal/events"
	"github.com/talgya/mini-colony/internal/world"
)

var (
	ErrNoStorage      = errors.New("no storage with free capacity")
	ErrUnknownNode    = errors.New("unknown resource node")
	ErrUnknownStorage = errors.New("unknown storage")
)

// TileLayer is the occupancy surface the ledger keeps in step with its
// registry. *world.Map satisfies it.
type TileLayer interface {
	SetResourceTile(c world.Cell) bool
	ClearResourceTile(c world.Cell) bool
	SetBuilding(c world.Cell) bool
	ClearBuilding(c world.Cell) bool
}

// Ledger is the registry of nodes and storages.
type Ledger struct {
	bus   *events.Bus
	grid  world.Grid
	tiles TileLayer

	nodes     map[world.NodeID]*ResourceNode
	nodeOrder []world.NodeID
	nodeAt    map[world.Cell]world.NodeID
	lastNode  world.NodeID

	storages     map[world.StorageID]Storage
	storageOrder []world.StorageID
	lastStorage  world.StorageID

	extracted world.Amounts
	delivered world.Amounts
}

// New returns an empty ledger. tiles may be nil when no occupancy map is
// attached.
func New(bus *events.Bus, grid world.Grid, tiles TileLayer) *Ledger {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Ledger{
		bus:      bus,
		grid:     grid,
		tiles:    tiles,
		nodes:    make(map[world.NodeID]*ResourceNode),
		nodeAt:   make(map[world.Cell]world.NodeID),
		storages: make(map[world.StorageID]Storage),
	}
}

// SpawnNode places a node of kind on cell and marks the cell as a resource
// tile.
func (l *Ledger) SpawnNode(kind world.Kind, cell world.Cell, amount int) (*ResourceNode, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("spawn node at %s: invalid kind %d", cell, kind)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("spawn node at %s: amount must be positive, got %d", cell, amount)
	}
	if id, ok := l.nodeAt[cell]; ok {
		return nil, fmt.Errorf("spawn node at %s: cell already holds node %d", cell, id)
	}

	l.lastNode++
	n := NewResourceNode(l.lastNode, kind, cell, l.grid.CenterOf(cell), amount)
	l.nodes[n.id] = n
	l.nodeOrder = append(l.nodeOrder, n.id)
	l.nodeAt[cell] = n.id
	if l.tiles != nil {
		l.tiles.SetResourceTile(cell)
	}
	return n, nil
}

// RemoveNode destroys a node regardless of what remains in it.
func (l *Ledger) RemoveNode(id world.NodeID) error {
	n, ok := l.nodes[id]
	if !ok {
		return fmt.Errorf("remove node %d: %w", id, ErrUnknownNode)
	}
	l.destroy(n)
	return nil
}

// destroy releases the reservation, drops the node from the registry,
// clears its tile, and announces the removal. Holders learn of it through
// NodeRemoved or their next guard check.
func (l *Ledger) destroy(n *ResourceNode) {
	n.owner = 0
	n.removed = true
	delete(l.nodes, n.id)
	delete(l.nodeAt, n.cell)
	for i, id := range l.nodeOrder {
		if id == n.id {
			l.nodeOrder = append(l.nodeOrder[:i], l.nodeOrder[i+1:]...)
			break
		}
	}
	if l.tiles != nil {
		l.tiles.ClearResourceTile(n.cell)
	}
	slog.Debug("resource node destroyed", "node", n.id, "kind", n.kind, "cell", n.cell)
	l.bus.NodeRemoved.Publish(n.id)
}

// Node looks up a live node.
func (l *Ledger) Node(id world.NodeID) (*ResourceNode, bool) {
	n, ok := l.nodes[id]
	return n, ok
}

// NodeAt returns the node occupying c, if any.
func (l *Ledger) NodeAt(c world.Cell) (*ResourceNode, bool) {
	id, ok := l.nodeAt[c]
	if !ok {
		return nil, false
	}
	return l.nodes[id], true
}

// Nodes returns live nodes in registration order.
func (l *Ledger) Nodes() []*ResourceNode {
	out := make([]*ResourceNode, 0, len(l.nodeOrder))
	for _, id := range l.nodeOrder {
		out = append(out, l.nodes[id])
	}
	return out
}

// NodeCount returns the number of live nodes.
func (l *Ledger) NodeCount() int { return len(l.nodes) }

// Reserve claims node id for worker. Exactly one of several competing
// callers succeeds.
func (l *Ledger) Reserve(id world.NodeID, worker world.WorkerID) bool {
	n, ok := l.nodes[id]
	if !ok {
		return false
	}
	if !n.Reserve(worker) {
		slog.Debug("reservation conflict", "node", id, "worker", worker, "holder", n.owner)
		return false
	}
	return true
}

// Unreserve releases worker's claim on id. Claims held by others are left
// untouched.
func (l *Ledger) Unreserve(id world.NodeID, worker world.WorkerID) {
	if n, ok := l.nodes[id]; ok && n.IsReservedBy(worker) {
		n.Unreserve()
	}
}

// IsReservedBy reports whether worker holds the claim on id.
func (l *Ledger) IsReservedBy(id world.NodeID, worker world.WorkerID) bool {
	n, ok := l.nodes[id]
	return ok && n.IsReservedBy(worker)
}

// TryWithdraw extracts up to amount of kind from node id. A node that hits
// zero is destroyed before TryWithdraw returns.
func (l *Ledger) TryWithdraw(id world.NodeID, kind world.Kind, amount int) (taken int, ok bool) {
	n, found := l.nodes[id]
	if !found || n.kind != kind {
		return 0, false
	}
	taken = n.Extract(amount)
	l.extracted[kind] += taken
	if n.remaining == 0 {
		l.destroy(n)
	}
	return taken, taken > 0
}

// Candidates lists nodes worker may claim, nearest first by straight-line
// distance from `from`. Equal distances keep registration order. limit <= 0
// means no limit.
func (l *Ledger) Candidates(from orb.Point, worker world.WorkerID, allowed world.KindSet, limit int) []*ResourceNode {
	type cand struct {
		n    *ResourceNode
		dist float64
	}
	var cs []cand
	for _, id := range l.nodeOrder {
		n := l.nodes[id]
		if n.IsDepleted() || !allowed.Has(n.kind) {
			continue
		}
		if n.owner != 0 && n.owner != worker {
			continue
		}
		cs = append(cs, cand{n: n, dist: planar.Distance(from, n.pos)})
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].dist < cs[j].dist })
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	out := make([]*ResourceNode, len(cs))
	for i, c := range cs {
		out[i] = c.n
	}
	return out
}

// ReserveNearest claims the nearest eligible node for worker.
func (l *Ledger) ReserveNearest(from orb.Point, worker world.WorkerID, allowed world.KindSet) (*ResourceNode, bool) {
	for _, n := range l.Candidates(from, worker, allowed, 0) {
		if l.Reserve(n.id, worker) {
			return n, true
		}
	}
	return nil, false
}

// AddDepot builds a depot on cell and registers it.
func (l *Ledger) AddDepot(cell world.Cell, capacity int) (*Depot, error) {
	d := NewDepot(l.lastStorage+1, cell, l.grid.CenterOf(cell), capacity)
	if err := l.AddStorage(d); err != nil {
		return nil, err
	}
	return d, nil
}

// AddStorage registers s, marks its cell as a building, and announces it.
func (l *Ledger) AddStorage(s Storage) error {
	id := s.ID()
	if id == 0 {
		return fmt.Errorf("add storage: zero id")
	}
	if _, dup := l.storages[id]; dup {
		return fmt.Errorf("add storage %d: already registered", id)
	}
	l.storages[id] = s
	l.storageOrder = append(l.storageOrder, id)
	if id > l.lastStorage {
		l.lastStorage = id
	}
	if l.tiles != nil {
		l.tiles.SetBuilding(s.Cell())
	}
	l.bus.StorageAdded.Publish(id)
	return nil
}

// RemoveStorage unregisters id. Its contents leave with it.
func (l *Ledger) RemoveStorage(id world.StorageID) error {
	s, ok := l.storages[id]
	if !ok {
		return fmt.Errorf("remove storage %d: %w", id, ErrUnknownStorage)
	}
	delete(l.storages, id)
	for i, sid := range l.storageOrder {
		if sid == id {
			l.storageOrder = append(l.storageOrder[:i], l.storageOrder[i+1:]...)
			break
		}
	}
	if l.tiles != nil {
		l.tiles.ClearBuilding(s.Cell())
	}
	l.bus.StorageRemoved.Publish(id)
	return nil
}

// Storage looks up a registered storage.
func (l *Ledger) Storage(id world.StorageID) (Storage, bool) {
	s, ok := l.storages[id]
	return s, ok
}

// Storages returns registered storages in registration order.
func (l *Ledger) Storages() []Storage {
	out := make([]Storage, 0, len(l.storageOrder))
	for _, id := range l.storageOrder {
		out = append(out, l.storages[id])
	}
	return out
}

// RemainingCapacity returns the free space in id, or 0 if it is unknown.
func (l *Ledger) RemainingCapacity(id world.StorageID) int {
	s, ok := l.storages[id]
	if !ok {
		return 0
	}
	return s.RemainingCapacity()
}

// Deposit moves up to amount of kind into storage id and returns how much
// it accepted.
func (l *Ledger) Deposit(id world.StorageID, kind world.Kind, amount int) (int, error) {
	s, ok := l.storages[id]
	if !ok {
		return 0, fmt.Errorf("deposit into %d: %w", id, ErrUnknownStorage)
	}
	accepted, _ := s.TryDeposit(kind, amount)
	if kind.Valid() {
		l.delivered[kind] += accepted
	}
	return accepted, nil
}

// Withdraw takes up to amount of kind out of storage id.
func (l *Ledger) Withdraw(id world.StorageID, kind world.Kind, amount int) (int, error) {
	s, ok := l.storages[id]
	if !ok {
		return 0, fmt.Errorf("withdraw from %d: %w", id, ErrUnknownStorage)
	}
	taken, _ := s.TryWithdraw(kind, amount)
	return taken, nil
}

// StorageCandidates lists storages with free capacity, nearest first,
// skipping exclude.
func (l *Ledger) StorageCandidates(from orb.Point, exclude world.StorageID) []Storage {
	type cand struct {
		s    Storage
		dist float64
	}
	var cs []cand
	for _, id := range l.storageOrder {
		if id == exclude {
			continue
		}
		s := l.storages[id]
		if s.RemainingCapacity() <= 0 {
			continue
		}
		cs = append(cs, cand{s: s, dist: planar.Distance(from, s.Position())})
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].dist < cs[j].dist })
	out := make([]Storage, len(cs))
	for i, c := range cs {
		out[i] = c.s
	}
	return out
}

// NearestStorage returns the closest storage with free capacity.
func (l *Ledger) NearestStorage(from orb.Point, exclude world.StorageID) (Storage, error) {
	cs := l.StorageCandidates(from, exclude)
	if len(cs) == 0 {
		return nil, ErrNoStorage
	}
	return cs[0], nil
}

// Stockpile sums what every registered storage currently holds.
func (l *Ledger) Stockpile() world.Amounts {
	var total world.Amounts
	for _, s := range l.storages {
		for _, k := range world.AllKinds() {
			total[k] += s.Amount(k)
		}
	}
	return total
}

// Extracted returns the running total taken from nodes.
func (l *Ledger) Extracted() world.Amounts { return l.extracted }

// Delivered returns the running total accepted by storages.
func (l *Ledger) Delivered() world.Amounts { return l.delivered }

// Remaining sums what is left in live nodes.
func (l *Ledger) Remaining() world.Amounts {
	var total world.Amounts
	for _, n := range l.nodes {
		total[n.kind] += n.remaining
	}
	return total
}
