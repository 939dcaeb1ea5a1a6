package ledger

import (
	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/world"
)

// ResourceNode is a depletable deposit of one resource kind on one cell.
// At most one worker holds its reservation at a time.
type ResourceNode struct {
	id        world.NodeID
	kind      world.Kind
	cell      world.Cell
	pos       orb.Point
	initial   int
	remaining int
	owner     world.WorkerID
	removed   bool
}

// NewResourceNode creates an unreserved node holding amount units.
func NewResourceNode(id world.NodeID, kind world.Kind, cell world.Cell, pos orb.Point, amount int) *ResourceNode {
	if amount < 0 {
		amount = 0
	}
	return &ResourceNode{
		id:        id,
		kind:      kind,
		cell:      cell,
		pos:       pos,
		initial:   amount,
		remaining: amount,
	}
}

func (n *ResourceNode) ID() world.NodeID { return n.id }
func (n *ResourceNode) Kind() world.Kind { return n.kind }
func (n *ResourceNode) Cell() world.Cell { return n.cell }
func (n *ResourceNode) Position() orb.Point { return n.pos }
func (n *ResourceNode) Remaining() int { return n.remaining }
func (n *ResourceNode) Initial() int { return n.initial }
func (n *ResourceNode) Owner() world.WorkerID { return n.owner }

// IsDepleted reports whether the node has nothing left or was removed.
func (n *ResourceNode) IsDepleted() bool {
	return n.removed || n.remaining <= 0
}

// Reserve claims the node for owner. It succeeds when the node is live and
// either unclaimed or already held by owner.
func (n *ResourceNode) Reserve(owner world.WorkerID) bool {
	if owner == 0 || n.IsDepleted() {
		return false
	}
	if n.owner != 0 && n.owner != owner {
		return false
	}
	n.owner = owner
	return true
}

// Unreserve drops whatever claim is held.
func (n *ResourceNode) Unreserve() {
	n.owner = 0
}

// IsReservedBy reports whether owner holds the claim.
func (n *ResourceNode) IsReservedBy(owner world.WorkerID) bool {
	return owner != 0 && n.owner == owner
}

// Extract removes up to amount units and returns how many were taken.
func (n *ResourceNode) Extract(amount int) int {
	if amount <= 0 || n.IsDepleted() {
		return 0
	}
	take := min(amount, n.remaining)
	n.remaining -= take
	return take
}

// NodeInfo is a read-only view of a node for telemetry.
type NodeInfo struct {
	ID        world.NodeID   `json:"id"`
	Kind      world.Kind     `json:"kind"`
	Cell      world.Cell     `json:"cell"`
	Remaining int            `json:"remaining"`
	Initial   int            `json:"initial"`
	Owner     world.WorkerID `json:"owner,omitempty"`
}

// Info returns a snapshot of n.
func (n *ResourceNode) Info() NodeInfo {
	return NodeInfo{
		ID:        n.id,
		Kind:      n.kind,
		Cell:      n.cell,
		Remaining: n.remaining,
		Initial:   n.initial,
		Owner:     n.owner,
	}
}
