package ledger

import (
	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/world"
)

// Storage is anything workers can unload into. Buildings that accept
// deposits implement it directly; the ledger never inspects concrete types.
type Storage interface {
	ID() world.StorageID
	Position() orb.Point
	Cell() world.Cell
	RemainingCapacity() int
	TotalCapacity() int
	Amount(kind world.Kind) int
	// TryDeposit accepts up to amount units, bounded by remaining capacity.
	// ok is false when nothing was accepted.
	TryDeposit(kind world.Kind, amount int) (accepted int, ok bool)
	// TryWithdraw removes up to amount units. ok is false when nothing was
	// taken.
	TryWithdraw(kind world.Kind, amount int) (taken int, ok bool)
}

// DefaultDepotCapacity matches the main colony structure.
const DefaultDepotCapacity = 1000

// Depot is a storage with one capacity shared across all kinds.
type Depot struct {
	id       world.StorageID
	cell     world.Cell
	pos      orb.Point
	capacity int
	stock    world.Amounts
}

// NewDepot returns an empty depot. capacity <= 0 uses DefaultDepotCapacity.
func NewDepot(id world.StorageID, cell world.Cell, pos orb.Point, capacity int) *Depot {
	if capacity <= 0 {
		capacity = DefaultDepotCapacity
	}
	return &Depot{id: id, cell: cell, pos: pos, capacity: capacity}
}

func (d *Depot) ID() world.StorageID { return d.id }
func (d *Depot) Position() orb.Point { return d.pos }
func (d *Depot) Cell() world.Cell { return d.cell }
func (d *Depot) TotalCapacity() int { return d.capacity }

func (d *Depot) RemainingCapacity() int {
	return max(0, d.capacity-d.stock.Total())
}

func (d *Depot) Amount(kind world.Kind) int {
	if !kind.Valid() {
		return 0
	}
	return d.stock[kind]
}

// Contents returns a copy of the stored amounts.
func (d *Depot) Contents() world.Amounts {
	return d.stock
}

func (d *Depot) TryDeposit(kind world.Kind, amount int) (int, bool) {
	if !kind.Valid() || amount <= 0 {
		return 0, false
	}
	accepted := min(amount, d.RemainingCapacity())
	if accepted == 0 {
		return 0, false
	}
	d.stock[kind] += accepted
	return accepted, true
}

func (d *Depot) TryWithdraw(kind world.Kind, amount int) (int, bool) {
	if !kind.Valid() || amount <= 0 {
		return 0, false
	}
	taken := min(amount, d.stock[kind])
	if taken == 0 {
		return 0, false
	}
	d.stock[kind] -= taken
	return taken, true
}

// StorageInfo is a read-only view of a storage for telemetry.
type StorageInfo struct {
	ID        world.StorageID `json:"id"`
	Cell      world.Cell      `json:"cell"`
	Capacity  int             `json:"capacity"`
	Remaining int             `json:"remaining"`
	Contents  map[string]int  `json:"contents"`
}

// DescribeStorage builds a StorageInfo through the capability surface.
func DescribeStorage(s Storage) StorageInfo {
	var contents world.Amounts
	for _, k := range world.AllKinds() {
		contents[k] = s.Amount(k)
	}
	return StorageInfo{
		ID:        s.ID(),
		Cell:      s.Cell(),
		Capacity:  s.TotalCapacity(),
		Remaining: s.RemainingCapacity(),
		Contents:  contents.ByName(),
	}
}
