package pathfind

import (
	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/world"
)

// Path is an ordered list of world-space waypoints (cell centers) consumed
// front to back. It is owned by one agent and replaced wholesale on replanning.
type Path struct {
	cells     []world.Cell
	waypoints []orb.Point
	next      int
}

// NewPath builds a path over cells using grid to place waypoints.
func NewPath(cells []world.Cell, coords Coords) *Path {
	p := &Path{
		cells:     cells,
		waypoints: make([]orb.Point, len(cells)),
	}
	for i, c := range cells {
		p.waypoints[i] = coords.CenterOf(c)
	}
	return p
}

// Len returns the number of waypoints not yet reached.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.waypoints) - p.next
}

// Done reports whether every waypoint has been reached.
func (p *Path) Done() bool {
	return p.Len() == 0
}

// Current returns the waypoint being approached.
func (p *Path) Current() (orb.Point, bool) {
	if p.Done() {
		return orb.Point{}, false
	}
	return p.waypoints[p.next], true
}

// CurrentCell returns the cell of the waypoint being approached.
func (p *Path) CurrentCell() (world.Cell, bool) {
	if p.Done() {
		return world.Cell{}, false
	}
	return p.cells[p.next], true
}

// Advance marks the current waypoint reached. Returns false once the path is
// exhausted.
func (p *Path) Advance() bool {
	if p.Done() {
		return false
	}
	p.next++
	return !p.Done()
}

// Goal returns the final cell. ok is false for an empty path.
func (p *Path) Goal() (world.Cell, bool) {
	if p == nil || len(p.cells) == 0 {
		return world.Cell{}, false
	}
	return p.cells[len(p.cells)-1], true
}

// Contains reports whether c is among the remaining cells, including the
// waypoint currently being approached.
func (p *Path) Contains(c world.Cell) bool {
	if p == nil {
		return false
	}
	for _, pc := range p.cells[p.next:] {
		if pc == c {
			return true
		}
	}
	return false
}

// Cells returns a copy of the remaining cells.
func (p *Path) Cells() []world.Cell {
	if p == nil {
		return nil
	}
	out := make([]world.Cell, len(p.cells)-p.next)
	copy(out, p.cells[p.next:])
	return out
}

// Waypoints returns a copy of the remaining waypoints.
func (p *Path) Waypoints() []orb.Point {
	if p == nil {
		return nil
	}
	out := make([]orb.Point, len(p.waypoints)-p.next)
	copy(out, p.waypoints[p.next:])
	return out
}
