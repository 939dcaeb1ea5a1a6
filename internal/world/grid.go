// Package world provides the logical grid, resource kinds, occupancy layers,
// and deposit generation shared by the pathfinder, ledger, and workers.
package world

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Cell is an integer coordinate on the logical grid.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns "(x,y)".
func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Add returns c offset by (dx, dy).
func (c Cell) Add(dx, dy int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy}
}

// Chebyshev returns the king-move distance between two cells.
func Chebyshev(a, b Cell) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// Adjacent reports whether b is one of the eight neighbours of a.
func Adjacent(a, b Cell) bool {
	return a != b && Chebyshev(a, b) == 1
}

// NeighborOffsets lists the 8-connected offsets in a fixed order:
// N, NE, E, SE, S, SW, W, NW. Search and approach logic iterate in this
// order so results are deterministic.
var NeighborOffsets = [8]Cell{
	{X: 0, Y: -1},
	{X: 1, Y: -1},
	{X: 1, Y: 0},
	{X: 1, Y: 1},
	{X: 0, Y: 1},
	{X: -1, Y: 1},
	{X: -1, Y: 0},
	{X: -1, Y: -1},
}

// Neighbors returns the eight adjacent cells in NeighborOffsets order.
func (c Cell) Neighbors() [8]Cell {
	var out [8]Cell
	for i, d := range NeighborOffsets {
		out[i] = Cell{X: c.X + d.X, Y: c.Y + d.Y}
	}
	return out
}

// Grid converts between world-space positions and cells.
// Cell (0,0) covers [Origin, Origin+CellSize) on both axes.
type Grid struct {
	Origin   orb.Point `json:"origin"`
	CellSize float64   `json:"cell_size"`
}

// NewGrid returns a grid with the given origin and cell size.
// A non-positive size falls back to 1.
func NewGrid(origin orb.Point, cellSize float64) Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return Grid{Origin: origin, CellSize: cellSize}
}

// CellOf returns the cell containing p.
func (g Grid) CellOf(p orb.Point) Cell {
	return Cell{
		X: int(math.Floor((p[0] - g.Origin[0]) / g.CellSize)),
		Y: int(math.Floor((p[1] - g.Origin[1]) / g.CellSize)),
	}
}

// CenterOf returns the world-space center of c.
func (g Grid) CenterOf(c Cell) orb.Point {
	return orb.Point{
		g.Origin[0] + (float64(c.X)+0.5)*g.CellSize,
		g.Origin[1] + (float64(c.Y)+0.5)*g.CellSize,
	}
}

// Snap returns the center of the cell containing p.
func (g Grid) Snap(p orb.Point) orb.Point {
	return g.CenterOf(g.CellOf(p))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
