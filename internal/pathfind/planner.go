// Package pathfind implements grid A* over 8-connected cells.
//
// Step costs are octile: 10 for orthogonal moves and 14 (≈10√2) for
// diagonal moves. The heuristic is octile distance with the same constants,
// so it is admissible and consistent. A diagonal step may not cut the corner
// of a blocked cell.
package pathfind

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/mini-colony/internal/world"
)

const (
	costStraight = 10
	costDiagonal = 14
)

// DefaultMaxIterations bounds node expansions per search.
const DefaultMaxIterations = 4096

var (
	// ErrNoPath means the goal cannot be reached from the start.
	ErrNoPath = errors.New("no path")
	// ErrSearchLimit means the search gave up after its expansion budget.
	// It matches ErrNoPath under errors.Is.
	ErrSearchLimit = fmt.Errorf("%w: iteration limit reached", ErrNoPath)
)

// Coords converts between world positions and cells.
type Coords interface {
	CellOf(p orb.Point) world.Cell
	CenterOf(c world.Cell) orb.Point
}

// Occupancy answers passability over a bounded grid.
type Occupancy interface {
	Bounds() (width, height int)
	IsBlocked(c world.Cell) bool
}

// Request describes one planning call in world space.
type Request struct {
	Start orb.Point
	Goal  orb.Point
	// StopDistance trims trailing waypoints already within this distance of
	// the goal's cell center. At least one waypoint is always kept.
	StopDistance float64
}

// Planner runs A* searches. It keeps no state between calls beyond its
// reusable node pool, so it is not safe for concurrent use.
type Planner struct {
	coords  Coords
	occ     Occupancy
	maxIter int

	pool pool
	open openSet
	seq  uint32

	// Expanded is the number of nodes closed by the last search.
	Expanded int
}

// NewPlanner returns a planner over occ. maxIterations <= 0 uses
// DefaultMaxIterations.
func NewPlanner(coords Coords, occ Occupancy, maxIterations int) *Planner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	p := &Planner{coords: coords, occ: occ, maxIter: maxIterations}
	p.open.pool = &p.pool
	return p
}

// Plan finds a path between the cells nearest req.Start and req.Goal.
func (p *Planner) Plan(req Request) (*Path, error) {
	start := p.coords.CellOf(req.Start)
	goal := p.coords.CellOf(req.Goal)

	cells, err := p.FindPath(start, goal)
	if err != nil {
		return nil, err
	}
	if req.StopDistance > 0 {
		cells = trimToStopDistance(cells, p.coords, p.coords.CenterOf(goal), req.StopDistance)
	}
	return NewPath(cells, p.coords), nil
}

// Approach plans from start to a free cell adjacent to target, for walking
// up to a node or building without entering it. Candidates are tried nearest
// first; the first reachable one wins. If the start cell is free and already
// touches the target, the path is the single start cell center.
func (p *Planner) Approach(start orb.Point, target world.Cell) (*Path, error) {
	from := p.coords.CellOf(start)
	if world.Adjacent(from, target) && p.passable(from) {
		return NewPath([]world.Cell{from}, p.coords), nil
	}

	var candidates [8]world.Cell
	n := 0
	for _, c := range target.Neighbors() {
		if p.passable(c) {
			candidates[n] = c
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("approach %s: no free neighbour: %w", target, ErrNoPath)
	}
	// Insertion sort by octile distance keeps equal candidates in
	// neighbour order.
	for i := 1; i < n; i++ {
		for j := i; j > 0 && octile(from, candidates[j]) < octile(from, candidates[j-1]); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var lastErr error
	for _, c := range candidates[:n] {
		cells, err := p.FindPath(from, c)
		if err == nil {
			return NewPath(cells, p.coords), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("approach %s: %w", target, lastErr)
}

// FindPath returns the cells from start (exclusive) to goal (inclusive).
// The goal may itself be blocked; every other cell on the path is free.
// If start equals goal the result is the single goal cell.
func (p *Planner) FindPath(start, goal world.Cell) ([]world.Cell, error) {
	width, height := p.occ.Bounds()
	p.pool.reset(width, height)
	p.open.reset()
	p.seq = 0
	p.Expanded = 0

	if !p.pool.inBounds(start) || !p.pool.inBounds(goal) {
		return nil, ErrNoPath
	}
	if start == goal {
		return []world.Cell{goal}, nil
	}

	sIdx, s, _ := p.pool.visit(start)
	s.g = 0
	s.h = octile(start, goal)
	s.seq = p.nextSeq()
	p.open.push(sIdx)

	for p.open.len() > 0 {
		if p.Expanded >= p.maxIter {
			slog.Debug("path search hit iteration limit",
				"start", start, "goal", goal, "limit", p.maxIter)
			return nil, ErrSearchLimit
		}

		curIdx := p.open.pop()
		cur := p.pool.at(curIdx)
		if cur.cell == goal {
			return p.reconstruct(curIdx), nil
		}
		cur.closed = true
		p.Expanded++

		for i, d := range world.NeighborOffsets {
			nc := cur.cell.Add(d.X, d.Y)
			if !p.pool.inBounds(nc) {
				continue
			}
			if nc != goal && p.occ.IsBlocked(nc) {
				continue
			}
			diagonal := i%2 == 1
			if diagonal && p.cutsCorner(cur.cell, d, goal) {
				continue
			}

			step := int32(costStraight)
			if diagonal {
				step = costDiagonal
			}
			g := cur.g + step

			nIdx, n, fresh := p.pool.visit(nc)
			if n.closed {
				continue
			}
			if fresh {
				n.g = g
				n.h = octile(nc, goal)
				n.parent = curIdx
				n.seq = p.nextSeq()
				p.open.push(nIdx)
				continue
			}
			if g < n.g {
				n.g = g
				n.parent = curIdx
				p.open.fix(nIdx)
			}
		}
	}

	return nil, ErrNoPath
}

func (p *Planner) nextSeq() uint32 {
	p.seq++
	return p.seq
}

// passable reports whether an agent may stand on c.
func (p *Planner) passable(c world.Cell) bool {
	width, height := p.occ.Bounds()
	if c.X < 0 || c.Y < 0 || c.X >= width || c.Y >= height {
		return false
	}
	return !p.occ.IsBlocked(c)
}

// cutsCorner reports whether the diagonal step d from c squeezes past a
// blocked orthogonal neighbour.
func (p *Planner) cutsCorner(c world.Cell, d world.Cell, goal world.Cell) bool {
	a := c.Add(d.X, 0)
	b := c.Add(0, d.Y)
	return (a != goal && p.occ.IsBlocked(a)) || (b != goal && p.occ.IsBlocked(b))
}

func (p *Planner) reconstruct(goalIdx int32) []world.Cell {
	n := 0
	for idx := goalIdx; p.pool.at(idx).parent != noParent; idx = p.pool.at(idx).parent {
		n++
	}
	cells := make([]world.Cell, n)
	idx := goalIdx
	for i := n - 1; i >= 0; i-- {
		cells[i] = p.pool.at(idx).cell
		idx = p.pool.at(idx).parent
	}
	return cells
}

// trimToStopDistance drops trailing cells whose centers are already within
// stop of the goal, keeping the first one that is.
func trimToStopDistance(cells []world.Cell, coords Coords, goal orb.Point, stop float64) []world.Cell {
	for i, c := range cells {
		if planar.Distance(coords.CenterOf(c), goal) <= stop {
			return cells[:i+1]
		}
	}
	return cells
}

// octile is the 8-connected distance with costs 10/14.
func octile(a, b world.Cell) int32 {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	lo, hi := dx, dy
	if lo > hi {
		lo, hi = hi, lo
	}
	return int32(lo*costDiagonal + (hi-lo)*costStraight)
}
