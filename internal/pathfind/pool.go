package pathfind

import "github.com/talgya/mini-colony/internal/world"

const noParent = -1

// node is one A* search record. A node whose gen differs from the pool's
// current generation is stale and reads as unvisited.
type node struct {
	cell    world.Cell
	parent  int32
	g       int32
	h       int32
	seq     uint32 // insertion order, final tie-breaker
	heapIdx int32  // position in the open set, -1 when not queued
	gen     uint32
	closed  bool
}

func (n *node) f() int32 { return n.g + n.h }

// pool is a grid-indexed arena of search nodes reused across planning calls.
// Bumping gen invalidates every node at once, so a new search touches only
// the cells it actually visits.
type pool struct {
	nodes  []node
	width  int
	height int
	gen    uint32
}

// reset prepares the pool for a new search over a width x height grid.
func (p *pool) reset(width, height int) {
	if width != p.width || height != p.height || p.nodes == nil {
		p.nodes = make([]node, width*height)
		p.width = width
		p.height = height
		p.gen = 0
	}
	p.gen++
	if p.gen == 0 {
		// Wrapped: stale stamps could collide, so wipe them.
		for i := range p.nodes {
			p.nodes[i].gen = 0
		}
		p.gen = 1
	}
}

func (p *pool) inBounds(c world.Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < p.width && c.Y < p.height
}

func (p *pool) index(c world.Cell) int32 {
	return int32(c.Y*p.width + c.X)
}

// visit returns the node for c, initialising it if stale.
// fresh is true when the node had not been touched in this search.
func (p *pool) visit(c world.Cell) (idx int32, n *node, fresh bool) {
	idx = p.index(c)
	n = &p.nodes[idx]
	if n.gen == p.gen {
		return idx, n, false
	}
	*n = node{cell: c, parent: noParent, heapIdx: -1, gen: p.gen}
	return idx, n, true
}

func (p *pool) at(idx int32) *node {
	return &p.nodes[idx]
}
