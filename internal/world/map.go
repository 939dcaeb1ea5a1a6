package world

import "fmt"

// Tile is a bitmask of occupancy layers on one cell.
type Tile uint8

const (
	TileBuilding Tile = 1 << iota // Storage facility or other structure
	TileResource                  // Resource node
	TileRock                      // Impassable terrain
)

// Map holds the occupancy layers of a bounded rectangular grid.
// Cells outside [0,Width) x [0,Height) are treated as blocked.
type Map struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	tiles []Tile

	// OnChange is invoked after any cell's occupancy actually changes.
	OnChange func(Cell) `json:"-"`
}

// NewMap creates an empty map of the given size.
func NewMap(width, height int) *Map {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Map{
		Width:  width,
		Height: height,
		tiles:  make([]Tile, width*height),
	}
}

// Bounds returns the grid dimensions.
func (m *Map) Bounds() (width, height int) {
	return m.Width, m.Height
}

// InBounds returns true if the cell lies inside the map.
func (m *Map) InBounds(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < m.Width && c.Y < m.Height
}

// Tile returns the occupancy layers at c. Out of bounds reads as rock.
func (m *Map) Tile(c Cell) Tile {
	if !m.InBounds(c) {
		return TileRock
	}
	return m.tiles[c.Y*m.Width+c.X]
}

// IsBlocked reports whether c is impassable.
func (m *Map) IsBlocked(c Cell) bool {
	return m.Tile(c) != 0
}

// SetBuilding marks c as occupied by a structure. Returns false if out of bounds.
func (m *Map) SetBuilding(c Cell) bool { return m.set(c, TileBuilding, true) }

// ClearBuilding removes the structure layer from c.
func (m *Map) ClearBuilding(c Cell) bool { return m.set(c, TileBuilding, false) }

// SetResourceTile marks c as holding a resource node.
func (m *Map) SetResourceTile(c Cell) bool { return m.set(c, TileResource, true) }

// ClearResourceTile removes the resource layer from c.
func (m *Map) ClearResourceTile(c Cell) bool { return m.set(c, TileResource, false) }

// SetRock marks c as impassable terrain.
func (m *Map) SetRock(c Cell) bool { return m.set(c, TileRock, true) }

// ClearRock removes the terrain layer from c.
func (m *Map) ClearRock(c Cell) bool { return m.set(c, TileRock, false) }

func (m *Map) set(c Cell, layer Tile, on bool) bool {
	if !m.InBounds(c) {
		return false
	}
	i := c.Y*m.Width + c.X
	old := m.tiles[i]
	if on {
		m.tiles[i] |= layer
	} else {
		m.tiles[i] &^= layer
	}
	if m.tiles[i] != old && m.OnChange != nil {
		m.OnChange(c)
	}
	return true
}

// TileCounts returns how many cells carry each layer.
func (m *Map) TileCounts() map[Tile]int {
	counts := make(map[Tile]int)
	for _, t := range m.tiles {
		for _, layer := range []Tile{TileBuilding, TileResource, TileRock} {
			if t&layer != 0 {
				counts[layer]++
			}
		}
	}
	return counts
}

// TileName returns a human-readable name for a single layer.
func TileName(t Tile) string {
	switch t {
	case TileBuilding:
		return "Building"
	case TileResource:
		return "Resource"
	case TileRock:
		return "Rock"
	default:
		return "Unknown"
	}
}

// Rows renders the map top to bottom, one byte per cell: '.' free,
// '#' building, '*' resource, '^' rock.
func (m *Map) Rows() []string {
	rows := make([]string, m.Height)
	line := make([]byte, m.Width)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			t := m.tiles[y*m.Width+x]
			switch {
			case t&TileRock != 0:
				line[x] = '^'
			case t&TileBuilding != 0:
				line[x] = '#'
			case t&TileResource != 0:
				line[x] = '*'
			default:
				line[x] = '.'
			}
		}
		rows[y] = string(line)
	}
	return rows
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%dx%d)", m.Width, m.Height)
}
