// Worker spawning: stable IDs, deterministic names, and placement on free
// cells around a drop point.
package agents

import (
	"math/rand"

	"github.com/talgya/mini-colony/internal/world"
)

// Spawner issues worker identities for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID world.WorkerID
}

// NewSpawner creates a worker spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// Next returns a fresh ID and name.
func (s *Spawner) Next() (world.WorkerID, string) {
	id := s.nextID
	s.nextID++
	return id, s.generateName()
}

// Place picks a free cell within radius of center. Random probes come first
// so crowds spread out; a ring scan outward guarantees a result whenever any
// free cell exists inside the radius.
func (s *Spawner) Place(center world.Cell, radius int, free func(world.Cell) bool) (world.Cell, bool) {
	if radius < 0 {
		radius = 0
	}
	for i := 0; i < 16; i++ {
		c := center.Add(s.rng.Intn(2*radius+1)-radius, s.rng.Intn(2*radius+1)-radius)
		if free(c) {
			return c, true
		}
	}
	for r := 0; r <= radius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue
				}
				if c := center.Add(dx, dy); free(c) {
					return c, true
				}
			}
		}
	}
	return world.Cell{}, false
}

func (s *Spawner) generateName() string {
	first := firstNames[s.rng.Intn(len(firstNames))]
	call := callsigns[s.rng.Intn(len(callsigns))]
	return first + " " + call
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

var firstNames = []string{
	"Ada", "Bram", "Cleo", "Dax", "Edda", "Finn", "Gale", "Hux",
	"Iris", "Jory", "Kell", "Lyra", "Milo", "Nell", "Orin", "Pike",
	"Quill", "Rhea", "Sol", "Tamsin", "Ulla", "Vik", "Wren", "Yara",
}

var callsigns = []string{
	"Drill", "Hauler", "Spade", "Lode", "Chisel", "Sledge",
	"Pick", "Carter", "Forge", "Vein", "Bellows", "Anvil",
}
