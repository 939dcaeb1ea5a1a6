// World seeding: noise-placed deposits become resource nodes, depots are
// built, and the starting crew is dropped around the first depot.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/mini-colony/internal/world"
)

// DepotSpec places one storage.
type DepotSpec struct {
	Cell     world.Cell
	Capacity int
}

// SeedConfig controls initial colony generation.
type SeedConfig struct {
	Gen         world.GenConfig
	BaseAmounts world.Amounts // initial units per node by kind, scaled by richness
	Depots      []DepotSpec
	Workers     int
	SpawnRadius int
}

// DefaultBaseAmounts mirrors the stock deposit table: common ores are deep,
// rare crystals shallow.
func DefaultBaseAmounts() world.Amounts {
	var a world.Amounts
	a[world.KindFerrite] = 120
	a[world.KindAether] = 80
	a[world.KindBiomass] = 100
	a[world.KindCryoCrystal] = 40
	return a
}

// SeedResult summarizes what Seed created.
type SeedResult struct {
	Nodes    int
	Storages int
	Workers  int
	Rock     int
	ByKind   map[world.Kind]int
}

// Seed populates an empty simulation. Depot cells are kept clear of
// deposits and rock.
func (s *Simulation) Seed(cfg SeedConfig) (SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := SeedResult{ByKind: make(map[world.Kind]int)}
	keep := make([]world.Cell, len(cfg.Depots))
	for i, d := range cfg.Depots {
		if !s.Map.InBounds(d.Cell) {
			return res, fmt.Errorf("seed depot at %s: %w", d.Cell, ErrOutOfBounds)
		}
		keep[i] = d.Cell
	}

	base := cfg.BaseAmounts
	if base.IsEmpty() {
		base = DefaultBaseAmounts()
	}

	deposits := world.Generate(cfg.Gen, s.Map, keep)
	for _, dep := range deposits {
		amount := int(float64(base[dep.Kind]) * (0.5 + dep.Richness))
		if amount <= 0 {
			continue
		}
		if _, err := s.Ledger.SpawnNode(dep.Kind, dep.Cell, amount); err != nil {
			return res, fmt.Errorf("seed node: %w", err)
		}
		res.Nodes++
		res.ByKind[dep.Kind]++
	}
	res.Rock = s.Map.TileCounts()[world.TileRock]

	for _, d := range cfg.Depots {
		if _, err := s.Ledger.AddDepot(d.Cell, d.Capacity); err != nil {
			return res, fmt.Errorf("seed depot: %w", err)
		}
		res.Storages++
	}

	if cfg.Workers > 0 {
		center := world.Cell{X: s.Map.Width / 2, Y: s.Map.Height / 2}
		if len(cfg.Depots) > 0 {
			center = cfg.Depots[0].Cell
		}
		radius := cfg.SpawnRadius
		if radius <= 0 {
			radius = 3
		}
		res.Workers = s.spawnWorkers(cfg.Workers, center, radius)
	}

	for _, k := range world.AllKinds() {
		slog.Info("deposits", "kind", k, "count", res.ByKind[k])
	}
	slog.Info("colony seeded",
		"nodes", res.Nodes,
		"storages", res.Storages,
		"workers", res.Workers,
		"rock", res.Rock,
	)
	return res, nil
}
