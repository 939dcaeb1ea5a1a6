package world

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
)

func TestGrid_CellCenterRoundTrip(t *testing.T) {
	g := NewGrid(orb.Point{-4, 2}, 0.5)
	for _, c := range []Cell{{0, 0}, {3, 7}, {-2, -1}} {
		if got := g.CellOf(g.CenterOf(c)); got != c {
			t.Fatalf("CellOf(CenterOf(%s)) = %s", c, got)
		}
	}
	if got := g.CellOf(orb.Point{-4.01, 2}); got != (Cell{-1, 0}) {
		t.Fatalf("point left of origin mapped to %s", got)
	}
	if got := g.Snap(orb.Point{-3.9, 2.4}); got != (orb.Point{-3.75, 2.25}) {
		t.Fatalf("Snap = %v", got)
	}
	if NewGrid(orb.Point{}, 0).CellSize != 1 {
		t.Fatalf("zero cell size should fall back to 1")
	}
}

func TestCell_Neighbors(t *testing.T) {
	c := Cell{5, 5}
	n := c.Neighbors()
	if n[0] != (Cell{5, 4}) || n[2] != (Cell{6, 5}) || n[7] != (Cell{4, 4}) {
		t.Fatalf("neighbour order = %v", n)
	}
	for _, x := range n {
		if !Adjacent(c, x) {
			t.Fatalf("%s not adjacent to %s", x, c)
		}
	}
	if Adjacent(c, c) || Adjacent(c, Cell{7, 5}) {
		t.Fatalf("adjacency too loose")
	}
	if Chebyshev(Cell{0, 0}, Cell{3, -5}) != 5 {
		t.Fatalf("chebyshev wrong")
	}
}

func TestMap_LayersAndNotifications(t *testing.T) {
	m := NewMap(4, 3)
	var changed []Cell
	m.OnChange = func(c Cell) { changed = append(changed, c) }

	c := Cell{1, 1}
	if !m.SetBuilding(c) || !m.SetBuilding(c) {
		t.Fatalf("in-bounds SetBuilding should succeed")
	}
	m.SetResourceTile(c)
	if !m.IsBlocked(c) || m.Tile(c) != TileBuilding|TileResource {
		t.Fatalf("tile = %b", m.Tile(c))
	}
	m.ClearBuilding(c)
	if !m.IsBlocked(c) {
		t.Fatalf("resource layer should still block")
	}
	m.ClearResourceTile(c)
	if m.IsBlocked(c) {
		t.Fatalf("cleared cell still blocked")
	}
	if len(changed) != 4 {
		t.Fatalf("OnChange fired %d times, want 4 (repeat set is not a change)", len(changed))
	}
	if !m.IsBlocked(Cell{-1, 0}) || !m.IsBlocked(Cell{4, 0}) {
		t.Fatalf("out of bounds should read as blocked")
	}
	if m.SetRock(Cell{9, 9}) {
		t.Fatalf("out of bounds writes should be ignored")
	}
}

func TestMap_Rows(t *testing.T) {
	m := NewMap(3, 2)
	m.SetBuilding(Cell{0, 0})
	m.SetResourceTile(Cell{1, 0})
	m.SetRock(Cell{2, 1})
	rows := m.Rows()
	if len(rows) != 2 || rows[0] != "#*." || rows[1] != "..^" {
		t.Fatalf("rows = %q", rows)
	}
}

func TestGenerate_DeterministicAndKeepsClearance(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Seed = 7
	keep := []Cell{{10, 10}}

	m1 := NewMap(cfg.Width, cfg.Height)
	m2 := NewMap(cfg.Width, cfg.Height)
	a := Generate(cfg, m1, keep)
	b := Generate(cfg, m2, keep)

	if len(a) != len(b) {
		t.Fatalf("deposit counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("deposit %d differs", i)
		}
	}
	if m1.TileCounts()[TileRock] != m2.TileCounts()[TileRock] {
		t.Fatalf("rock layout differs")
	}

	for _, d := range a {
		if Chebyshev(d.Cell, keep[0]) <= cfg.Clearance {
			t.Fatalf("deposit at %s inside clearance", d.Cell)
		}
		if d.Richness < 0 || d.Richness > 1 || !d.Kind.Valid() {
			t.Fatalf("bad deposit %+v", d)
		}
		if m1.Tile(d.Cell)&TileRock != 0 {
			t.Fatalf("deposit on rock at %s", d.Cell)
		}
	}
	for y := keep[0].Y - cfg.Clearance; y <= keep[0].Y+cfg.Clearance; y++ {
		for x := keep[0].X - cfg.Clearance; x <= keep[0].X+cfg.Clearance; x++ {
			if m1.IsBlocked(Cell{x, y}) {
				t.Fatalf("rock inside clearance at (%d,%d)", x, y)
			}
		}
	}
}

func TestKind_ParseAndJSON(t *testing.T) {
	k, err := ParseKind(" cryocrystal ")
	if err != nil || k != KindCryoCrystal {
		t.Fatalf("ParseKind = %v, %v", k, err)
	}
	if _, err := ParseKind("gold"); err == nil {
		t.Fatalf("unknown kind should fail")
	}

	set := NewKindSet(KindAether, KindFerrite)
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `["Ferrite","Aether"]` {
		t.Fatalf("KindSet JSON = %s", raw)
	}
	var back KindSet
	if err := json.Unmarshal(raw, &back); err != nil || back != set {
		t.Fatalf("round trip = %v, %v", back, err)
	}
	if !NewKindSet().Empty() || AllKindSet.Empty() {
		t.Fatalf("Empty wrong")
	}
	if set.Has(KindBiomass) || !set.With(KindBiomass).Has(KindBiomass) || set.Without(KindAether).Has(KindAether) {
		t.Fatalf("set operations wrong")
	}
}

func TestAmounts(t *testing.T) {
	var a Amounts
	if !a.IsEmpty() {
		t.Fatalf("zero amounts should be empty")
	}
	a[KindFerrite] = 3
	a[KindCryoCrystal] = 4
	if a.Total() != 7 {
		t.Fatalf("Total = %d", a.Total())
	}
	names := a.ByName()
	if names["Ferrite"] != 3 || names["CryoCrystal"] != 4 || len(names) != 2 {
		t.Fatalf("ByName = %v", names)
	}
}
