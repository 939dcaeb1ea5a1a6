package steward

import (
	"fmt"

	"github.com/talgya/mini-colony/internal/world"
)

// Decision actions.
const (
	ActionNone   = "none"
	ActionFilter = "filter"
	ActionDepot  = "depot"
)

// Decision is the outcome of one cycle.
type Decision struct {
	Action       string        `json:"action"`
	Rationale    string        `json:"rationale"`
	Intervention *Intervention `json:"intervention,omitempty"`
}

// Intervention is what the Actor sends to the admin API. Kinds is set for
// filter changes; Cell and Capacity for new depots.
type Intervention struct {
	Kinds    world.KindSet `json:"kinds,omitempty"`
	Cell     world.Cell    `json:"cell"`
	Capacity int           `json:"capacity,omitempty"`
}

// Rules tunes the steward.
type Rules struct {
	DepotCapacity    int     // capacity of depots the steward builds
	MaxDepots        int     // no new depots past this many storages
	DepotSpacing     int     // min Chebyshev distance between storages
	SearchRadius     int     // how far from the fullest storage to look for a site
	NarrowImbalance  float64 // drop the dominant kind at or above this ratio
	RestoreImbalance float64 // re-allow everything minable below this ratio
	StarvedIdle      float64 // idle fraction that forces the filter open
	FilterCooldown   int     // cycles between filter changes
}

// DefaultRules returns the rules the steward ships with.
func DefaultRules() Rules {
	return Rules{
		DepotCapacity:    1000,
		MaxDepots:        6,
		DepotSpacing:     2,
		SearchRadius:     8,
		NarrowImbalance:  2.0,
		RestoreImbalance: 1.25,
		StarvedIdle:      0.5,
		FilterCooldown:   2,
	}
}

// Decide picks at most one intervention. Storage pressure wins over
// stockpile balance; filter changes respect the cooldown in mem.
func Decide(snap *ColonySnapshot, h *ColonyHealth, rules Rules, mem *CycleMemory) *Decision {
	if h.Level == LevelCritical && len(snap.Storages) < rules.MaxDepots {
		if cell, ok := findDepotSite(snap, h, rules); ok {
			return &Decision{
				Action: ActionDepot,
				Rationale: fmt.Sprintf("storage %.0f%% full, building depot at %s",
					h.StorageFill*100, cell),
				Intervention: &Intervention{Cell: cell, Capacity: rules.DepotCapacity},
			}
		}
	}

	if since := mem.CyclesSince(ActionFilter); since >= 0 && since < rules.FilterCooldown {
		return &Decision{Action: ActionNone, Rationale: "filter cooling down"}
	}

	allowed := snap.Status.Allowed
	open := allowed | h.Minable

	// Workers with nothing to claim: open the filter to everything minable.
	if h.IdleFraction >= rules.StarvedIdle && allowed&h.Minable != h.Minable {
		return filterDecision(open, fmt.Sprintf("%.0f%% of workers idle", h.IdleFraction*100))
	}

	if h.Imbalance >= rules.NarrowImbalance && allowed.Has(h.Dominant) {
		narrowed := allowed.Without(h.Dominant)
		if narrowed&h.Minable != 0 {
			return filterDecision(narrowed, fmt.Sprintf("%s stockpile %.1fx the mean", h.Dominant, h.Imbalance))
		}
	}

	if h.Imbalance < rules.RestoreImbalance && allowed&h.Minable != h.Minable {
		return filterDecision(open, fmt.Sprintf("stockpile balanced (%.2fx)", h.Imbalance))
	}

	return &Decision{Action: ActionNone, Rationale: "colony " + h.Level}
}

func filterDecision(kinds world.KindSet, why string) *Decision {
	return &Decision{
		Action:       ActionFilter,
		Rationale:    fmt.Sprintf("%s, allowing %s", why, kinds),
		Intervention: &Intervention{Kinds: kinds},
	}
}

// findDepotSite walks rings outward from the fullest storage and returns the
// first free cell that keeps spacing from every storage and has a free
// neighbour for workers to unload from.
func findDepotSite(snap *ColonySnapshot, h *ColonyHealth, rules Rules) (world.Cell, bool) {
	if h.Fullest < 0 {
		return world.Cell{}, false
	}
	origin := snap.Storages[h.Fullest].Cell

	for r := max(1, rules.DepotSpacing); r <= rules.SearchRadius; r++ {
		for y := origin.Y - r; y <= origin.Y+r; y++ {
			for x := origin.X - r; x <= origin.X+r; x++ {
				c := world.Cell{X: x, Y: y}
				if world.Chebyshev(c, origin) != r || !snap.Map.Free(c) {
					continue
				}
				if siteOK(snap, c, rules.DepotSpacing) {
					return c, true
				}
			}
		}
	}
	return world.Cell{}, false
}

func siteOK(snap *ColonySnapshot, c world.Cell, spacing int) bool {
	for _, s := range snap.Storages {
		if world.Chebyshev(c, s.Cell) < spacing {
			return false
		}
	}
	for _, n := range c.Neighbors() {
		if snap.Map.Free(n) {
			return true
		}
	}
	return false
}
