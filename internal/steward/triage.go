package steward

import (
	"github.com/talgya/mini-colony/internal/world"
)

// Pressure levels, most severe first.
const (
	LevelCritical = "CRITICAL"
	LevelWarning  = "WARNING"
	LevelWatch    = "WATCH"
	LevelHealthy  = "HEALTHY"
)

const (
	fillCritical   = 0.9
	fillWarning    = 0.75
	imbalanceWatch = 1.6
)

// ColonyHealth holds derived diagnostic signals computed from a
// ColonySnapshot. Triage is deterministic and talks to nobody.
type ColonyHealth struct {
	Capacity     int
	Used         int
	StorageFill  float64 // Used / Capacity, 1 when there is no storage at all
	Fullest      int     // index into ColonySnapshot.Storages, -1 if none
	FullestFill  float64
	Idle         int
	IdleFraction float64

	// Minable holds kinds with units left in the ground.
	Minable world.KindSet
	// Dominant is the minable kind with the largest stockpile. Imbalance is
	// its stockpile over the mean across minable kinds; 1 means balanced.
	Dominant  world.Kind
	Imbalance float64

	Level string
}

// Triage computes a ColonyHealth from the snapshot's data.
func Triage(snap *ColonySnapshot) *ColonyHealth {
	h := &ColonyHealth{Fullest: -1, Imbalance: 1}

	for i, s := range snap.Storages {
		h.Capacity += s.Capacity
		h.Used += s.Used()
		if s.Capacity <= 0 {
			continue
		}
		fill := float64(s.Used()) / float64(s.Capacity)
		if h.Fullest < 0 || fill > h.FullestFill {
			h.Fullest, h.FullestFill = i, fill
		}
	}
	if h.Capacity > 0 {
		h.StorageFill = float64(h.Used) / float64(h.Capacity)
	} else {
		h.StorageFill = 1
	}

	h.Idle = snap.Status.ByState["Idle"]
	if snap.Status.Workers > 0 {
		h.IdleFraction = float64(h.Idle) / float64(snap.Status.Workers)
	}

	remaining := amounts(snap.Stockpile.Remaining)
	stored := amounts(snap.Stockpile.Stored)
	var total, count int
	for _, k := range world.AllKinds() {
		if remaining[k] <= 0 {
			continue
		}
		h.Minable = h.Minable.With(k)
		total += stored[k]
		count++
		if count == 1 || stored[k] > stored[h.Dominant] {
			h.Dominant = k
		}
	}
	if count >= 2 && total > 0 {
		mean := float64(total) / float64(count)
		h.Imbalance = float64(stored[h.Dominant]) / mean
	}

	switch {
	case h.StorageFill >= fillCritical:
		h.Level = LevelCritical
	case h.StorageFill >= fillWarning:
		h.Level = LevelWarning
	case h.Imbalance >= imbalanceWatch:
		h.Level = LevelWatch
	default:
		h.Level = LevelHealthy
	}
	return h
}
