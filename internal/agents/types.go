// Package agents provides the worker data model and the gather-carry-deposit
// state machine.
package agents

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/talgya/mini-colony/internal/world"
)

// State is a worker's lifecycle phase.
type State uint8

const (
	StateIdle State = iota
	StateMoving
	StateMining
	StateReturningToStorage
	StateUnloading
)

var stateNames = [...]string{"Idle", "Moving", "Mining", "ReturningToStorage", "Unloading"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", b)
}

// Reason explains a state transition. Recoverable failures surface here
// instead of as errors.
type Reason uint8

const (
	ReasonNone         Reason = iota
	ReasonNodeClaimed         // Reserved a node and planned a route
	ReasonArrived             // Reached mining or unloading range
	ReasonTargetLost          // Node depleted, removed, or lost while en route
	ReasonNodeDepleted        // Node ran dry while mining
	ReasonCargoFull           // Carrying capacity reached
	ReasonNoNode              // No claimable node, delivering partial load
	ReasonStorageLost         // Storage removed or filled by others
	ReasonNoStorage           // No storage with room
	ReasonNoPath              // Planner found no route
	ReasonKindFiltered        // Target kind no longer allowed
	ReasonUnloaded            // Deposit finished
	ReasonClosed              // Worker removed
)

var reasonNames = [...]string{
	"none", "node_claimed", "arrived", "target_lost", "node_depleted",
	"cargo_full", "no_node", "storage_lost", "no_storage", "no_path",
	"kind_filtered", "unloaded", "closed",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Tuning holds the per-worker constants.
type Tuning struct {
	MoveSpeed         float64       // world units per second
	WaypointTolerance float64       // distance at which a waypoint counts as reached
	CarryCapacity     int           // max total cargo across kinds
	MiningRate        int           // units per extraction
	MiningInterval    time.Duration // between extractions
	MiningRange       float64       // max distance to a node while mining
	UnloadRange       float64       // max distance to a storage while unloading
	UnloadDelay       time.Duration // one-shot wait before depositing
	SearchInterval    time.Duration // idle poll period
	MaxCandidates     int           // nodes tried per poll before giving up

	// KindIntervals overrides MiningInterval per kind; zero entries fall back.
	KindIntervals [world.NumKinds]time.Duration
}

// DefaultTuning returns the stock worker constants.
func DefaultTuning() Tuning {
	return Tuning{
		MoveSpeed:         5,
		WaypointTolerance: 0.1,
		CarryCapacity:     50,
		MiningRate:        10,
		MiningInterval:    time.Second,
		MiningRange:       1.5,
		UnloadRange:       1.5,
		UnloadDelay:       time.Second,
		SearchInterval:    2 * time.Second,
		MaxCandidates:     8,
	}
}

// MiningIntervalFor returns the extraction period for kind k.
func (t Tuning) MiningIntervalFor(k world.Kind) time.Duration {
	if k.Valid() && t.KindIntervals[k] > 0 {
		return t.KindIntervals[k]
	}
	return t.MiningInterval
}

// Cargo is the carried-amount ledger. Its total never exceeds capacity.
type Cargo struct {
	amounts  world.Amounts
	capacity int
}

// NewCargo returns empty cargo bounded by capacity.
func NewCargo(capacity int) Cargo {
	return Cargo{capacity: max(0, capacity)}
}

func (c *Cargo) Capacity() int { return c.capacity }
func (c *Cargo) Total() int { return c.amounts.Total() }
func (c *Cargo) Free() int { return max(0, c.capacity-c.amounts.Total()) }
func (c *Cargo) Full() bool { return c.Free() == 0 }
func (c *Cargo) Empty() bool { return c.amounts.IsEmpty() }
func (c *Cargo) Amounts() world.Amounts { return c.amounts }

// Amount returns the carried quantity of k.
func (c *Cargo) Amount(k world.Kind) int {
	if !k.Valid() {
		return 0
	}
	return c.amounts[k]
}

// Add loads up to n units of k and returns how many fit.
func (c *Cargo) Add(k world.Kind, n int) int {
	if !k.Valid() || n <= 0 {
		return 0
	}
	n = min(n, c.Free())
	c.amounts[k] += n
	return n
}

// Remove unloads up to n units of k and returns how many left.
func (c *Cargo) Remove(k world.Kind, n int) int {
	if !k.Valid() || n <= 0 {
		return 0
	}
	n = min(n, c.amounts[k])
	c.amounts[k] -= n
	return n
}

// Snapshot is a read-only view of a worker for rendering and the API.
type Snapshot struct {
	ID         world.WorkerID  `json:"id"`
	Name       string          `json:"name"`
	State      State           `json:"state"`
	Position   orb.Point       `json:"position"`
	Cell       world.Cell      `json:"cell"`
	Cargo      map[string]int  `json:"cargo"`
	CargoTotal int             `json:"cargo_total"`
	Capacity   int             `json:"capacity"`
	Node       world.NodeID    `json:"node,omitempty"`
	Storage    world.StorageID `json:"storage,omitempty"`
	PathLeft   int             `json:"path_left"`
}
