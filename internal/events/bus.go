package events

import (
	"github.com/talgya/mini-colony/internal/world"
)

// Extracted is published each time a worker pulls resources from a node.
type Extracted struct {
	Worker    world.WorkerID `json:"worker"`
	Node      world.NodeID   `json:"node"`
	Kind      world.Kind     `json:"kind"`
	Cell      world.Cell     `json:"cell"`
	Amount    int            `json:"amount"`
	Remaining int            `json:"remaining"`
}

// Deposited is published when a worker unloads into a storage.
type Deposited struct {
	Worker  world.WorkerID  `json:"worker"`
	Storage world.StorageID `json:"storage"`
	Kind    world.Kind      `json:"kind"`
	Amount  int             `json:"amount"`
}

// StateChanged is published on every worker state transition.
type StateChanged struct {
	Worker world.WorkerID `json:"worker"`
	From   string         `json:"from"`
	To     string         `json:"to"`
	Reason string         `json:"reason"`
}

// Bus groups the topics the gathering core consumes and produces.
type Bus struct {
	// Inbound: driven by map, building, and game-rule collaborators.
	CellChanged         Topic[world.Cell]
	StorageAdded        Topic[world.StorageID]
	StorageRemoved      Topic[world.StorageID]
	AllowedKindsChanged Topic[world.KindSet]
	NodeRemoved         Topic[world.NodeID]

	// Outbound: read-only telemetry for rendering, UI, and logs.
	Extracted    Topic[Extracted]
	Deposited    Topic[Deposited]
	StateChanged Topic[StateChanged]
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}
