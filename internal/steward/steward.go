package steward

import (
	"context"
	"fmt"
	"log/slog"
)

// Steward runs observe, triage, decide and act against one colony.
type Steward struct {
	Observer   *Observer
	Actor      *Actor
	Rules      Rules
	Memory     *CycleMemory
	MemoryPath string // empty keeps memory in process only
}

// New wires a Steward for the API at baseURL.
func New(baseURL, adminKey, memoryPath string) *Steward {
	mem := &CycleMemory{}
	if memoryPath != "" {
		mem = LoadMemory(memoryPath)
	}
	return &Steward{
		Observer:   NewObserver(baseURL),
		Actor:      NewActor(baseURL, adminKey),
		Rules:      DefaultRules(),
		Memory:     mem,
		MemoryPath: memoryPath,
	}
}

// RunCycle executes one cycle. The cycle is recorded in memory whether or
// not the intervention went through.
func (s *Steward) RunCycle(ctx context.Context) (*Decision, error) {
	snap, err := s.Observer.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	h := Triage(snap)
	slog.Info("observation complete",
		"tick", snap.Status.Tick,
		"level", h.Level,
		"storage_fill", fmt.Sprintf("%.2f", h.StorageFill),
		"imbalance", fmt.Sprintf("%.2f", h.Imbalance),
		"idle", h.Idle,
	)

	d := Decide(snap, h, s.Rules, s.Memory)
	rec := CycleRecord{
		Tick:        snap.Status.Tick,
		Action:      d.Action,
		Level:       h.Level,
		StorageFill: h.StorageFill,
		Imbalance:   h.Imbalance,
		Rationale:   d.Rationale,
	}
	defer func() {
		s.Memory.Record(rec)
		if s.MemoryPath != "" {
			s.Memory.Save(s.MemoryPath)
		}
	}()

	if d.Action == ActionNone {
		slog.Info("steward cycle complete, no intervention", "rationale", d.Rationale)
		return d, nil
	}

	res, err := s.Actor.Act(ctx, d)
	if err != nil {
		return d, fmt.Errorf("act: %w", err)
	}
	rec.Applied = res.Success
	slog.Info("intervention executed",
		"action", d.Action,
		"rationale", d.Rationale,
		"success", res.Success,
	)
	return d, nil
}
