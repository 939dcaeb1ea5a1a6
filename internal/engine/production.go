package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/talgya/mini-colony/internal/ledger"
	"github.com/talgya/mini-colony/internal/sched"
	"github.com/talgya/mini-colony/internal/world"
)

// ErrInsufficientStock is returned when a storage cannot cover a worker's
// production cost.
var ErrInsufficientStock = errors.New("insufficient stock")

// Production prices new workers. The cost is taken from one storage when the
// order is placed; the worker appears next to it after Time.
type Production struct {
	Cost world.Amounts
	Time time.Duration
}

// DefaultProduction charges 20 Ferrite and 10 Aether for a worker built in
// three seconds.
func DefaultProduction() Production {
	var cost world.Amounts
	cost[world.KindFerrite] = 20
	cost[world.KindAether] = 10
	return Production{Cost: cost, Time: 3 * time.Second}
}

// productionOrder is a paid-for worker waiting for its build timer.
type productionOrder struct {
	storage world.StorageID
	cell    world.Cell
	timer   sched.Timer
}

// OrderInfo describes one queued worker.
type OrderInfo struct {
	Storage world.StorageID `json:"storage"`
	Cell    world.Cell      `json:"cell"`
	ReadyIn float64         `json:"ready_in"` // simulated seconds, counts the orders ahead of it
}

// ProduceWorker charges the production cost to storage id and queues a new
// worker beside it. Orders build one at a time in the order placed. Nothing
// is withdrawn unless the whole cost is available.
func (s *Simulation) ProduceWorker(id world.StorageID) (OrderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.Ledger.Storage(id)
	if !ok {
		return OrderInfo{}, fmt.Errorf("produce worker at %d: %w", id, ledger.ErrUnknownStorage)
	}
	cost := s.production.Cost
	for k, need := range cost {
		if have := st.Amount(world.Kind(k)); have < need {
			return OrderInfo{}, fmt.Errorf("produce worker at %d: %s %d of %d: %w",
				id, world.Kind(k), have, need, ErrInsufficientStock)
		}
	}
	for k, need := range cost {
		if need == 0 {
			continue
		}
		if _, err := s.Ledger.Withdraw(id, world.Kind(k), need); err != nil {
			return OrderInfo{}, err
		}
	}

	o := &productionOrder{storage: id, cell: st.Cell(), timer: sched.NewTimer(s.production.Time)}
	if len(s.orders) == 0 {
		o.timer.Start(s.now)
	}
	s.orders = append(s.orders, o)
	s.record("production", 0, fmt.Sprintf("worker ordered at storage %d (%d queued)", id, len(s.orders)))
	return s.orderInfo(len(s.orders) - 1), nil
}

// ProductionQueue lists pending orders, next to complete first.
func (s *Simulation) ProductionQueue() []OrderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderInfo, len(s.orders))
	for i := range s.orders {
		out[i] = s.orderInfo(i)
	}
	return out
}

// orderInfo reports order i. Caller holds mu.
func (s *Simulation) orderInfo(i int) OrderInfo {
	o := s.orders[i]
	ready := s.orders[0].timer.Remaining(s.now) + time.Duration(i)*s.production.Time
	return OrderInfo{Storage: o.storage, Cell: o.cell, ReadyIn: ready.Seconds()}
}

// advanceProduction completes the head order once its timer is due. An order
// with nowhere to stand stays at the head and is retried next tick. Caller
// holds mu.
func (s *Simulation) advanceProduction() {
	if len(s.orders) == 0 {
		return
	}
	head := s.orders[0]
	if !head.timer.Due(s.now) {
		return
	}
	free := func(c world.Cell) bool {
		return s.Map.InBounds(c) && !s.Map.IsBlocked(c)
	}
	cell, ok := s.Spawner.Place(head.cell, 1, free)
	if !ok {
		return
	}
	head.timer.Stop()
	s.orders = s.orders[1:]
	s.addWorker(cell)
	if len(s.orders) > 0 {
		s.orders[0].timer.Start(s.now)
	}
}
