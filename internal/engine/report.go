package engine

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-colony/internal/world"
)

// Report logs a periodic colony summary and returns the stats it used.
func (s *Simulation) Report(tick uint64) SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateStats()
	st := s.stats

	// Count events by category since the previous report.
	counts := make(map[string]int)
	for i := len(s.events) - 1; i >= 0 && s.events[i].Tick > s.reportedTick; i-- {
		counts[s.events[i].Category]++
	}
	s.reportedTick = tick

	slog.Info("colony report",
		"tick", tick,
		"time", SimTime(s.now),
		"workers", st.Workers,
		"idle", st.ByState["Idle"],
		"mining", st.ByState["Mining"],
		"hauling", st.ByState["ReturningToStorage"],
		"nodes", st.Nodes,
		"storages", st.Storages,
		"reservations", st.Reservations,
		"extracted", humanize.Comma(int64(st.Extracted.Total())),
		"delivered", humanize.Comma(int64(st.Delivered.Total())),
		"in_transit", humanize.Comma(int64(st.InTransit)),
		"remaining", humanize.Comma(int64(st.Remaining.Total())),
		"path_failures", st.PathFailures,
		"events_extract", counts["extract"],
		"events_deposit", counts["deposit"],
	)

	stock := s.Ledger.Stockpile()
	for _, k := range world.AllKinds() {
		if stock[k] > 0 {
			slog.Info("stockpile", "kind", k, "amount", humanize.Comma(int64(stock[k])))
		}
	}
	return st
}
