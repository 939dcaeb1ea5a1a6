package steward

import (
	"encoding/json"
	"log/slog"
	"os"
)

const maxRecords = 10

// CycleRecord captures what happened in a single steward cycle.
type CycleRecord struct {
	Tick        uint64  `json:"tick"`
	Action      string  `json:"action"`
	Level       string  `json:"level"`
	StorageFill float64 `json:"storage_fill"`
	Imbalance   float64 `json:"imbalance"`
	Rationale   string  `json:"rationale,omitempty"`
	Applied     bool    `json:"applied"`
}

// CycleMemory manages a ring of recent steward cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file from disk. Returns empty memory if not found.
func LoadMemory(path string) *CycleMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("steward memory corrupted, starting fresh", "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save(path string) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal steward memory", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("failed to write steward memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// CyclesSince returns how many cycles have passed since action was last
// applied, or -1 if it is not in memory. The latest record counts as 0.
func (m *CycleMemory) CyclesSince(action string) int {
	if m == nil {
		return -1
	}
	for i := len(m.Records) - 1; i >= 0; i-- {
		if r := m.Records[i]; r.Action == action && r.Applied {
			return len(m.Records) - 1 - i
		}
	}
	return -1
}
