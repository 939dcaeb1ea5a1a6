// Package steward implements the colony steward, a rule-based operator that
// runs beside colonysim. It observes the colony through the public API,
// triages storage pressure and stockpile balance, and acts through the admin
// endpoints.
package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/mini-colony/internal/world"
)

// ColonySnapshot holds all data collected during an observation cycle.
type ColonySnapshot struct {
	Status    ColonyStatus  `json:"status"`
	Stockpile StockpileData `json:"stockpile"`
	Storages  []StorageInfo `json:"storages"`
	Map       MapData       `json:"map"`
}

// ColonyStatus mirrors GET /api/v1/status.
type ColonyStatus struct {
	Name     string         `json:"name"`
	RunID    string         `json:"run_id"`
	Tick     uint64         `json:"tick"`
	SimTime  string         `json:"sim_time"`
	Speed    float64        `json:"speed"`
	Running  bool           `json:"running"`
	Workers  int            `json:"workers"`
	ByState  map[string]int `json:"by_state"`
	Nodes    int            `json:"nodes"`
	Storages int            `json:"storages"`
	Allowed  world.KindSet  `json:"allowed"`
}

// StockpileData mirrors GET /api/v1/stockpile.
type StockpileData struct {
	Stored    map[string]int `json:"stored"`
	Extracted map[string]int `json:"extracted"`
	Delivered map[string]int `json:"delivered"`
	Remaining map[string]int `json:"remaining"`
	InTransit int            `json:"in_transit"`
}

// StorageInfo mirrors items from GET /api/v1/storages.
type StorageInfo struct {
	ID        world.StorageID `json:"id"`
	Cell      world.Cell      `json:"cell"`
	Capacity  int             `json:"capacity"`
	Remaining int             `json:"remaining"`
	Contents  map[string]int  `json:"contents"`
}

// Used is the number of units held.
func (s StorageInfo) Used() int { return s.Capacity - s.Remaining }

// MapData mirrors GET /api/v1/map.
type MapData struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Rows   []string `json:"rows"`
}

// Free reports whether c is inside the map and shows no obstacle.
func (m MapData) Free(c world.Cell) bool {
	if c.Y < 0 || c.Y >= len(m.Rows) || c.X < 0 || c.X >= len(m.Rows[c.Y]) {
		return false
	}
	return m.Rows[c.Y][c.X] == '.'
}

// Observer fetches colony state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the four endpoints and returns a ColonySnapshot.
func (o *Observer) Observe(ctx context.Context) (*ColonySnapshot, error) {
	snap := &ColonySnapshot{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/stockpile", &snap.Stockpile); err != nil {
		return nil, fmt.Errorf("fetch stockpile: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/storages", &snap.Storages); err != nil {
		return nil, fmt.Errorf("fetch storages: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/map", &snap.Map); err != nil {
		return nil, fmt.Errorf("fetch map: %w", err)
	}

	return snap, nil
}

// Ready reports whether the status endpoint answers.
func (o *Observer) Ready(ctx context.Context) bool {
	var st ColonyStatus
	return o.fetchJSON(ctx, "/api/v1/status", &st) == nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// amounts converts a by-name map from the API back into per-kind counts.
// Unknown names are ignored.
func amounts(byName map[string]int) world.Amounts {
	var a world.Amounts
	for name, n := range byName {
		if k, err := world.ParseKind(name); err == nil {
			a[k] = n
		}
	}
	return a
}
