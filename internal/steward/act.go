package steward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/mini-colony/internal/world"
)

// ActionResult is what the admin API answered.
type ActionResult struct {
	Success bool            `json:"success"`
	ID      world.StorageID `json:"id,omitempty"`
	Kinds   world.KindSet   `json:"kinds"`
}

// Actor executes interventions via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act sends the decision's intervention to the matching admin endpoint.
func (a *Actor) Act(ctx context.Context, d *Decision) (*ActionResult, error) {
	if d.Intervention == nil {
		return nil, fmt.Errorf("%s decision carries no intervention", d.Action)
	}
	iv := d.Intervention
	switch d.Action {
	case ActionFilter:
		var res ActionResult
		if err := a.post(ctx, "/api/v1/allowed-kinds", map[string]any{"kinds": iv.Kinds}, &res); err != nil {
			return nil, err
		}
		res.Success = res.Kinds == iv.Kinds
		return &res, nil
	case ActionDepot:
		var res ActionResult
		body := map[string]any{"action": "add", "x": iv.Cell.X, "y": iv.Cell.Y, "capacity": iv.Capacity}
		if err := a.post(ctx, "/api/v1/depot", body, &res); err != nil {
			return nil, err
		}
		return &res, nil
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
}

func (a *Actor) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
