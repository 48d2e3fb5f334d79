package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rescueops-hub/internal/api"
	"rescueops-hub/internal/fleet"
)

// Client reads the hub's query API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the API rooted at base, e.g.
// http://localhost:8080.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Snapshot is one poll of the API.
type Snapshot struct {
	Benchmarks []fleet.LeaderboardEntry
	Trend      []api.TrendPoint
	Agents     []fleet.AgentState
	At         time.Time
}

// Fetch polls benchmarks, trend and agents.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	if err := c.get(ctx, "/api/benchmarks", &s.Benchmarks); err != nil {
		return s, err
	}
	if err := c.get(ctx, "/api/response-time-trend", &s.Trend); err != nil {
		return s, err
	}
	if err := c.get(ctx, "/api/agents", &s.Agents); err != nil {
		return s, err
	}
	s.At = time.Now()
	return s, nil
}
