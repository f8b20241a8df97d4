package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ameistad/shipyard/internal/constants"
)

type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// DetailedReport maps each dependency reported by the detailed health
// endpoint to its status.
type DetailedReport map[string]ComponentStatus

// Unhealthy returns the sorted names of unhealthy components. Unknown
// components are not included.
func (r DetailedReport) Unhealthy() []string {
	var names []string
	for name, status := range r {
		if status == StatusUnhealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r DetailedReport) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// summaryKeys are top-level fields describing the whole report rather than a
// component.
var summaryKeys = map[string]bool{"status": true, "overall": true, "timestamp": true, "version": true}

// ParseDetailed reads a body of the form
//
//	{"status": "ok", "database": {"status": "healthy"}, "redis": {"status": "unhealthy", "error": "..."}}
//
// Every object-valued key with a status field is a component.
func ParseDetailed(body []byte) (DetailedReport, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse detailed health: %w", err)
	}
	report := DetailedReport{}
	for key, value := range raw {
		if summaryKeys[key] {
			continue
		}
		var component struct {
			Status *string `json:"status"`
		}
		if err := json.Unmarshal(value, &component); err != nil || component.Status == nil {
			continue
		}
		report[key] = classify(*component.Status)
	}
	return report, nil
}

func classify(status string) ComponentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "healthy", "ok", "up", "pass":
		return StatusHealthy
	case "unhealthy", "down", "fail", "error":
		return StatusUnhealthy
	default:
		return StatusUnknown
	}
}

// FetchDetailed gets and parses the detailed health endpoint. The endpoint
// typically answers 503 while a dependency is down, so the body is parsed
// regardless of status.
func FetchDetailed(ctx context.Context, client *http.Client, url string, timeout time.Duration) (DetailedReport, error) {
	if timeout <= 0 {
		timeout = constants.DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid detailed health url: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach detailed health endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read detailed health: %w", err)
	}
	report, err := ParseDetailed(body)
	if err != nil {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, err)
	}
	return report, nil
}
