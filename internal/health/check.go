// Package health probes liveness targets and the detailed health endpoint,
// and raises throttled alerts for failing sets.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"golang.org/x/sync/errgroup"
)

// NewHTTPClient returns a client that does not follow redirects, so a 301 or
// 302 is judged against the accepted status set instead of its destination.
func NewHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// TargetResult is the outcome of one liveness request.
type TargetResult struct {
	Target   config.Target
	Status   int
	Err      error
	Duration time.Duration
}

func (r TargetResult) OK() bool {
	return r.Err == nil && r.Target.Accepts(r.Status)
}

// Describe renders the result for alerts and reports.
func (r TargetResult) Describe() string {
	switch {
	case errors.Is(r.Err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: timed out after %s", r.Target.Label(), r.Duration.Round(time.Millisecond))
	case r.Err != nil:
		return fmt.Sprintf("%s: %v", r.Target.Label(), r.Err)
	case r.OK():
		return fmt.Sprintf("%s: %d (%s)", r.Target.Label(), r.Status, r.Duration.Round(time.Millisecond))
	default:
		return fmt.Sprintf("%s: unexpected status %d", r.Target.Label(), r.Status)
	}
}

// CheckTarget issues one GET with its own deadline. A timeout is reported as
// a failed result, never as an error of the cycle.
func CheckTarget(ctx context.Context, client *http.Client, target config.Target, timeout time.Duration) TargetResult {
	if timeout <= 0 {
		timeout = constants.DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := TargetResult{Target: target}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Err = fmt.Errorf("invalid request: %w", err)
		return result
	}
	req.Header.Set("User-Agent", "shipyard/"+constants.Version)

	resp, err := client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	result.Status = resp.StatusCode
	return result
}

// CheckTargets probes all targets with at most concurrency requests in
// flight. Results keep the order of targets.
func CheckTargets(ctx context.Context, client *http.Client, targets []config.Target, timeout time.Duration, concurrency int) []TargetResult {
	results := make([]TargetResult, len(targets))
	g, gCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, target := range targets {
		g.Go(func() error {
			results[i] = CheckTarget(gCtx, client, target, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Failing returns the labels of failed results.
func Failing(results []TargetResult) []string {
	var labels []string
	for _, r := range results {
		if !r.OK() {
			labels = append(labels, r.Target.Label())
		}
	}
	return labels
}
