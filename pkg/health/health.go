// Package health runs named dependency checks for the liveness and readiness
// probes of the search service.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Status is the state of one component or of the service as a whole.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func Up(msg string) ComponentHealth   { return ComponentHealth{Status: StatusUp, Message: msg} }
func Down(msg string) ComponentHealth { return ComponentHealth{Status: StatusDown, Message: msg} }
func Degraded(msg string) ComponentHealth {
	return ComponentHealth{Status: StatusDegraded, Message: msg}
}

// Report is the readiness response body.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

type namedCheck struct {
	name  string
	check Check
}

type Checker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	started time.Time
	logger  *slog.Logger
}

// NewChecker returns a Checker whose readiness probe bounds all checks by
// timeout (5s when zero).
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		timeout: timeout,
		started: time.Now(),
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds a check. A second check under the same name replaces the first.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.IndexFunc(c.checks, func(nc namedCheck) bool { return nc.name == name }); i >= 0 {
		c.checks[i].check = check
		return
	}
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Run executes every check concurrently and reports the worst status.
// A check that panics reports down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, nc := range checks {
		wg.Go(func() {
			start := time.Now()
			results[i] = runCheck(ctx, nc.check)
			results[i].LatencyMS = time.Since(start).Milliseconds()
		})
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	for i, nc := range checks {
		res := results[i]
		report.Components[nc.name] = res
		if res.Status.severity() > report.Status.severity() {
			report.Status = res.Status
		}
		if res.Status != StatusUp {
			c.logger.Warn("component not healthy", "name", nc.name, "status", res.Status, "message", res.Message)
		}
	}
	return report
}

func runCheck(ctx context.Context, check Check) (res ComponentHealth) {
	defer func() {
		if p := recover(); p != nil {
			res = Down(fmt.Sprintf("check panicked: %v", p))
		}
	}()
	return check(ctx)
}

// LiveHandler answers liveness probes without running any check.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "alive",
			"uptime_seconds": int64(time.Since(c.started).Seconds()),
		})
	}
}

// ReadyHandler answers readiness probes. Degraded still returns 200; only a
// down component returns 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
