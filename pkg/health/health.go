package health

import (
	"context"
	"time"
)

// Readiness status values
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// defaultProbeTimeout bounds a single dependency probe
const defaultProbeTimeout = 5 * time.Second

// Result represents the outcome of a dependency probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface all dependency probes implement
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Name returns the dependency name as reported to callers
	Name() string
}

// Registry runs an ordered set of dependency probes. Registration order
// is report order, so readiness payloads stay stable across calls.
type Registry struct {
	checkers []Checker
	timeout  time.Duration
}

// NewRegistry creates a registry over the given probes
func NewRegistry(checkers ...Checker) *Registry {
	return &Registry{
		checkers: checkers,
		timeout:  defaultProbeTimeout,
	}
}

// WithTimeout overrides the per-probe timeout
func (reg *Registry) WithTimeout(timeout time.Duration) *Registry {
	reg.timeout = timeout
	return reg
}

// DependencyStatus is one dependency's health as reported to clients
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// Report is the readiness answer
type Report struct {
	Status       string             `json:"status"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// Ready reports whether every dependency probe passed
func (r Report) Ready() bool {
	return r.Status == StatusReady
}

// Check probes every dependency, each under its own timeout. Probes run
// sequentially; a hung dependency delays the report by at most one
// timeout, it cannot wedge it.
func (reg *Registry) Check(ctx context.Context) Report {
	report := Report{
		Status:       StatusReady,
		Dependencies: make([]DependencyStatus, 0, len(reg.checkers)),
	}
	for _, checker := range reg.checkers {
		probeCtx, cancel := context.WithTimeout(ctx, reg.timeout)
		result := checker.Check(probeCtx)
		cancel()

		if !result.Healthy {
			report.Status = StatusNotReady
		}
		report.Dependencies = append(report.Dependencies, DependencyStatus{
			Name:    checker.Name(),
			Healthy: result.Healthy,
		})
	}
	return report
}

// Results probes every dependency and returns the full results keyed by
// name, for callers that need messages and durations rather than the
// wire report.
func (reg *Registry) Results(ctx context.Context) map[string]Result {
	results := make(map[string]Result, len(reg.checkers))
	for _, checker := range reg.checkers {
		probeCtx, cancel := context.WithTimeout(ctx, reg.timeout)
		results[checker.Name()] = checker.Check(probeCtx)
		cancel()
	}
	return results
}
