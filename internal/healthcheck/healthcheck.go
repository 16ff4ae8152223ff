// Package healthcheck aggregates shallow liveness checks for GET
// /health, generalizing the teacher's container health checker down to
// the two dependencies this service actually has: the Storage Backend
// and the Auth Provider, both of which expose Ping(ctx) error.
package healthcheck

import (
	"context"
	"time"
)

// Result is the outcome of one checker's Check call.
type Result struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Checker performs one liveness probe. Unlike the teacher's Checker,
// there is no CheckType here: this service has no child processes or
// raw sockets to probe with TCP/exec checkers, only the two Ping-shaped
// dependencies below.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// PingChecker wraps any dependency's Ping(ctx) error method as a Checker.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker builds a Checker from a named Ping function.
func NewPingChecker(name string, ping func(ctx context.Context) error) PingChecker {
	return PingChecker{name: name, ping: ping}
}

// Name returns the checker's name.
func (c PingChecker) Name() string { return c.name }

// Check runs the wrapped ping and times it.
func (c PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.ping(ctx)
	result := Result{
		Name:      c.name,
		Healthy:   err == nil,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

// Aggregator runs every registered Checker and reports overall health.
type Aggregator struct {
	checkers []Checker
}

// New builds an Aggregator over the given checkers.
func New(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers}
}

// Check runs every checker and returns whether all of them are healthy,
// along with the individual results in registration order.
func (a *Aggregator) Check(ctx context.Context) (bool, []Result) {
	results := make([]Result, 0, len(a.checkers))
	allHealthy := true
	for _, c := range a.checkers {
		r := c.Check(ctx)
		if !r.Healthy {
			allHealthy = false
		}
		results = append(results, r)
	}
	return allHealthy, results
}
