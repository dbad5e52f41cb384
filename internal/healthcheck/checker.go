// Package healthcheck aggregates readiness checks for the health endpoint.
package healthcheck

import (
	"context"
	"sync"
	"time"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
)

// DefaultTimeout bounds every check run by Run.
const DefaultTimeout = 2 * time.Second

// CheckResult is one check item.
type CheckResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Checker evaluates one dependency.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// Report is the aggregate of all checks. Status is the worst item status.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Healthy reports whether nothing failed. Warnings count as healthy.
func (r Report) Healthy() bool { return r.Status != StatusError }

// Run evaluates checkers concurrently, each bounded by timeout, and keeps
// their order in the report.
func Run(ctx context.Context, timeout time.Duration, checkers ...Checker) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		if c == nil {
			results[i] = CheckResult{Status: StatusOK}
			continue
		}
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.Check(cctx)
		}(i, c)
	}
	wg.Wait()

	report := Report{Status: StatusOK, Checks: make([]CheckResult, 0, len(results))}
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		report.Checks = append(report.Checks, r)
		if rank(r.Status) > rank(report.Status) {
			report.Status = r.Status
		}
	}
	return report
}

func rank(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	default:
		return 2
	}
}
