package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency"`
	Panicked  bool          `json:"panicked,omitempty"`
}

// Healthy reports whether the component passed its check.
func (h ComponentHealth) Healthy() bool {
	return h.Status == HealthStatusHealthy
}

// HealthCheck is a liveness check for one collaborator.
type HealthCheck func(ctx context.Context) (bool, error)

// Probe runs check under timeout. A check that errors, panics or does not
// answer in time is reported unhealthy; Probe itself never fails.
func Probe(ctx context.Context, name string, timeout time.Duration, check HealthCheck) ComponentHealth {
	health := ComponentHealth{Name: name, Status: HealthStatusUnhealthy}
	if check == nil {
		health.Message = "no health check configured"
		health.LastCheck = time.Now()
		return health
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		ok       bool
		err      error
		panicked bool
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic recovered: %v", r), panicked: true}
			}
		}()
		ok, err := check(ctx)
		done <- outcome{ok: ok, err: err}
	}()

	select {
	case o := <-done:
		health.Panicked = o.panicked
		switch {
		case o.err != nil:
			health.Message = o.err.Error()
		case !o.ok:
			health.Message = "reported unhealthy"
		default:
			health.Status = HealthStatusHealthy
		}
	case <-ctx.Done():
		health.Message = fmt.Sprintf("health check timed out: %v", ctx.Err())
	}
	health.LastCheck = time.Now()
	health.Latency = time.Since(start)
	return health
}

// CheckAll probes every component concurrently.
func CheckAll(ctx context.Context, timeout time.Duration, checks map[string]HealthCheck) map[string]ComponentHealth {
	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			results <- Probe(ctx, n, timeout, c)
		}(name, check)
	}

	wg.Wait()
	close(results)

	out := make(map[string]ComponentHealth, len(checks))
	for h := range results {
		out[h.Name] = h
	}
	return out
}
