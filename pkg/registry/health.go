package registry

import (
	"context"
	"time"
)

// Health reports transport connectivity and the number of hosted services.
func (r *Registry) Health(_ context.Context) *HealthOutput {
	transportOk := r.transport != nil && r.transport.Available() == nil

	r.mu.RLock()
	count := len(r.services)
	r.mu.RUnlock()

	status := "healthy"
	if !transportOk {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status: status,
		Checks: HealthChecks{
			Transport: transportOk,
		},
		Services:  count,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
