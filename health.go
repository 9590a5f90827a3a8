package effects

import "time"

// HealthStatus is a point-in-time health snapshot of a circuit breaker.
// It provides a strongly-typed alternative to map[string]interface{} for
// health endpoints.
type HealthStatus struct {
	// Healthy is true unless the breaker is open. Half-open counts as
	// degraded but operational.
	Healthy bool `json:"healthy"`

	// State is the string representation of the breaker state.
	State string `json:"state"`

	// FailureCount is the number of failures in the current window.
	FailureCount int `json:"failure_count"`

	// SuccessCount is the number of successes in the current window.
	SuccessCount int `json:"success_count"`

	// TotalRequests is the number of requests in the current window.
	TotalRequests int `json:"total_requests"`

	// FailureRate is failures/total over the current window.
	FailureRate float64 `json:"failure_rate"`

	// LastStateChange is when the breaker last changed state.
	LastStateChange time.Time `json:"last_state_change"`
}
