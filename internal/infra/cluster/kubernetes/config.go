package kubernetes

import "time"

// K8sConfig names the Lease contended for and tunes its timing.
type K8sConfig struct {
	Namespace    string
	LeaderLockID string
	// Identity names this replica in the lease, usually the pod name.
	Identity string

	// Zero values take client-go's recommended 15s/10s/2s.
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *K8sConfig) withDefaults() K8sConfig {
	out := *c
	if out.LeaseDuration <= 0 {
		out.LeaseDuration = 15 * time.Second
	}
	if out.RenewDeadline <= 0 {
		out.RenewDeadline = 10 * time.Second
	}
	if out.RetryPeriod <= 0 {
		out.RetryPeriod = 2 * time.Second
	}
	return out
}
