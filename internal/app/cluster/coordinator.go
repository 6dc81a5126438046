// Package cluster defines how worker replicas agree on a single leader for
// singleton duties such as the stall sweeper.
package cluster

import "context"

// Coordinator elects at most one leader among the replicas sharing it.
type Coordinator interface {
	// Start takes part in the election and blocks until ctx is done or Stop
	// is called.
	Start(ctx context.Context) error
	Stop() error
	// OnLeadershipChange registers the callback told about every gain or
	// loss of leadership. Register it before Start.
	OnLeadershipChange(cb func(isLeader bool))
}
