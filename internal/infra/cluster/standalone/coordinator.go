// Package standalone provides a coordinator for deployments with a single
// worker, which is always the leader.
package standalone

import (
	"context"

	"github.com/ahrav/schedule-armada/internal/app/cluster"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Coordinator grants leadership as soon as it starts and gives it up when
// its context ends.
type Coordinator struct {
	cb     func(isLeader bool)
	logger *logger.Logger
}

// NewCoordinator creates a standalone coordinator.
func NewCoordinator(logger *logger.Logger) *Coordinator {
	return &Coordinator{logger: logger.With("component", "standalone_coordinator")}
}

// OnLeadershipChange registers the leadership callback.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) { c.cb = cb }

// Start reports leadership and blocks until ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info(ctx, "running standalone, assuming leadership")
	if c.cb != nil {
		c.cb(true)
	}

	<-ctx.Done()
	if c.cb != nil {
		c.cb(false)
	}
	return nil
}

// Stop is a no-op; leadership ends with the Start context.
func (c *Coordinator) Stop() error { return nil }
