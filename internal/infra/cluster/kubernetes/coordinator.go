// Package kubernetes elects the worker replica that runs the stall sweeper by
// contending for a coordination.k8s.io Lease.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/schedule-armada/internal/app/cluster"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

var _ cluster.Coordinator = (*LeaseCoordinator)(nil)

// LeaseCoordinator reports leadership of one Lease to a registered callback.
// A replica that loses the lease rejoins the election until stopped.
type LeaseCoordinator struct {
	cfg     K8sConfig
	elector *leaderelection.LeaderElector
	leading atomic.Bool

	mu     sync.Mutex
	cb     func(isLeader bool)
	cancel context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator builds a LeaseCoordinator from the in-cluster service
// account, or the local kubeconfig when run outside a cluster.
func NewCoordinator(cfg *K8sConfig, logger *logger.Logger, tracer trace.Tracer) (*LeaseCoordinator, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, nil).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes client config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return newCoordinator(client, cfg, logger, tracer)
}

func newCoordinator(
	client kubernetes.Interface,
	cfg *K8sConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*LeaseCoordinator, error) {
	if cfg == nil {
		return nil, errors.New("kubernetes coordinator config is required")
	}

	c := &LeaseCoordinator{
		cfg: cfg.withDefaults(),
		logger: logger.With(
			"component", "lease_coordinator",
			"lease", cfg.Namespace+"/"+cfg.LeaderLockID,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta:  metav1.ObjectMeta{Name: cfg.LeaderLockID, Namespace: cfg.Namespace},
			Client:     client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{Identity: cfg.Identity},
		},
		Name:            cfg.LeaderLockID,
		LeaseDuration:   c.cfg.LeaseDuration,
		RenewDeadline:   c.cfg.RenewDeadline,
		RetryPeriod:     c.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) { c.transition(ctx, true) },
			OnStoppedLeading: func() { c.transition(context.Background(), false) },
			OnNewLeader: func(identity string) {
				if identity != cfg.Identity {
					c.logger.Info(context.Background(), "Lease held elsewhere", "holder", identity)
				}
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	c.elector = elector

	return c, nil
}

// Start contends for the lease until ctx is done or Stop is called. The
// lease is released on the way out.
func (c *LeaseCoordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.logger.Info(ctx, "Joining leader election")
	for ctx.Err() == nil {
		c.elector.Run(ctx)
	}
	return nil
}

// Stop ends a running Start.
func (c *LeaseCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// OnLeadershipChange registers cb. It must be called before Start.
func (c *LeaseCoordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// IsLeader reports whether this replica currently holds the lease.
func (c *LeaseCoordinator) IsLeader() bool { return c.leading.Load() }

func (c *LeaseCoordinator) transition(ctx context.Context, leading bool) {
	if c.leading.Swap(leading) == leading {
		return
	}

	_, span := c.tracer.Start(ctx, "lease_coordinator.transition",
		trace.WithAttributes(attribute.Bool("leading", leading)))
	defer span.End()

	if leading {
		c.logger.Info(ctx, "Acquired lease")
	} else {
		c.logger.Info(ctx, "Released lease")
	}

	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(leading)
	}
}
