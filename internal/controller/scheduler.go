package controller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/driver"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
	"github.com/dc-tec/capi-helm-driver/internal/health"
	"github.com/dc-tec/capi-helm-driver/internal/logging"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/store"
)

// Driver is the part of the driver the scheduler drives.
type Driver interface {
	UpdateClusterStatus(ctx context.Context, c *cluster.Cluster) (driver.StatusResult, error)
	PollHealth(ctx context.Context, c *cluster.Cluster) (health.Report, error)
}

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	NamespacePrefix     string
	StatusInterval      string
	HealthInterval      string
	MaxConcurrentPasses int
	PassStartsPerSecond float64
	PassStartBurst      int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler periodically runs the status pass for in-progress clusters and
// the health pass for every other deployed cluster. Within a pass each
// cluster is visited once, and up to MaxConcurrentPasses clusters are
// visited concurrently.
type Scheduler struct {
	driver Driver
	store  store.Store
	opts   SchedulerOptions

	statusSchedule cron.Schedule
	healthSchedule cron.Schedule
	limiter        *rate.Limiter

	statusMetrics *PassMetrics
	healthMetrics *PassMetrics
}

// NewScheduler validates opts and returns a scheduler.
func NewScheduler(d Driver, st store.Store, opts SchedulerOptions) (*Scheduler, error) {
	statusSchedule, err := ParseSchedule(opts.StatusInterval)
	if err != nil {
		return nil, operrors.WrapPermanentConfig(err)
	}
	healthSchedule, err := ParseSchedule(opts.HealthInterval)
	if err != nil {
		return nil, operrors.WrapPermanentConfig(err)
	}
	if opts.MaxConcurrentPasses < 1 {
		opts.MaxConcurrentPasses = 1
	}
	if opts.PassStartsPerSecond <= 0 {
		opts.PassStartsPerSecond = constants.PassStartsPerSecond
	}
	if opts.PassStartBurst <= 0 {
		opts.PassStartBurst = constants.PassStartBurst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		driver:         d,
		store:          st,
		opts:           opts,
		statusSchedule: statusSchedule,
		healthSchedule: healthSchedule,
		limiter:        rate.NewLimiter(rate.Limit(opts.PassStartsPerSecond), opts.PassStartBurst),
		statusMetrics:  NewPassMetrics(PassKindStatus),
		healthMetrics:  NewPassMetrics(PassKindHealth),
	}, nil
}

// NeedLeaderElection makes only the elected replica run passes.
func (s *Scheduler) NeedLeaderElection() bool {
	return true
}

// Start runs passes until ctx is cancelled. A status pass runs immediately.
// A status pass that hit retryable errors is repeated after the retry delay
// when that comes before its next scheduled run.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("scheduler")
	ctx = log.IntoContext(ctx, logger)
	logger.Info("Starting scheduler",
		"status_interval", s.opts.StatusInterval,
		"health_interval", s.opts.HealthInterval,
		"max_concurrent_passes", s.opts.MaxConcurrentPasses)

	now := s.opts.Now()
	nextStatus := now
	nextHealth := s.healthSchedule.Next(now)

	for {
		next := nextStatus
		if nextHealth.Before(next) {
			next = nextHealth
		}

		timer := time.NewTimer(max(next.Sub(s.opts.Now()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Stopping scheduler")
			return nil
		case <-timer.C:
		}

		now = s.opts.Now()
		if !now.Before(nextStatus) {
			retryAfter, err := s.RunStatusPass(ctx)
			if err != nil {
				logger.Error(err, "Status pass failed")
			}
			nextStatus = s.statusSchedule.Next(now)
			if retryAfter > 0 && now.Add(retryAfter).Before(nextStatus) {
				logger.V(1).Info("Retrying status pass early", "retry_after", retryAfter)
				nextStatus = now.Add(retryAfter)
			}
		}
		if !now.Before(nextHealth) {
			if err := s.RunHealthPass(ctx); err != nil {
				logger.Error(err, "Health pass failed")
			}
			nextHealth = s.healthSchedule.Next(now)
		}
	}
}

// RunStatusPass advances every cluster that is in progress or has a nodegroup
// in progress, and prunes the records of clusters whose deletion completed. Per-cluster failures are logged and
// counted without stopping the pass. It returns the shortest retry delay
// requested by a retryable failure, or zero.
func (s *Scheduler) RunStatusPass(ctx context.Context) (time.Duration, error) {
	clusters, err := s.store.ListClusters(ctx)
	if err != nil {
		s.statusMetrics.IncrementError(operrors.Reason(err))
		return 0, fmt.Errorf("failed to list clusters: %w", err)
	}

	var (
		mu         sync.Mutex
		retryAfter time.Duration
	)
	err = s.forEach(ctx, clusters, func(ctx context.Context, c *cluster.Cluster) {
		var delay time.Duration
		switch {
		case c.Status == cluster.StatusDeleteComplete:
			s.prune(ctx, c)
		case c.Status.InProgress(), c.NodeGroupsInProgress():
			delay = s.updateStatus(ctx, c)
		}
		if delay > 0 {
			mu.Lock()
			if retryAfter == 0 || delay < retryAfter {
				retryAfter = delay
			}
			mu.Unlock()
		}
	})
	return retryAfter, err
}

// RunHealthPass polls the health of every deployed cluster that is not in
// progress and records the result when it changed.
func (s *Scheduler) RunHealthPass(ctx context.Context) error {
	clusters, err := s.store.ListClusters(ctx)
	if err != nil {
		s.healthMetrics.IncrementError(operrors.Reason(err))
		return fmt.Errorf("failed to list clusters: %w", err)
	}

	return s.forEach(ctx, clusters, func(ctx context.Context, c *cluster.Cluster) {
		if c.ReleaseID == "" || c.Status.InProgress() || c.NodeGroupsInProgress() || c.Status == cluster.StatusDeleteComplete {
			return
		}
		s.updateHealth(ctx, c)
	})
}

// forEach visits clusters concurrently, bounded by MaxConcurrentPasses and
// the pass start rate.
func (s *Scheduler) forEach(ctx context.Context, clusters []*cluster.Cluster, visit func(context.Context, *cluster.Cluster)) error {
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrentPasses)

	for _, c := range clusters {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			logger := log.FromContext(ctx).WithValues("cluster_uuid", c.UUID, "cluster_name", c.Name)
			visit(log.IntoContext(ctx, logger), c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scheduler) updateStatus(ctx context.Context, c *cluster.Cluster) time.Duration {
	logger := log.FromContext(ctx)
	started := s.opts.Now()

	result, err := s.driver.UpdateClusterStatus(ctx, c)
	s.statusMetrics.ObserveDuration(s.opts.Now().Sub(started).Seconds())
	s.statusMetrics.RecordNodeGroupsDestroyed(len(result.DestroyedNodeGroups))
	s.clusterMetrics(c).SetStatus(c.Status)

	if err != nil {
		return s.handleError(logger, s.statusMetrics, err, "Status pass for cluster failed")
	}
	if result.DeleteCompleted {
		s.prune(ctx, c)
	}
	return 0
}

func (s *Scheduler) updateHealth(ctx context.Context, c *cluster.Cluster) {
	logger := log.FromContext(ctx)
	started := s.opts.Now()

	report, err := s.driver.PollHealth(ctx, c)
	s.healthMetrics.ObserveDuration(s.opts.Now().Sub(started).Seconds())
	if err != nil {
		s.handleError(logger, s.healthMetrics, err, "Health poll for cluster failed")
		return
	}
	s.clusterMetrics(c).SetHealth(report.Status)

	if c.HealthStatus == report.Status && maps.Equal(c.HealthStatusReason, report.Reasons) {
		return
	}
	previous := c.HealthStatus
	c.HealthStatus = report.Status
	c.HealthStatusReason = report.Reasons
	if err := s.store.SaveCluster(ctx, c); err != nil {
		s.handleError(logger, s.healthMetrics, err, "Failed to save cluster health")
		return
	}
	logger.Info("Cluster health changed", "from", previous, "to", report.Status)
}

// prune removes the record of a cluster whose deletion completed.
func (s *Scheduler) prune(ctx context.Context, c *cluster.Cluster) {
	logger := log.FromContext(ctx)
	if err := s.store.DeleteCluster(ctx, c.UUID); err != nil {
		s.handleError(logger, s.statusMetrics, err, "Failed to prune deleted cluster")
		return
	}
	s.clusterMetrics(c).Clear()
	logging.LogAuditEvent(logger, logging.EventClusterPruned, map[string]string{
		"cluster_uuid": c.UUID,
		"project_id":   c.ProjectID,
	})
}

func (s *Scheduler) handleError(logger logr.Logger, m *PassMetrics, err error, msg string) time.Duration {
	reason := operrors.Reason(err)
	m.IncrementError(reason)
	retry, after := operrors.ShouldRetry(err)
	logger.Error(err, msg, "reason", reason, "retry", retry)
	if !retry {
		return 0
	}
	return after
}

func (s *Scheduler) clusterMetrics(c *cluster.Cluster) *ClusterMetrics {
	return NewClusterMetrics(naming.Namespace(s.opts.NamespacePrefix, c.ProjectID), c.Name)
}
