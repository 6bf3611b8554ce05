package driver

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/logging"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/status"
)

// StatusResult summarizes what one UpdateClusterStatus pass changed.
type StatusResult struct {
	// NodeGroupsInProgress is true while any nodegroup is still in a *_IN_PROGRESS status.
	NodeGroupsInProgress bool
	// DestroyedNodeGroups names the nodegroup records removed during the pass.
	DestroyedNodeGroups []string
	// DeleteCompleted is true when the pass finished the deletion of the cluster.
	DeleteCompleted bool
}

// UpdateClusterStatus polls the Cluster API resources of c and moves the
// cluster and its nodegroups through their state machine. Each change is
// persisted as it is made, and re-running a pass derives the same result.
func (d *Driver) UpdateClusterStatus(ctx context.Context, c *cluster.Cluster) (StatusResult, error) {
	var result StatusResult
	if c.ReleaseID == "" {
		return result, nil
	}

	namespace := d.namespace(c)
	logger := log.FromContext(ctx).WithValues(
		"cluster_uuid", c.UUID,
		"cluster_name", c.Name,
		"namespace", namespace,
		"release", c.ReleaseID,
	)
	ctx = log.IntoContext(ctx, logger)

	inProgress, destroyed, err := d.updateNodeGroups(ctx, c, namespace)
	result.NodeGroupsInProgress = inProgress
	result.DestroyedNodeGroups = destroyed
	if err != nil {
		return result, err
	}

	if !c.Status.InProgress() {
		return result, nil
	}

	capiCluster, err := d.kube.GetCluster(ctx, naming.ResourceName(c, ""), namespace)
	if err != nil {
		return result, err
	}

	switch c.Status {
	case cluster.StatusCreateInProgress, cluster.StatusUpdateInProgress:
		if capiCluster == nil {
			logger.V(1).Info("Cluster resource not present yet")
			return result, nil
		}
		if err := d.captureAPIAddress(ctx, c, capiCluster); err != nil {
			return result, err
		}
		return result, d.updateAggregate(ctx, c, capiCluster, namespace, inProgress)

	case cluster.StatusDeleteInProgress:
		if capiCluster != nil {
			return result, nil
		}
		if err := d.finishDeletion(ctx, c, namespace); err != nil {
			return result, err
		}
		result.DeleteCompleted = true
		return result, nil

	default:
		logger.V(1).Info("No status transition for cluster status", "status", c.Status)
		return result, nil
	}
}

// updateNodeGroups runs the nodegroup state machine, controllers first, and
// reports whether any nodegroup remains in progress.
func (d *Driver) updateNodeGroups(ctx context.Context, c *cluster.Cluster, namespace string) (bool, []string, error) {
	var (
		inProgress bool
		destroyed  []string
	)
	for _, ng := range c.NodeGroupsControllerFirst() {
		updated, err := d.UpdateNodeGroupStatus(ctx, c, ng, namespace)
		if err != nil {
			return inProgress, destroyed, err
		}
		if updated == nil {
			destroyed = append(destroyed, ng.Name)
			continue
		}
		if updated.Status.InProgress() {
			inProgress = true
		}
	}
	return inProgress, destroyed, nil
}

// UpdateNodeGroupStatus polls the resource backing ng and applies the next
// status. It returns nil when the nodegroup record was destroyed.
func (d *Driver) UpdateNodeGroupStatus(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup, namespace string) (*cluster.NodeGroup, error) {
	logger := log.FromContext(ctx).WithValues("nodegroup", ng.Name)

	resolved, err := d.resolveNodeGroup(ctx, c, ng, namespace)
	if err != nil {
		return ng, err
	}

	next, destroy := NextNodeGroupStatus(ng, resolved.State)
	if destroy {
		if err := d.store.DestroyNodeGroup(ctx, c, ng.Name); err != nil {
			return ng, fmt.Errorf("failed to destroy nodegroup %s: %w", ng.Name, err)
		}
		logging.LogAuditEvent(logger, logging.EventNodeGroupDestroyed, map[string]string{
			"cluster_uuid": c.UUID,
			"nodegroup":    ng.Name,
		})
		return nil, nil
	}
	if next == ng.Status {
		logger.V(1).Info("Nodegroup status unchanged", "status", ng.Status, "state", resolved.State)
		return ng, nil
	}

	previous := ng.Status
	ng.Status = next
	ng.StatusReason = ""
	if resolved.State == status.StateFailed {
		ng.StatusReason = resolved.Reason
	}
	if err := d.store.SaveNodeGroup(ctx, c, ng); err != nil {
		ng.Status = previous
		return ng, err
	}
	logger.Info("Nodegroup status changed", "from", previous, "to", next)
	return ng, nil
}

func (d *Driver) resolveNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup, namespace string) (status.Result, error) {
	if ng.IsController() {
		kcp, err := d.kube.GetKubeadmControlPlane(ctx, naming.ControlPlaneName(c), namespace)
		if err != nil {
			return status.Result{}, err
		}
		return status.ResolveControlPlane(kcp), nil
	}
	md, err := d.kube.GetMachineDeployment(ctx, naming.NodeGroupName(c, ng), namespace)
	if err != nil {
		return status.Result{}, err
	}
	return status.ResolveMachineDeployment(md), nil
}

// NextNodeGroupStatus is the nodegroup state machine. It returns the next
// status and whether the nodegroup record must be destroyed instead. Only a
// non-default worker nodegroup whose resource is gone during deletion is
// destroyed; every status it does not know is left unchanged.
func NextNodeGroupStatus(ng *cluster.NodeGroup, state status.State) (cluster.Status, bool) {
	switch ng.Status {
	case cluster.StatusCreateInProgress:
		switch state {
		case status.StateReady:
			return cluster.StatusCreateComplete, false
		case status.StateFailed:
			return cluster.StatusCreateFailed, false
		}
	case cluster.StatusUpdateInProgress:
		switch state {
		case status.StateReady:
			return cluster.StatusUpdateComplete, false
		case status.StateFailed:
			return cluster.StatusUpdateFailed, false
		}
	case cluster.StatusDeleteInProgress:
		if state == status.StateNotPresent && !ng.IsDefault && !ng.IsController() {
			return ng.Status, true
		}
	}
	return ng.Status, false
}

// captureAPIAddress records the control plane endpoint once it is known. A
// recorded address is never replaced, and nothing is recorded during deletion.
func (d *Driver) captureAPIAddress(ctx context.Context, c *cluster.Cluster, capiCluster *unstructured.Unstructured) error {
	if c.APIAddress != "" || c.Status == cluster.StatusDeleteInProgress {
		return nil
	}
	host, port, ok := status.ControlPlaneEndpoint(capiCluster)
	if !ok {
		return nil
	}
	c.APIAddress = fmt.Sprintf("%s://%s:%d", constants.ControlPlaneEndpointScheme, host, port)
	if err := d.store.SaveCluster(ctx, c); err != nil {
		c.APIAddress = ""
		return err
	}
	log.FromContext(ctx).Info("Recorded API address", "address", c.APIAddress)
	return nil
}

// updateAggregate completes or fails the cluster once its Ready condition is
// true. Completion additionally waits for every addon to be deployed and for
// every nodegroup to leave its in-progress status. A failed addon fails the
// cluster regardless of the nodegroups.
func (d *Driver) updateAggregate(ctx context.Context, c *cluster.Cluster, capiCluster *unstructured.Unstructured, namespace string, nodeGroupsInProgress bool) error {
	logger := log.FromContext(ctx)
	if !status.IsConditionTrue(capiCluster, constants.ConditionReady) {
		logger.V(1).Info("Cluster not ready", "waiting_on", status.UnmetConditions(capiCluster))
		return nil
	}

	addons, err := d.kube.ListAddons(ctx, constants.LabelAddonCluster, naming.ResourceName(c, ""), namespace)
	if err != nil {
		return err
	}
	resolved := status.ResolveAddons(addons)

	isUpdate := c.Status == cluster.StatusUpdateInProgress
	var next cluster.Status
	switch {
	case resolved.State == status.StateFailed:
		// An update keeps its own failure status rather than CREATE_FAILED.
		next = cluster.StatusCreateFailed
		if isUpdate {
			next = cluster.StatusUpdateFailed
		}
	case resolved.State == status.StatePending:
		logger.V(1).Info("Waiting on addons", "addons", resolved.Unmet)
		return nil
	case nodeGroupsInProgress:
		logger.V(1).Info("Waiting on nodegroups")
		return nil
	default:
		next = cluster.StatusCreateComplete
		if isUpdate {
			next = cluster.StatusUpdateComplete
		}
	}

	previous, previousReason := c.Status, c.StatusReason
	c.Status = next
	c.StatusReason = resolved.Reason
	if err := d.store.SaveCluster(ctx, c); err != nil {
		c.Status, c.StatusReason = previous, previousReason
		return err
	}
	logger.Info("Cluster status changed", "from", previous, "to", next)
	return nil
}

// finishDeletion removes the application credential and every Secret of c,
// then marks the cluster DELETE_COMPLETE. Every step tolerates work that was
// already done.
func (d *Driver) finishDeletion(ctx context.Context, c *cluster.Cluster, namespace string) error {
	logger := log.FromContext(ctx)

	if err := d.cloud.DeleteAppCredential(ctx, c.UserID, appCredentialName(c)); err != nil {
		return fmt.Errorf("failed to delete application credential: %w", err)
	}
	if err := d.kube.DeleteSecretsByLabel(ctx, constants.LabelClusterUUID, c.UUID, namespace); err != nil {
		return err
	}

	c.Status = cluster.StatusDeleteComplete
	c.StatusReason = ""
	if err := d.store.SaveCluster(ctx, c); err != nil {
		c.Status = cluster.StatusDeleteInProgress
		return err
	}
	logging.LogAuditEvent(logger, logging.EventClusterDeleted, map[string]string{
		"cluster_uuid": c.UUID,
		"namespace":    namespace,
		"release":      c.ReleaseID,
	})
	return nil
}
