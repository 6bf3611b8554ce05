package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/status"
	"github.com/dc-tec/capi-helm-driver/internal/store"
)

func TestNextNodeGroupStatus(t *testing.T) {
	tests := []struct {
		name        string
		current     cluster.Status
		isDefault   bool
		role        cluster.Role
		state       status.State
		want        cluster.Status
		wantDestroy bool
	}{
		{"create ready", cluster.StatusCreateInProgress, false, cluster.RoleWorker, status.StateReady, cluster.StatusCreateComplete, false},
		{"update ready", cluster.StatusUpdateInProgress, false, cluster.RoleWorker, status.StateReady, cluster.StatusUpdateComplete, false},
		{"create failed", cluster.StatusCreateInProgress, false, cluster.RoleWorker, status.StateFailed, cluster.StatusCreateFailed, false},
		{"update failed", cluster.StatusUpdateInProgress, false, cluster.RoleWorker, status.StateFailed, cluster.StatusUpdateFailed, false},
		{"create pending", cluster.StatusCreateInProgress, false, cluster.RoleWorker, status.StatePending, cluster.StatusCreateInProgress, false},
		{"create absent is not a failure", cluster.StatusCreateInProgress, false, cluster.RoleWorker, status.StateNotPresent, cluster.StatusCreateInProgress, false},
		{"update absent", cluster.StatusUpdateInProgress, false, cluster.RoleWorker, status.StateNotPresent, cluster.StatusUpdateInProgress, false},
		{"delete absent non-default", cluster.StatusDeleteInProgress, false, cluster.RoleWorker, status.StateNotPresent, cluster.StatusDeleteInProgress, true},
		{"delete absent default", cluster.StatusDeleteInProgress, true, cluster.RoleWorker, status.StateNotPresent, cluster.StatusDeleteInProgress, false},
		{"delete absent controller", cluster.StatusDeleteInProgress, false, cluster.RoleController, status.StateNotPresent, cluster.StatusDeleteInProgress, false},
		{"delete still present", cluster.StatusDeleteInProgress, false, cluster.RoleWorker, status.StatePending, cluster.StatusDeleteInProgress, false},
		{"delete ready", cluster.StatusDeleteInProgress, false, cluster.RoleWorker, status.StateReady, cluster.StatusDeleteInProgress, false},
		{"rollback untouched", cluster.StatusRollbackInProgress, false, cluster.RoleWorker, status.StateReady, cluster.StatusRollbackInProgress, false},
		{"complete untouched", cluster.StatusCreateComplete, false, cluster.RoleWorker, status.StateFailed, cluster.StatusCreateComplete, false},
		{"unknown status untouched", cluster.Status("SOMETHING_ELSE"), false, cluster.RoleWorker, status.StateReady, cluster.Status("SOMETHING_ELSE"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ng := &cluster.NodeGroup{Name: "ng", Role: tt.role, Status: tt.current, IsDefault: tt.isDefault}
			got, destroy := NextNodeGroupStatus(ng, tt.state)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDestroy, destroy)
		})
	}
}

func TestUpdateNodeGroupStatus_DestroysNonDefaultDuringDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := deployedCluster()
	c.Status = cluster.StatusUpdateInProgress
	gpu := &cluster.NodeGroup{Name: "gpu", Role: cluster.RoleWorker, Status: cluster.StatusDeleteInProgress}
	c.NodeGroups = append(c.NodeGroups, gpu)
	c.NodeGroups[1].Status = cluster.StatusDeleteInProgress
	require.NoError(t, h.store.SaveCluster(ctx, c))

	got, err := h.driver.UpdateNodeGroupStatus(ctx, c, gpu, testNamespace)
	require.NoError(t, err)
	assert.Nil(t, got, "destroyed nodegroup must not be returned")
	assert.Nil(t, c.NodeGroup("gpu"))

	stored, err := h.store.GetCluster(ctx, c.UUID)
	require.NoError(t, err)
	assert.Nil(t, stored.NodeGroup("gpu"))

	defaultWorkers := c.NodeGroup("workers")
	got, err = h.driver.UpdateNodeGroupStatus(ctx, c, defaultWorkers, testNamespace)
	require.NoError(t, err)
	require.NotNil(t, got, "the default nodegroup is retained")
	assert.Equal(t, cluster.StatusDeleteInProgress, got.Status)
}

func TestUpdateNodeGroupStatus_FailedRecordsReason(t *testing.T) {
	h := newHarness(t, machineDeployment("workers", "Failed"))
	ctx := context.Background()
	c := deployedCluster()
	require.NoError(t, h.store.SaveCluster(ctx, c))

	got, err := h.driver.UpdateNodeGroupStatus(ctx, c, c.NodeGroup("workers"), testNamespace)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateFailed, got.Status)
	assert.NotEmpty(t, got.StatusReason)

	stored, err := h.store.GetCluster(ctx, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateFailed, stored.NodeGroup("workers").Status)
}

func TestUpdateClusterStatus_NoRelease(t *testing.T) {
	h := newHarness(t)
	c := newCluster()

	result, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, StatusResult{}, result)
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
}

func TestUpdateClusterStatus_CreateCompletes(t *testing.T) {
	h := newHarness(t,
		capiCluster("True", "foo", 6443),
		controlPlane(3, 3),
		machineDeployment("workers", "Running"),
		addon(constants.GVKHelmRelease, "cni", "Deployed"),
		addon(constants.GVKManifests, "csi", "Deployed"),
	)
	ctx := context.Background()
	c := deployedCluster()
	require.NoError(t, h.store.SaveCluster(ctx, c))

	result, err := h.driver.UpdateClusterStatus(ctx, c)
	require.NoError(t, err)
	assert.False(t, result.NodeGroupsInProgress)

	assert.Equal(t, cluster.StatusCreateComplete, c.Status)
	assert.Equal(t, "https://foo:6443", c.APIAddress)
	for _, ng := range c.NodeGroups {
		assert.Equal(t, cluster.StatusCreateComplete, ng.Status, ng.Name)
	}

	stored, err := h.store.GetCluster(ctx, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateComplete, stored.Status)
	assert.Equal(t, "https://foo:6443", stored.APIAddress)
}

func TestUpdateClusterStatus_UpdateCompletes(t *testing.T) {
	h := newHarness(t,
		capiCluster("True", "foo", 6443),
		controlPlane(3, 3),
		machineDeployment("workers", "Running"),
	)
	ctx := context.Background()
	c := deployedCluster()
	c.Status = cluster.StatusUpdateInProgress
	for _, ng := range c.NodeGroups {
		ng.Status = cluster.StatusUpdateInProgress
	}

	_, err := h.driver.UpdateClusterStatus(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusUpdateComplete, c.Status)
}

func TestUpdateClusterStatus_AddonFailure(t *testing.T) {
	for _, tt := range []struct {
		current cluster.Status
		want    cluster.Status
	}{
		{cluster.StatusCreateInProgress, cluster.StatusCreateFailed},
		{cluster.StatusUpdateInProgress, cluster.StatusUpdateFailed},
	} {
		t.Run(string(tt.current), func(t *testing.T) {
			h := newHarness(t,
				capiCluster("True", "", 0),
				addon(constants.GVKHelmRelease, "cni", "Deployed"),
				addon(constants.GVKHelmRelease, "monitoring", "Failed"),
			)
			c := deployedCluster()
			c.Status = tt.current

			_, err := h.driver.UpdateClusterStatus(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Status, "a failed addon fails the cluster even while nodegroups are in progress")
			assert.Contains(t, c.StatusReason, "monitoring")
		})
	}
}

func TestUpdateClusterStatus_WaitsOnAddons(t *testing.T) {
	h := newHarness(t,
		capiCluster("True", "foo", 6443),
		controlPlane(3, 3),
		machineDeployment("workers", "Running"),
		addon(constants.GVKHelmRelease, "cni", "Deployed"),
		addon(constants.GVKHelmRelease, "dashboard", "Unknown"),
		addon(constants.GVKManifests, "csi", ""),
	)
	c := deployedCluster()

	_, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
}

func TestUpdateClusterStatus_WaitsOnNodeGroups(t *testing.T) {
	h := newHarness(t,
		capiCluster("True", "foo", 6443),
		controlPlane(3, 3),
		machineDeployment("workers", "ScalingUp"),
	)
	c := deployedCluster()

	result, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, result.NodeGroupsInProgress)
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
	assert.Equal(t, cluster.StatusCreateComplete, c.ControllerNodeGroup().Status)
	assert.Equal(t, cluster.StatusCreateInProgress, c.NodeGroup("workers").Status)
}

func TestUpdateClusterStatus_NotReady(t *testing.T) {
	h := newHarness(t,
		capiCluster("False", "foo", 6443),
		controlPlane(3, 2),
		machineDeployment("workers", "Running"),
	)
	c := deployedCluster()

	_, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
	assert.Equal(t, cluster.StatusCreateInProgress, c.ControllerNodeGroup().Status, "replica mismatch keeps the control plane pending")
	assert.Equal(t, "https://foo:6443", c.APIAddress, "the endpoint is recorded before the cluster is ready")
}

func TestUpdateClusterStatus_ClusterAbsentDuringCreate(t *testing.T) {
	h := newHarness(t)
	c := deployedCluster()

	result, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, result.NodeGroupsInProgress)
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
	for _, ng := range c.NodeGroups {
		assert.Equal(t, cluster.StatusCreateInProgress, ng.Status)
	}
	assert.Empty(t, c.APIAddress)
}

func TestUpdateClusterStatus_APIAddressNeverOverwritten(t *testing.T) {
	h := newHarness(t, capiCluster("False", "bar", 7443))
	c := deployedCluster()
	c.APIAddress = "https://foo:6443"

	_, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "https://foo:6443", c.APIAddress)
}

func TestCaptureAPIAddress_SkippedDuringDelete(t *testing.T) {
	h := newHarness(t)
	c := deployedCluster()
	c.Status = cluster.StatusDeleteInProgress

	require.NoError(t, h.driver.captureAPIAddress(context.Background(), c, capiCluster("True", "foo", 6443)))
	assert.Empty(t, c.APIAddress)
}

func TestUpdateClusterStatus_DeleteInProgressWhileClusterPresent(t *testing.T) {
	h := newHarness(t, capiCluster("True", "foo", 6443))
	c := deployedCluster()
	c.Status = cluster.StatusDeleteInProgress

	result, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, result.DeleteCompleted)
	assert.Equal(t, cluster.StatusDeleteInProgress, c.Status)
	assert.Empty(t, c.APIAddress, "the API address is never recorded during deletion")
	assert.Empty(t, h.cloud.deletedCreds)
}

func TestUpdateClusterStatus_DeleteCompletes(t *testing.T) {
	owned := map[string]string{constants.LabelClusterUUID: "uuid-1"}
	h := newHarness(t,
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: testRelease + "-cloud-credentials", Namespace: testNamespace, Labels: owned}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: testRelease + "-ca", Namespace: testNamespace, Labels: owned}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: testNamespace}},
	)
	ctx := context.Background()
	c := deployedCluster()
	c.APIAddress = "https://foo:6443"
	c.Status = cluster.StatusDeleteInProgress
	gpu := &cluster.NodeGroup{Name: "gpu", Role: cluster.RoleWorker}
	c.NodeGroups = append(c.NodeGroups, gpu)
	for _, ng := range c.NodeGroups {
		ng.Status = cluster.StatusDeleteInProgress
	}
	require.NoError(t, h.store.SaveCluster(ctx, c))

	result, err := h.driver.UpdateClusterStatus(ctx, c)
	require.NoError(t, err)
	assert.True(t, result.DeleteCompleted)
	assert.Equal(t, []string{"gpu"}, result.DestroyedNodeGroups)
	assert.Equal(t, cluster.StatusDeleteComplete, c.Status)
	assert.Equal(t, "https://foo:6443", c.APIAddress, "deletion never clears the API address")
	assert.Equal(t, []string{"magnum-uuid-1"}, h.cloud.deletedCreds)

	secrets := &corev1.SecretList{}
	require.NoError(t, h.client.List(ctx, secrets, client.InNamespace(testNamespace)))
	require.Len(t, secrets.Items, 1)
	assert.Equal(t, "unrelated", secrets.Items[0].Name)

	stored, err := h.store.GetCluster(ctx, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusDeleteComplete, stored.Status)
	assert.Len(t, stored.NodeGroups, 2)

	// A second pass after completion is a no-op.
	result, err = h.driver.UpdateClusterStatus(ctx, c)
	require.NoError(t, err)
	assert.False(t, result.DeleteCompleted)
	assert.Len(t, h.cloud.deletedCreds, 1)
}

func TestUpdateClusterStatus_PersistFailureLeavesStatus(t *testing.T) {
	h := newHarness(t,
		capiCluster("True", "", 0),
		controlPlane(1, 1),
		machineDeployment("workers", "Running"),
	)
	c := deployedCluster()
	h.driver.store = failingStore{Store: h.store}

	_, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.Error(t, err)
	assert.Equal(t, cluster.StatusCreateInProgress, c.ControllerNodeGroup().Status)
}

type failingStore struct {
	store.Store
}

func (failingStore) SaveNodeGroup(context.Context, *cluster.Cluster, *cluster.NodeGroup) error {
	return apierrors.NewServiceUnavailable("etcd unavailable")
}

var errRead = errors.New("management cluster unavailable")

type erroringClient struct {
	ManagementClient
}

func (erroringClient) GetKubeadmControlPlane(context.Context, string, string) (*unstructured.Unstructured, error) {
	return nil, errRead
}

func TestUpdateClusterStatus_ReadErrorPropagates(t *testing.T) {
	h := newHarness(t)
	c := deployedCluster()
	h.driver.kube = erroringClient{ManagementClient: h.driver.kube}

	_, err := h.driver.UpdateClusterStatus(context.Background(), c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errRead))
	assert.Equal(t, cluster.StatusCreateInProgress, c.Status)
}
