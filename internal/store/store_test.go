package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/kube"
)

func newTestStore(t *testing.T) *ConfigMapStore {
	t.Helper()
	c := fake.NewClientBuilder().WithScheme(kube.NewScheme()).Build()
	return NewConfigMapStore(c, "magnum-driver-system")
}

func testCluster(uuid, name string) *cluster.Cluster {
	return &cluster.Cluster{
		UUID:      uuid,
		Name:      name,
		ProjectID: "project-1",
		Status:    cluster.StatusCreateInProgress,
		Labels:    map[string]string{"kube_tag": "v1.29.2"},
		NodeGroups: []*cluster.NodeGroup{
			{Name: "default-master", Role: cluster.RoleController, NodeCount: 1, IsDefault: true},
			{Name: "default-worker", Role: cluster.RoleWorker, NodeCount: 2, IsDefault: true},
		},
	}
}

func TestSaveAndGetCluster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCluster(ctx, testCluster("uuid-1", "demo")))

	got, err := s.GetCluster(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, cluster.StatusCreateInProgress, got.Status)
	assert.Equal(t, "v1.29.2", got.Labels["kube_tag"])
	require.Len(t, got.NodeGroups, 2)
	assert.Equal(t, cluster.RoleController, got.NodeGroups[0].Role)
}

func TestGetCluster_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCluster(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveCluster_RequiresUUID(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveCluster(context.Background(), &cluster.Cluster{Name: "demo"})
	require.Error(t, err)
}

func TestSaveCluster_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := testCluster("uuid-1", "demo")

	require.NoError(t, s.SaveCluster(ctx, c))
	c.Status = cluster.StatusCreateComplete
	c.APIAddress = "https://10.0.0.1:6443"
	require.NoError(t, s.SaveCluster(ctx, c))

	got, err := s.GetCluster(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusCreateComplete, got.Status)
	assert.Equal(t, "https://10.0.0.1:6443", got.APIAddress)
}

func TestNodeGroupLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := testCluster("uuid-1", "demo")
	require.NoError(t, s.SaveCluster(ctx, c))

	require.NoError(t, s.SaveNodeGroup(ctx, c, &cluster.NodeGroup{Name: "gpu", Role: cluster.RoleWorker, NodeCount: 1}))
	got, err := s.GetCluster(ctx, "uuid-1")
	require.NoError(t, err)
	require.NotNil(t, got.NodeGroup("gpu"))

	require.NoError(t, s.DestroyNodeGroup(ctx, c, "gpu"))
	got, err = s.GetCluster(ctx, "uuid-1")
	require.NoError(t, err)
	assert.Nil(t, got.NodeGroup("gpu"))
	assert.Len(t, got.NodeGroups, 2)
}

func TestDestroyNodeGroup_RestoresRecordWhenSaveFails(t *testing.T) {
	c := testCluster("uuid-1", "demo")
	c.NodeGroups = append(c.NodeGroups[:1], append([]*cluster.NodeGroup{{Name: "gpu", Role: cluster.RoleWorker, NodeCount: 1}}, c.NodeGroups[1:]...)...)

	applyErr := errors.New("apiserver unavailable")
	kc := fake.NewClientBuilder().WithScheme(kube.NewScheme()).WithInterceptorFuncs(interceptor.Funcs{
		Apply: func(ctx context.Context, cl client.WithWatch, obj runtime.ApplyConfiguration, opts ...client.ApplyOption) error {
			return applyErr
		},
	}).Build()
	s := NewConfigMapStore(kc, "magnum-driver-system")

	err := s.DestroyNodeGroup(context.Background(), c, "gpu")
	require.ErrorIs(t, err, applyErr)
	require.Len(t, c.NodeGroups, 3)
	assert.Equal(t, []string{"default-master", "gpu", "default-worker"}, []string{c.NodeGroups[0].Name, c.NodeGroups[1].Name, c.NodeGroups[2].Name})
}

func TestListClusters_Sorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCluster(ctx, testCluster("uuid-2", "zeta")))
	require.NoError(t, s.SaveCluster(ctx, testCluster("uuid-1", "alpha")))

	clusters, err := s.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "alpha", clusters[0].Name)
	assert.Equal(t, "zeta", clusters[1].Name)
}

func TestDeleteCluster_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveCluster(ctx, testCluster("uuid-1", "demo")))

	require.NoError(t, s.DeleteCluster(ctx, "uuid-1"))
	require.NoError(t, s.DeleteCluster(ctx, "uuid-1"))

	_, err := s.GetCluster(ctx, "uuid-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
