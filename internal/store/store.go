// Package store persists cluster records between driver passes.
//
// Each cluster is one ConfigMap in the driver's state namespace holding the
// YAML encoded record under the "cluster.yaml" key. Nodegroups live inside the
// cluster record, so saving a nodegroup rewrites the whole ConfigMap.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
	"github.com/dc-tec/capi-helm-driver/internal/kube"
)

const (
	recordKey        = "cluster.yaml"
	configMapPrefix  = "cluster-"
	defaultNamespace = "magnum-driver-system"
)

// ErrNotFound is returned when no record exists for a cluster.
var ErrNotFound = errors.New("cluster record not found")

// Store is the persistence the driver needs for cluster and nodegroup records.
type Store interface {
	GetCluster(ctx context.Context, uuid string) (*cluster.Cluster, error)
	ListClusters(ctx context.Context) ([]*cluster.Cluster, error)
	SaveCluster(ctx context.Context, c *cluster.Cluster) error
	SaveNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup) error
	DestroyNodeGroup(ctx context.Context, c *cluster.Cluster, name string) error
	DeleteCluster(ctx context.Context, uuid string) error
}

// ConfigMapStore implements Store on ConfigMaps.
type ConfigMapStore struct {
	client    client.Client
	namespace string
}

// NewConfigMapStore returns a store writing to namespace.
func NewConfigMapStore(c client.Client, namespace string) *ConfigMapStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &ConfigMapStore{client: c, namespace: namespace}
}

func configMapName(uuid string) string {
	return configMapPrefix + uuid
}

// GetCluster loads the record for uuid.
func (s *ConfigMapStore) GetCluster(ctx context.Context, uuid string) (*cluster.Cluster, error) {
	cm := &corev1.ConfigMap{}
	key := types.NamespacedName{Namespace: s.namespace, Name: configMapName(uuid)}
	if err := s.client.Get(ctx, key, cm); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uuid)
		}
		return nil, operrors.WrapTransientKubernetesAPI(fmt.Errorf("failed to get cluster record %s: %w", uuid, err))
	}
	return decode(cm)
}

// ListClusters returns every stored record ordered by name then uuid.
func (s *ConfigMapStore) ListClusters(ctx context.Context) ([]*cluster.Cluster, error) {
	list := &corev1.ConfigMapList{}
	err := s.client.List(ctx, list,
		client.InNamespace(s.namespace),
		client.MatchingLabels{
			constants.LabelAppManagedBy: constants.LabelValueManagedByDriver,
			constants.LabelAppComponent: constants.LabelValueComponentState,
		},
	)
	if err != nil {
		return nil, operrors.WrapTransientKubernetesAPI(fmt.Errorf("failed to list cluster records: %w", err))
	}

	clusters := make([]*cluster.Cluster, 0, len(list.Items))
	for i := range list.Items {
		c, err := decode(&list.Items[i])
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Name != clusters[j].Name {
			return clusters[i].Name < clusters[j].Name
		}
		return clusters[i].UUID < clusters[j].UUID
	})
	return clusters, nil
}

// SaveCluster writes the full record, nodegroups included.
func (s *ConfigMapStore) SaveCluster(ctx context.Context, c *cluster.Cluster) error {
	if c.UUID == "" {
		return operrors.NewConfigError("cluster %q has no uuid", c.Name)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cluster record %s: %w", c.UUID, err)
	}

	cm := &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(c.UUID),
			Namespace: s.namespace,
			Labels: map[string]string{
				constants.LabelAppManagedBy: constants.LabelValueManagedByDriver,
				constants.LabelAppComponent: constants.LabelValueComponentState,
				constants.LabelClusterUUID:  c.UUID,
				constants.LabelProjectID:    c.ProjectID,
			},
		},
		Data: map[string]string{recordKey: string(data)},
	}
	if err := kube.Apply(ctx, s.client, cm, constants.FieldOwner); err != nil {
		return operrors.WrapTransientKubernetesAPI(err)
	}
	return nil
}

// SaveNodeGroup writes ng into the cluster record, adding it when it is new.
func (s *ConfigMapStore) SaveNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup) error {
	if c.NodeGroup(ng.Name) == nil {
		c.NodeGroups = append(c.NodeGroups, ng)
	}
	return s.SaveCluster(ctx, c)
}

// DestroyNodeGroup removes the named nodegroup from the record. When the
// record cannot be written the nodegroup is put back in its old position.
func (s *ConfigMapStore) DestroyNodeGroup(ctx context.Context, c *cluster.Cluster, name string) error {
	previous := slices.Clone(c.NodeGroups)
	if !c.RemoveNodeGroup(name) {
		return s.SaveCluster(ctx, c)
	}
	if err := s.SaveCluster(ctx, c); err != nil {
		c.NodeGroups = previous
		return err
	}
	return nil
}

// DeleteCluster removes the record. A missing record is not an error.
func (s *ConfigMapStore) DeleteCluster(ctx context.Context, uuid string) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: configMapName(uuid), Namespace: s.namespace},
	}
	if err := s.client.Delete(ctx, cm); err != nil && !apierrors.IsNotFound(err) {
		return operrors.WrapTransientKubernetesAPI(fmt.Errorf("failed to delete cluster record %s: %w", uuid, err))
	}
	return nil
}

func decode(cm *corev1.ConfigMap) (*cluster.Cluster, error) {
	raw, ok := cm.Data[recordKey]
	if !ok {
		return nil, fmt.Errorf("configmap %s/%s has no %s key", cm.Namespace, cm.Name, recordKey)
	}
	c := &cluster.Cluster{}
	if err := yaml.Unmarshal([]byte(raw), c); err != nil {
		return nil, fmt.Errorf("failed to decode cluster record %s: %w", cm.Name, err)
	}
	return c, nil
}
