// Package health produces a read-only health summary of a cluster from the
// Cluster API resources backing it.
package health

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/status"
)

// Keys of the reason map returned by Poll.
const (
	ReasonKeyCluster        = "cluster"
	ReasonKeyInfrastructure = "infrastructure"
	ReasonKeyControlPlane   = "controlplane"
	ReasonKeyNodeGroup      = "nodegroup"
)

// Reader is the read-only subset of the management client used by the monitor.
type Reader interface {
	GetCluster(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error)
	GetOpenStackCluster(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error)
	GetKubeadmControlPlane(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error)
	GetMachineDeployment(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error)
}

// Monitor polls cluster health. It never mutates the cluster record.
type Monitor struct {
	reader          Reader
	namespacePrefix string
}

// NewMonitor returns a monitor reading resources in namespaces under namespacePrefix.
func NewMonitor(reader Reader, namespacePrefix string) *Monitor {
	return &Monitor{reader: reader, namespacePrefix: namespacePrefix}
}

// Report is the outcome of one health poll.
type Report struct {
	Status  cluster.HealthStatus
	Reasons map[string]string
}

// Poll resolves the health of c. A cluster without a release has not been
// deployed yet and reports UNKNOWN.
func (m *Monitor) Poll(ctx context.Context, c *cluster.Cluster) (Report, error) {
	if c.ReleaseID == "" {
		return Report{Status: cluster.HealthStatusUnknown}, nil
	}
	namespace := naming.Namespace(m.namespacePrefix, c.ProjectID)
	name := naming.ResourceName(c, "")
	logger := log.FromContext(ctx).WithValues("cluster_uuid", c.UUID, "namespace", namespace)

	reasons := make(map[string]string, 4)

	capiCluster, err := m.reader.GetCluster(ctx, name, namespace)
	if err != nil {
		return Report{Status: cluster.HealthStatusUnknown}, err
	}
	reasons[ReasonKeyCluster] = conditionsReason(capiCluster, constants.HealthReasonClusterNotFound)

	infra, err := m.reader.GetOpenStackCluster(ctx, name, namespace)
	if err != nil {
		return Report{Status: cluster.HealthStatusUnknown}, err
	}
	reasons[ReasonKeyInfrastructure] = resultReason(status.ResolveInfrastructure(infra))

	controlPlane, err := m.reader.GetKubeadmControlPlane(ctx, naming.ControlPlaneName(c), namespace)
	if err != nil {
		return Report{Status: cluster.HealthStatusUnknown}, err
	}
	reasons[ReasonKeyControlPlane] = conditionsReason(controlPlane, constants.HealthReasonControlPlaneNotFound)

	nodeGroups, err := m.nodeGroupsReason(ctx, c, namespace)
	if err != nil {
		return Report{Status: cluster.HealthStatusUnknown}, err
	}
	reasons[ReasonKeyNodeGroup] = nodeGroups

	report := Report{Status: cluster.HealthStatusHealthy, Reasons: reasons}
	for _, reason := range reasons {
		if reason != constants.HealthReasonReady {
			report.Status = cluster.HealthStatusUnhealthy
			break
		}
	}
	logger.V(1).Info("Polled cluster health", "health", report.Status)
	return report, nil
}

func (m *Monitor) nodeGroupsReason(ctx context.Context, c *cluster.Cluster, namespace string) (string, error) {
	var problems []string
	for _, ng := range c.WorkerNodeGroups() {
		md, err := m.reader.GetMachineDeployment(ctx, naming.NodeGroupName(c, ng), namespace)
		if err != nil {
			return "", err
		}
		if md == nil {
			problems = append(problems, fmt.Sprintf("%s resource not found.", ng.Name))
			continue
		}
		if unmet := status.UnmetConditions(md); len(unmet) > 0 {
			problems = append(problems, fmt.Sprintf("%s waiting on %s", ng.Name, status.FormatConditionTypes(unmet)))
		}
	}
	if len(problems) == 0 {
		return constants.HealthReasonReady, nil
	}
	return strings.Join(problems, ","), nil
}

func conditionsReason(obj *unstructured.Unstructured, notFound string) string {
	if obj == nil {
		return notFound
	}
	return resultReason(status.ResolveConditions(obj))
}

func resultReason(r status.Result) string {
	if r.Ready() {
		return constants.HealthReasonReady
	}
	return r.Reason
}
