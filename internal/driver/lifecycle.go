package driver

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
	"github.com/dc-tec/capi-helm-driver/internal/logging"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/openstack"
	"github.com/dc-tec/capi-helm-driver/internal/values"
)

// EnsureReleaseID mints the release name of c the first time it is needed and
// persists it before it is used anywhere else. It never changes an existing id.
func (d *Driver) EnsureReleaseID(ctx context.Context, c *cluster.Cluster) error {
	if c.ReleaseID != "" {
		return nil
	}
	c.ReleaseID = naming.GenerateReleaseName(c.Name)
	if err := d.store.SaveCluster(ctx, c); err != nil {
		c.ReleaseID = ""
		return fmt.Errorf("failed to persist release id: %w", err)
	}
	logging.LogAuditEvent(log.FromContext(ctx), logging.EventReleaseIDGenerated, map[string]string{
		"cluster_uuid": c.UUID,
		"release":      c.ReleaseID,
	})
	return nil
}

// ValidateMasterSize rejects an even number of control plane machines.
func ValidateMasterSize(count int) error {
	if count%2 == 0 {
		return operrors.NewConfigError("masters must be an odd number, got %d", count)
	}
	return nil
}

// CreateCluster validates c, mints its release id and installs the release.
// The timeout is accepted for API compatibility; completion is observed by
// UpdateClusterStatus.
func (d *Driver) CreateCluster(ctx context.Context, c *cluster.Cluster, _ time.Duration) error {
	logger := log.FromContext(ctx).WithValues("cluster_uuid", c.UUID, "cluster_name", c.Name)
	ctx = log.IntoContext(ctx, logger)

	if err := d.validateNodeGroupFlavors(ctx, c.NodeGroups...); err != nil {
		return err
	}
	if cp := c.ControllerNodeGroup(); cp != nil {
		if err := ValidateMasterSize(cp.NodeCount); err != nil {
			return err
		}
	}

	if _, err := d.resolveImage(ctx, c.Template.ImageID); err != nil {
		return err
	}

	if err := d.EnsureReleaseID(ctx, c); err != nil {
		return err
	}

	namespace := d.namespace(c)
	if err := d.kube.EnsureNamespace(ctx, namespace); err != nil {
		return err
	}
	if err := d.ensureCloudCredentials(ctx, c, namespace); err != nil {
		return err
	}
	if err := d.certs.EnsureSecrets(ctx, c, namespace, ownerLabels(c)); err != nil {
		return fmt.Errorf("failed to ensure CA secrets: %w", err)
	}

	c.Status = cluster.StatusCreateInProgress
	for _, ng := range c.NodeGroups {
		ng.Status = cluster.StatusCreateInProgress
	}
	return d.reconcileRelease(ctx, c, d.saveCluster(ctx, c))
}

// UpdateCluster re-renders the release with the current cluster state.
func (d *Driver) UpdateCluster(ctx context.Context, c *cluster.Cluster) error {
	c.Status = cluster.StatusUpdateInProgress
	return d.reconcileRelease(ctx, c, d.saveCluster(ctx, c))
}

// ResizeCluster sets the machine count of ng. Machines named in nodesToRemove,
// by Machine or Node name, are marked so Cluster API removes them first.
func (d *Driver) ResizeCluster(ctx context.Context, c *cluster.Cluster, nodeCount int, nodesToRemove []string, ng *cluster.NodeGroup) error {
	if ng == nil {
		ng = c.DefaultWorkerNodeGroup()
	}
	if ng == nil {
		return operrors.NewConfigError("cluster %s has no nodegroup to resize", c.Name)
	}
	if ng.IsController() {
		if err := ValidateMasterSize(nodeCount); err != nil {
			return err
		}
	}

	if len(nodesToRemove) > 0 && !ng.IsController() {
		if err := d.markMachinesForDeletion(ctx, c, ng, nodesToRemove); err != nil {
			return err
		}
	}

	ng.NodeCount = nodeCount
	ng.Status = cluster.StatusUpdateInProgress
	c.Status = cluster.StatusUpdateInProgress
	return d.reconcileRelease(ctx, c, d.saveCluster(ctx, c))
}

// UpgradeCluster moves c to template. Upgrading a single non-default
// nodegroup is not supported.
func (d *Driver) UpgradeCluster(ctx context.Context, c *cluster.Cluster, template cluster.Template, _ int, ng *cluster.NodeGroup) error {
	if ng != nil && !ng.IsDefault {
		return operrors.NewNotSupported("upgrade of a non-default nodegroup")
	}

	// Validate the new image before anything is persisted.
	if _, err := d.resolveImage(ctx, template.ImageID); err != nil {
		return err
	}

	c.Template = template
	c.Status = cluster.StatusUpdateInProgress
	for _, group := range c.NodeGroups {
		group.ImageID = template.ImageID
		group.Status = cluster.StatusUpdateInProgress
	}
	return d.reconcileRelease(ctx, c, d.saveCluster(ctx, c))
}

// DeleteCluster marks c for deletion and uninstalls its release. Completion
// and cleanup happen in UpdateClusterStatus once the Cluster resource is gone.
func (d *Driver) DeleteCluster(ctx context.Context, c *cluster.Cluster) error {
	c.Status = cluster.StatusDeleteInProgress
	for _, ng := range c.NodeGroups {
		ng.Status = cluster.StatusDeleteInProgress
	}
	if err := d.store.SaveCluster(ctx, c); err != nil {
		return err
	}
	if c.ReleaseID == "" {
		return nil
	}
	if err := d.helm.Uninstall(ctx, c.ReleaseID, d.namespace(c)); err != nil {
		return fmt.Errorf("failed to uninstall release %s: %w", c.ReleaseID, err)
	}
	return nil
}

// CreateNodeGroup adds ng to c and re-renders the release. The cluster moves
// to UPDATE_IN_PROGRESS so status passes follow the nodegroup to completion.
func (d *Driver) CreateNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup) error {
	if ng.IsController() {
		return operrors.NewNotSupported("creating additional control plane nodegroups")
	}
	if err := d.validateNodeGroupFlavors(ctx, ng); err != nil {
		return err
	}
	if existing := c.NodeGroup(ng.Name); existing != nil && existing != ng {
		return operrors.NewConfigError("nodegroup %s already exists", ng.Name)
	}
	ng.Status = cluster.StatusCreateInProgress
	c.Status = cluster.StatusUpdateInProgress
	if c.NodeGroup(ng.Name) == nil {
		c.NodeGroups = append(c.NodeGroups, ng)
	}
	return d.reconcileRelease(ctx, c, func() error { return d.store.SaveNodeGroup(ctx, c, ng) })
}

// UpdateNodeGroup re-renders the release after ng changed.
func (d *Driver) UpdateNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup) error {
	if err := d.validateNodeGroupFlavors(ctx, ng); err != nil {
		return err
	}
	ng.Status = cluster.StatusUpdateInProgress
	c.Status = cluster.StatusUpdateInProgress
	return d.reconcileRelease(ctx, c, func() error { return d.store.SaveNodeGroup(ctx, c, ng) })
}

// DeleteNodeGroup drops ng from the rendered values. The record is destroyed
// by UpdateClusterStatus once its MachineDeployment is gone.
func (d *Driver) DeleteNodeGroup(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup) error {
	if ng.IsController() {
		return operrors.NewNotSupported("deleting the control plane nodegroup")
	}
	ng.Status = cluster.StatusDeleteInProgress
	c.Status = cluster.StatusUpdateInProgress
	return d.reconcileRelease(ctx, c, func() error { return d.store.SaveNodeGroup(ctx, c, ng) })
}

func (d *Driver) saveCluster(ctx context.Context, c *cluster.Cluster) func() error {
	return func() error { return d.store.SaveCluster(ctx, c) }
}

// reconcileRelease resolves the external facts of c and renders the values,
// then runs persist and installs or upgrades the release. Nothing is persisted
// when rendering fails.
func (d *Driver) reconcileRelease(ctx context.Context, c *cluster.Cluster, persist func() error) error {
	if c.ReleaseID == "" {
		return fmt.Errorf("cluster %s has no release id", c.UUID)
	}
	namespace := d.namespace(c)
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "release", c.ReleaseID)

	inputs, err := d.resolveInputs(ctx, c)
	if err != nil {
		return err
	}
	tree, err := d.builder.Build(c, inputs)
	if err != nil {
		return err
	}

	chart := d.opts.Chart
	chart.Version = values.ChartVersion(values.NewLabels(c), d.opts.Chart.Version)

	if err := persist(); err != nil {
		return err
	}

	if _, err := d.helm.InstallOrUpgrade(ctx, c.ReleaseID, chart, namespace, tree); err != nil {
		return fmt.Errorf("failed to install release %s: %w", c.ReleaseID, err)
	}
	logger.Info("Release installed", "chart", chart.Name, "version", chart.Version)
	return nil
}

func (d *Driver) resolveImage(ctx context.Context, imageID string) (values.Image, error) {
	if imageID == "" {
		return values.Image{}, operrors.NewConfigError("no image configured")
	}
	image, err := d.cloud.GetImage(ctx, imageID)
	if err != nil {
		return values.Image{}, err
	}
	if image.KubeVersion == "" {
		return values.Image{}, operrors.NewConfigError("image %s does not have a %s property",
			imageID, openstack.ImagePropertyKubeVersion)
	}
	if _, err := values.KubernetesVersion(image.KubeVersion); err != nil {
		return values.Image{}, err
	}
	return values.Image{ID: image.ID, KubeVersion: image.KubeVersion, OSDistro: image.OSDistro}, nil
}

func (d *Driver) resolveInputs(ctx context.Context, c *cluster.Cluster) (values.Inputs, error) {
	var in values.Inputs

	image, err := d.resolveImage(ctx, c.Template.ImageID)
	if err != nil {
		return in, err
	}
	in.Image = image

	if c.Template.ExternalNetworkID != "" {
		if in.ExternalNetworkID, err = d.cloud.ResolveNetwork(ctx, c.Template.ExternalNetworkID); err != nil {
			return in, err
		}
	}

	network, subnet := c.Network()
	if network != "" {
		if in.NetworkID, err = d.cloud.ResolveNetwork(ctx, network); err != nil {
			return in, err
		}
	}
	if subnet != "" {
		if in.SubnetID, err = d.cloud.ResolveSubnet(ctx, in.NetworkID, subnet); err != nil {
			return in, err
		}
	}

	names, err := d.cloud.ListVolumeTypes(ctx)
	if err != nil {
		return in, err
	}
	in.Volumes = values.VolumeTypes{Names: names}
	in.AuthURL = d.cloud.CloudConfig().AuthURL
	return in, nil
}

func (d *Driver) validateNodeGroupFlavors(ctx context.Context, groups ...*cluster.NodeGroup) error {
	for _, ng := range groups {
		if ng.FlavorID == "" {
			return operrors.NewConfigError("nodegroup %s has no flavor", ng.Name)
		}
		flavor, err := d.cloud.GetFlavor(ctx, ng.FlavorID)
		if err != nil {
			return err
		}
		if err := openstack.ValidateFlavor(flavor, d.opts.MinimumFlavorRAM, d.opts.MinimumFlavorVCPUs); err != nil {
			return err
		}
	}
	return nil
}

// ensureCloudCredentials creates the application credential for c and stores
// it as a clouds.yaml Secret. An existing Secret is kept so the credential is
// created once per cluster.
func (d *Driver) ensureCloudCredentials(ctx context.Context, c *cluster.Cluster, namespace string) error {
	name := naming.CloudCredentialsSecretName(c)
	existing, err := d.kube.GetSecret(ctx, name, namespace)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	cred, err := d.cloud.CreateAppCredential(ctx, c.UserID, appCredentialName(c))
	if err != nil {
		return err
	}
	cloudsYAML, err := openstack.CloudsYAML(cred, d.cloud.CloudConfig())
	if err != nil {
		return err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    ownerLabels(c),
		},
		Data: map[string][]byte{
			constants.SecretKeyCloudsYAML: cloudsYAML,
		},
	}
	if caCert := d.cloud.CACert(); len(caCert) > 0 {
		secret.Data[constants.SecretKeyCACert] = caCert
	}
	if err := d.kube.ApplySecret(ctx, secret); err != nil {
		return err
	}
	log.FromContext(ctx).Info("Created cloud credentials", "secret", name)
	return nil
}

func (d *Driver) markMachinesForDeletion(ctx context.Context, c *cluster.Cluster, ng *cluster.NodeGroup, nodes []string) error {
	namespace := d.namespace(c)
	machines, err := d.kube.ListMachines(ctx, map[string]string{
		constants.MachineClusterNameLabel:    naming.ResourceName(c, ""),
		constants.MachineDeploymentNameLabel: naming.NodeGroupName(c, ng),
	}, namespace)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		wanted[n] = true
	}
	logger := log.FromContext(ctx)
	for i := range machines {
		if !wanted[machines[i].GetName()] && !wanted[nodeRefName(&machines[i])] {
			continue
		}
		if err := d.kube.AnnotateMachine(ctx, &machines[i], constants.DeleteMachineAnnotation, "true"); err != nil {
			return err
		}
		logger.Info("Marked machine for removal", "machine", machines[i].GetName(), "nodegroup", ng.Name)
	}
	return nil
}

func nodeRefName(machine *unstructured.Unstructured) string {
	name, _, _ := unstructured.NestedString(machine.Object, "status", "nodeRef", "name")
	return name
}
