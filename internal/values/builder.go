// Package values builds the Helm values tree handed to the openstack-cluster
// chart for a cluster.
package values

import (
	"strings"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
)

// Tree is a nested Helm values document.
type Tree = map[string]any

const (
	defaultOctaviaProvider = "amphora"
	defaultNodeCIDR        = "10.0.0.0/24"
	etcdBlockDeviceVolume  = "Volume"
	etcdBlockDeviceLocal   = "Local"
)

// Image holds the facts resolved from the cluster image.
type Image struct {
	ID          string
	KubeVersion string
	OSDistro    string
}

// Inputs are the externally resolved facts the builder needs.
type Inputs struct {
	Image             Image
	ExternalNetworkID string
	NetworkID         string
	SubnetID          string
	AuthURL           string
	Volumes           VolumeTypes
}

// Options are the driver-wide defaults that apply to every cluster.
type Options struct {
	DefaultBootVolumeType string
	DefaultBootVolumeSize int
	DefaultVolumeType     string
	DefaultVolumeAZ       string
	KeystoneAuthEnabled   bool
}

// Builder renders values trees.
type Builder struct {
	opts Options
}

// NewBuilder returns a builder using opts.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build renders the values tree for c. Nodegroups being deleted are left out so
// the chart removes their machine deployments.
func (b *Builder) Build(c *cluster.Cluster, in Inputs) (Tree, error) {
	labels := NewLabels(c)

	kubeVersion, err := KubernetesVersion(in.Image.KubeVersion)
	if err != nil {
		return nil, err
	}

	rootVolume, err := b.rootVolume(labels)
	if err != nil {
		return nil, err
	}
	etcd, err := b.etcd(labels)
	if err != nil {
		return nil, err
	}
	csiCinder, err := storageClasses(in.Volumes, b.opts)
	if err != nil {
		return nil, err
	}

	autoHealing := labels.Bool(LabelAutoHealingEnabled, true)

	tree := Tree{
		"kubernetesVersion":          kubeVersion,
		"machineImageId":             in.Image.ID,
		"cloudCredentialsSecretName": naming.CloudCredentialsSecretName(c),
		"apiServer":                  apiServer(c, labels),
		"clusterNetworking":          clusterNetworking(c, labels, in),
		"controlPlane":               controlPlane(c, autoHealing, rootVolume),
		"nodeGroupDefaults":          nodeGroupDefaults(autoHealing, rootVolume),
		"nodeGroups":                 nodeGroups(c, labels),
	}
	if in.Image.OSDistro != "" {
		tree["osDistro"] = in.Image.OSDistro
	}
	if keypair := c.Keypair(); keypair != "" {
		tree["machineSSHKeyName"] = keypair
	}
	if etcd != nil {
		tree["etcd"] = etcd
	}

	openstackAddons := Tree{"csiCinder": csiCinder}
	if labels.Bool(LabelKeystoneAuthEnabled, b.opts.KeystoneAuthEnabled) {
		tree["authWebhook"] = constants.KeystoneAuthWebhook
		openstackAddons["k8sKeystoneAuth"] = Tree{
			"enabled": true,
			"values": Tree{
				"openstackAuthUrl": in.AuthURL,
				"projectId":        c.ProjectID,
			},
		}
	}

	tree["addons"] = Tree{
		"openstack":           openstackAddons,
		"monitoring":          Tree{"enabled": labels.Bool(LabelMonitoringEnabled, false)},
		"kubernetesDashboard": Tree{"enabled": labels.Bool(LabelKubeDashboardEnabled, true)},
		"ingress":             Tree{"enabled": labels.Bool(LabelIngressEnabled, false)},
	}

	return tree, nil
}

func apiServer(c *cluster.Cluster, labels Labels) Tree {
	server := Tree{
		"enableLoadBalancer":   c.LoadBalancerEnabled(),
		"loadBalancerProvider": labels.String(LabelOctaviaProvider, defaultOctaviaProvider),
	}
	if cidrs := splitList(labels.String(LabelAPILBAllowedCIDRs, ""), ";"); len(cidrs) > 0 {
		server["allowedCidrs"] = cidrs
	}
	return server
}

func clusterNetworking(c *cluster.Cluster, labels Labels, in Inputs) Tree {
	internal := Tree{
		"nodeCidr": labels.String(LabelFixedSubnetCIDR, defaultNodeCIDR),
	}
	if in.NetworkID != "" {
		internal["networkFilter"] = Tree{"id": in.NetworkID}
	}
	if in.SubnetID != "" {
		internal["subnetFilter"] = Tree{"id": in.SubnetID}
	}

	networking := Tree{"internalNetwork": internal}
	if in.ExternalNetworkID != "" {
		networking["externalNetworkId"] = in.ExternalNetworkID
	}
	// An empty nameserver list is omitted rather than rendered as null.
	if servers := splitList(c.Template.DNSNameserver, ","); len(servers) > 0 {
		networking["dnsNameservers"] = servers
	}
	return networking
}

func controlPlane(c *cluster.Cluster, autoHealing bool, rootVolume Tree) Tree {
	plane := Tree{
		"healthCheck": Tree{"enabled": autoHealing},
	}
	if ng := c.ControllerNodeGroup(); ng != nil {
		plane["machineFlavor"] = ng.FlavorID
		plane["machineCount"] = ng.NodeCount
	}
	if rootVolume != nil {
		plane["machineRootVolume"] = rootVolume
	}
	return plane
}

func nodeGroupDefaults(autoHealing bool, rootVolume Tree) Tree {
	defaults := Tree{
		"healthCheck": Tree{"enabled": autoHealing},
	}
	if rootVolume != nil {
		defaults["machineRootVolume"] = rootVolume
	}
	return defaults
}

func nodeGroups(c *cluster.Cluster, labels Labels) []any {
	autoscale := labels.Bool(LabelAutoScalingEnabled, false)
	groups := []any{}
	for _, ng := range c.WorkerNodeGroups() {
		if ng.Status == cluster.StatusDeleteInProgress {
			continue
		}
		group := Tree{
			"name":          naming.SanitizedName(ng.Name, ""),
			"machineFlavor": ng.FlavorID,
		}
		if autoscale && ng.MaxNodeCount != nil {
			group["autoscale"] = true
			group["machineCountMin"] = ng.MinNodeCount
			group["machineCountMax"] = *ng.MaxNodeCount
		} else {
			group["machineCount"] = ng.NodeCount
		}
		groups = append(groups, group)
	}
	return groups
}

// rootVolume returns the boot volume shared by control plane and workers, or
// nil when machines should boot from the flavor's ephemeral disk.
func (b *Builder) rootVolume(labels Labels) (Tree, error) {
	size, err := labels.Int(LabelBootVolumeSize, b.opts.DefaultBootVolumeSize)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, nil
	}
	volumeType := b.opts.DefaultBootVolumeType
	if volumeType == "" {
		volumeType = b.opts.DefaultVolumeType
	}
	volume := Tree{"diskSize": size}
	if volumeType = labels.String(LabelBootVolumeType, volumeType); volumeType != "" {
		volume["volumeType"] = volumeType
	}
	return volume, nil
}

// etcd resolves the dedicated etcd block device. The etcd_blockdevice_* labels
// win over the legacy etcd_volume_* labels when both are set.
func (b *Builder) etcd(labels Labels) (Tree, error) {
	legacySize, err := labels.Int(LabelEtcdVolumeSizeLegacy, 0)
	if err != nil {
		return nil, err
	}
	size, err := labels.Int(LabelEtcdBlockDeviceSize, legacySize)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, nil
	}

	device := Tree{"size": size}
	if labels.String(LabelEtcdBlockDeviceType, etcdBlockDeviceVolume) == etcdBlockDeviceLocal {
		device["type"] = etcdBlockDeviceLocal
		return Tree{"blockDevice": device}, nil
	}

	device["type"] = etcdBlockDeviceVolume
	volumeType := labels.String(LabelEtcdBlockDeviceVolume, labels.String(LabelEtcdVolumeTypeLegacy, b.opts.DefaultVolumeType))
	if volumeType != "" {
		device["volumeType"] = volumeType
	}
	if az := labels.String(LabelEtcdBlockDeviceAZ, b.opts.DefaultVolumeAZ); az != "" {
		device["availabilityZone"] = az
	}
	return Tree{"blockDevice": device}, nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, item := range strings.Split(raw, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
