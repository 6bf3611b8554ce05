// Package driver maps Magnum cluster intent onto a Cluster API Helm release and
// folds the status of the resulting Cluster API resources back into the
// cluster and nodegroup records.
//
// Every operation is a single sequential pass. Callers serialize passes per
// cluster; passes for different clusters may run concurrently.
package driver

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
	"github.com/dc-tec/capi-helm-driver/internal/health"
	"github.com/dc-tec/capi-helm-driver/internal/helm"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/openstack"
	"github.com/dc-tec/capi-helm-driver/internal/store"
	"github.com/dc-tec/capi-helm-driver/internal/values"
)

// ManagementClient is the management cluster access the driver needs.
// Getters return (nil, nil) when the resource does not exist.
type ManagementClient interface {
	health.Reader

	ListMachines(ctx context.Context, selector map[string]string, namespace string) ([]unstructured.Unstructured, error)
	ListAddons(ctx context.Context, key, value, namespace string) ([]unstructured.Unstructured, error)
	AnnotateMachine(ctx context.Context, machine *unstructured.Unstructured, key, value string) error

	GetSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error)
	ApplySecret(ctx context.Context, secret *corev1.Secret) error
	DeleteSecretsByLabel(ctx context.Context, key, value, namespace string) error
	EnsureNamespace(ctx context.Context, name string) error
}

// ReleaseManager installs and removes Helm releases.
type ReleaseManager interface {
	InstallOrUpgrade(ctx context.Context, release string, chart helm.Chart, namespace string, values ...map[string]any) (map[string]any, error)
	// Uninstall treats a missing release as success.
	Uninstall(ctx context.Context, release, namespace string) error
}

// CloudResolver resolves OpenStack facts and manages application credentials.
type CloudResolver interface {
	GetImage(ctx context.Context, id string) (*openstack.Image, error)
	GetFlavor(ctx context.Context, idOrName string) (*openstack.Flavor, error)
	ListVolumeTypes(ctx context.Context) ([]string, error)
	ResolveNetwork(ctx context.Context, idOrName string) (string, error)
	ResolveSubnet(ctx context.Context, networkID, idOrName string) (string, error)
	CreateAppCredential(ctx context.Context, userID, name string) (*openstack.AppCredential, error)
	DeleteAppCredential(ctx context.Context, userID, name string) error
	CloudConfig() openstack.CloudConfig
	CACert() []byte
}

// CertificateManager writes the CA Secrets a cluster needs before its release is installed.
type CertificateManager interface {
	EnsureSecrets(ctx context.Context, c *cluster.Cluster, namespace string, labels map[string]string) error
}

// Options configure a Driver.
type Options struct {
	NamespacePrefix    string
	Chart              helm.Chart
	MinimumFlavorRAM   int
	MinimumFlavorVCPUs int
	Values             values.Options
}

// Driver implements the cluster lifecycle operations.
type Driver struct {
	kube    ManagementClient
	helm    ReleaseManager
	cloud   CloudResolver
	certs   CertificateManager
	store   store.Store
	builder *values.Builder
	health  *health.Monitor
	opts    Options
}

// New returns a driver wired to its collaborators.
func New(kube ManagementClient, releases ReleaseManager, cloud CloudResolver, certs CertificateManager, st store.Store, opts Options) *Driver {
	return &Driver{
		kube:    kube,
		helm:    releases,
		cloud:   cloud,
		certs:   certs,
		store:   st,
		builder: values.NewBuilder(opts.Values),
		health:  health.NewMonitor(kube, opts.NamespacePrefix),
		opts:    opts,
	}
}

// Provision describes a server type, OS and COE combination the driver handles.
type Provision struct {
	ServerType string `json:"server_type"`
	OS         string `json:"os"`
	COE        string `json:"coe"`
}

// Provides lists the combinations served by this driver.
func (d *Driver) Provides() []Provision {
	return []Provision{{ServerType: "vm", OS: "ubuntu", COE: "kubernetes"}}
}

// PollHealth reports the health of c without changing it.
func (d *Driver) PollHealth(ctx context.Context, c *cluster.Cluster) (health.Report, error) {
	return d.health.Poll(ctx, c)
}

// CreateFederation is not supported.
func (d *Driver) CreateFederation(context.Context, string) error {
	return operrors.NewNotSupported("create federation")
}

// UpdateFederation is not supported.
func (d *Driver) UpdateFederation(context.Context, string) error {
	return operrors.NewNotSupported("update federation")
}

// DeleteFederation is not supported.
func (d *Driver) DeleteFederation(context.Context, string) error {
	return operrors.NewNotSupported("delete federation")
}

func (d *Driver) namespace(c *cluster.Cluster) string {
	return naming.Namespace(d.opts.NamespacePrefix, c.ProjectID)
}

// ownerLabels identify every Secret the driver applies for c.
func ownerLabels(c *cluster.Cluster) map[string]string {
	return map[string]string{
		constants.LabelProjectID:    c.ProjectID,
		constants.LabelUserID:       c.UserID,
		constants.LabelClusterUUID:  c.UUID,
		constants.LabelAppManagedBy: constants.LabelValueManagedByDriver,
	}
}

func appCredentialName(c *cluster.Cluster) string {
	return constants.AppCredentialNamePrefix + c.UUID
}
