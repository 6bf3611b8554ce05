package openstack

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"
	gcopenstack "github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumetypes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/applicationcredentials"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
	"sigs.k8s.io/controller-runtime/pkg/log"

	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// Options select the OpenStack endpoints used by the driver.
type Options struct {
	Region     string
	Interface  string
	CACertFile string
	// Roles granted to application credentials. Empty inherits all roles of the user.
	AppCredentialRoles []string
}

// Client talks to OpenStack with gophercloud.
type Client struct {
	authURL  string
	opts     Options
	caCert   []byte
	compute  *gophercloud.ServiceClient
	image    *gophercloud.ServiceClient
	volume   *gophercloud.ServiceClient
	network  *gophercloud.ServiceClient
	identity *gophercloud.ServiceClient
}

// NewClientFromEnv authenticates with the OS_* environment variables.
func NewClientFromEnv(ctx context.Context, opts Options) (*Client, error) {
	authOpts, err := gcopenstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, operrors.WrapPermanentConfig(fmt.Errorf("failed to read OpenStack credentials: %w", err))
	}

	provider, err := gcopenstack.AuthenticatedClient(ctx, authOpts)
	if err != nil {
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to authenticate to OpenStack: %w", err))
	}

	c := &Client{authURL: authOpts.IdentityEndpoint, opts: opts}
	if opts.CACertFile != "" {
		if c.caCert, err = os.ReadFile(opts.CACertFile); err != nil {
			return nil, fmt.Errorf("failed to read OpenStack CA certificate: %w", err)
		}
	}

	eo := gophercloud.EndpointOpts{Region: opts.Region, Availability: availability(opts.Interface)}
	if c.compute, err = gcopenstack.NewComputeV2(provider, eo); err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	if c.image, err = gcopenstack.NewImageV2(provider, eo); err != nil {
		return nil, fmt.Errorf("failed to create image client: %w", err)
	}
	if c.volume, err = gcopenstack.NewBlockStorageV3(provider, eo); err != nil {
		return nil, fmt.Errorf("failed to create block storage client: %w", err)
	}
	if c.network, err = gcopenstack.NewNetworkV2(provider, eo); err != nil {
		return nil, fmt.Errorf("failed to create network client: %w", err)
	}
	if c.identity, err = gcopenstack.NewIdentityV3(provider, eo); err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}
	return c, nil
}

// CloudConfig returns the settings written into cluster clouds.yaml files.
func (c *Client) CloudConfig() CloudConfig {
	return CloudConfig{
		AuthURL:   c.authURL,
		Region:    c.opts.Region,
		Interface: c.opts.Interface,
		Verify:    true,
	}
}

// CACert returns the CA bundle used to verify OpenStack endpoints, if any.
func (c *Client) CACert() []byte {
	return c.caCert
}

// GetImage fetches an image and its kube_version and os_distro properties.
func (c *Client) GetImage(ctx context.Context, id string) (*Image, error) {
	image, err := images.Get(ctx, c.image, id).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return nil, operrors.NewConfigError("image %s does not exist", id)
		}
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to get image %s: %w", id, err))
	}

	out := &Image{ID: image.ID, Name: image.Name}
	if v, ok := image.Properties[ImagePropertyKubeVersion].(string); ok {
		out.KubeVersion = v
	}
	if v, ok := image.Properties[ImagePropertyOSDistro].(string); ok {
		out.OSDistro = v
	}
	return out, nil
}

// GetFlavor fetches a flavor by ID, falling back to a lookup by name.
func (c *Client) GetFlavor(ctx context.Context, idOrName string) (*Flavor, error) {
	flavor, err := flavors.Get(ctx, c.compute, idOrName).Extract()
	if err == nil {
		return &Flavor{ID: flavor.ID, Name: flavor.Name, RAM: flavor.RAM, VCPUs: flavor.VCPUs}, nil
	}
	if !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to get flavor %s: %w", idOrName, err))
	}

	pages, err := flavors.ListDetail(c.compute, flavors.ListOpts{AccessType: flavors.AllAccess}).AllPages(ctx)
	if err != nil {
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to list flavors: %w", err))
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract flavors: %w", err)
	}
	for _, f := range all {
		if f.Name == idOrName {
			return &Flavor{ID: f.ID, Name: f.Name, RAM: f.RAM, VCPUs: f.VCPUs}, nil
		}
	}
	return nil, operrors.NewConfigError("flavor %s does not exist", idOrName)
}

// ListVolumeTypes returns the names of the volume types visible to the project.
func (c *Client) ListVolumeTypes(ctx context.Context) ([]string, error) {
	pages, err := volumetypes.List(c.volume, volumetypes.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to list volume types: %w", err))
	}
	types, err := volumetypes.ExtractVolumeTypes(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract volume types: %w", err)
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name)
	}
	return names, nil
}

// ResolveNetwork returns the ID of the network with the given ID or name.
func (c *Client) ResolveNetwork(ctx context.Context, idOrName string) (string, error) {
	if network, err := networks.Get(ctx, c.network, idOrName).Extract(); err == nil {
		return network.ID, nil
	} else if !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return "", operrors.WrapTransientConnection(fmt.Errorf("failed to get network %s: %w", idOrName, err))
	}

	pages, err := networks.List(c.network, networks.ListOpts{Name: idOrName}).AllPages(ctx)
	if err != nil {
		return "", operrors.WrapTransientConnection(fmt.Errorf("failed to list networks: %w", err))
	}
	found, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract networks: %w", err)
	}
	switch len(found) {
	case 0:
		return "", operrors.NewConfigError("network %s does not exist", idOrName)
	case 1:
		return found[0].ID, nil
	default:
		return "", operrors.NewConfigError("network name %s is ambiguous", idOrName)
	}
}

// ResolveSubnet returns the ID of the subnet with the given ID or name on networkID.
func (c *Client) ResolveSubnet(ctx context.Context, networkID, idOrName string) (string, error) {
	if subnet, err := subnets.Get(ctx, c.network, idOrName).Extract(); err == nil {
		return subnet.ID, nil
	} else if !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return "", operrors.WrapTransientConnection(fmt.Errorf("failed to get subnet %s: %w", idOrName, err))
	}

	pages, err := subnets.List(c.network, subnets.ListOpts{Name: idOrName, NetworkID: networkID}).AllPages(ctx)
	if err != nil {
		return "", operrors.WrapTransientConnection(fmt.Errorf("failed to list subnets: %w", err))
	}
	found, err := subnets.ExtractSubnets(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract subnets: %w", err)
	}
	if len(found) != 1 {
		return "", operrors.NewConfigError("subnet %s does not resolve to exactly one subnet", idOrName)
	}
	return found[0].ID, nil
}

// CreateAppCredential creates an application credential named name for userID.
func (c *Client) CreateAppCredential(ctx context.Context, userID, name string) (*AppCredential, error) {
	opts := applicationcredentials.CreateOpts{
		Name:        name,
		Description: "Magnum cluster credential",
		Secret:      uuid.NewString(),
	}
	for _, role := range c.opts.AppCredentialRoles {
		opts.Roles = append(opts.Roles, applicationcredentials.Role{Name: role})
	}

	cred, err := applicationcredentials.Create(ctx, c.identity, userID, opts).Extract()
	if err != nil {
		return nil, operrors.WrapTransientConnection(fmt.Errorf("failed to create application credential %s: %w", name, err))
	}
	return &AppCredential{ID: cred.ID, Name: cred.Name, Secret: cred.Secret}, nil
}

// DeleteAppCredential deletes every application credential of userID named name.
// Deleting a credential that is already gone is not an error.
func (c *Client) DeleteAppCredential(ctx context.Context, userID, name string) error {
	logger := log.FromContext(ctx)

	pages, err := applicationcredentials.List(c.identity, userID, applicationcredentials.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return operrors.WrapTransientConnection(fmt.Errorf("failed to list application credentials: %w", err))
	}
	creds, err := applicationcredentials.ExtractApplicationCredentials(pages)
	if err != nil {
		return fmt.Errorf("failed to extract application credentials: %w", err)
	}

	for _, cred := range creds {
		err := applicationcredentials.Delete(ctx, c.identity, userID, cred.ID).ExtractErr()
		if err != nil && !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return operrors.WrapTransientConnection(fmt.Errorf("failed to delete application credential %s: %w", cred.ID, err))
		}
		logger.V(1).Info("Deleted application credential", "credential", cred.ID)
	}
	return nil
}

func availability(iface string) gophercloud.Availability {
	switch strings.ToLower(iface) {
	case "internal":
		return gophercloud.AvailabilityInternal
	case "admin":
		return gophercloud.AvailabilityAdmin
	default:
		return gophercloud.AvailabilityPublic
	}
}
